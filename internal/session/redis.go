package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys in Redis.
const DefaultKeyPrefix = "inboxqa:session:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Addr is used when URL is empty.
	URL      string
	Addr     string
	Password string
	DB       int

	KeyPrefix string

	// Timeout is the idle session lifetime, applied as the key TTL.
	Timeout time.Duration

	// EncryptionKey enables AES-256-GCM for stored tokens when set.
	EncryptionKey []byte
}

// RedisStore keeps sessions in Redis or Valkey. Every Save rewrites the key
// with a fresh TTL, so idle expiry is handled by the server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	cipher *Cipher
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
	} else {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store, err := NewRedisStoreWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client. URL and Addr are ignored.
func NewRedisStoreWithClient(client redis.UniversalClient, cfg RedisConfig) (*RedisStore, error) {
	c, err := NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.Timeout, cipher: c}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s.decode(data)
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Update writes with XX so a session deleted by logout is not recreated.
func (s *RedisStore) Update(ctx context.Context, sess *Session) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.key(sess.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	if s.ttl <= 0 {
		return nil
	}
	ok, err := s.client.Expire(ctx, s.key(id), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// encode serializes sess with its tokens sealed by the store cipher.
func (s *RedisStore) encode(sess *Session) ([]byte, error) {
	rec := sess.clone()
	if rec.LastAccess.IsZero() {
		rec.LastAccess = time.Now()
	}

	var err error
	if rec.Credential.AccessToken, err = s.cipher.Encrypt(rec.Credential.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if rec.Credential.RefreshToken, err = s.cipher.Encrypt(rec.Credential.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func (s *RedisStore) decode(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	var err error
	if sess.Credential.AccessToken, err = s.cipher.Decrypt(sess.Credential.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if sess.Credential.RefreshToken, err = s.cipher.Decrypt(sess.Credential.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &sess, nil
}

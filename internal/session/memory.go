package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/inboxqa/internal/logging"
)

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the timeout are dropped lazily on access and by a periodic sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
	onExpire []func(id string)
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ ExpiryNotifier = (*MemoryStore)(nil)
)

// NewMemoryStore creates a store with the given idle timeout and starts its
// cleanup loop. Call Close to stop it.
func NewMemoryStore(timeout, cleanupInterval time.Duration, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

// OnExpire registers fn to run for every session removed by idle expiry.
func (s *MemoryStore) OnExpire(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = append(s.onExpire, fn)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.expired(sess, time.Now()) {
		delete(s.sessions, id)
		hooks := s.onExpire
		s.mu.Unlock()
		s.notify(hooks, id)
		return nil, ErrNotFound
	}
	c := sess.clone()
	s.mu.Unlock()
	return c, nil
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := sess.clone()
	if c.LastAccess.IsZero() {
		c.LastAccess = time.Now()
	}
	s.sessions[c.ID] = c
	return nil
}

func (s *MemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[sess.ID]
	if !ok || s.expired(cur, time.Now()) {
		return ErrNotFound
	}
	c := sess.clone()
	c.LastAccess = time.Now()
	s.sessions[c.ID] = c
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastAccess = time.Now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) expired(sess *Session, now time.Time) bool {
	return s.timeout > 0 && now.Sub(sess.LastAccess) > s.timeout
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.Lock()
	var removed []string
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	hooks := s.onExpire
	s.mu.Unlock()

	for _, id := range removed {
		s.notify(hooks, id)
	}
	if len(removed) > 0 {
		s.logger.Debug("Cleaned up idle sessions", "count", len(removed))
	}
}

func (s *MemoryStore) notify(hooks []func(string), id string) {
	for _, fn := range hooks {
		fn(id)
	}
	s.logger.Debug("Session expired", logging.Session(id))
}

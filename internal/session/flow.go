package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStateTTL bounds how long a consent round trip may take.
const DefaultStateTTL = 10 * time.Minute

var (
	ErrStateNotFound = errors.New("authorization state not found")
	ErrStateExpired  = errors.New("authorization state expired")
)

// StateStore tracks OAuth state parameters between the consent redirect and
// the callback. Each state can be consumed once.
type StateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStateStore creates a state store and starts its cleanup loop.
func NewStateStore(ttl time.Duration, logger *slog.Logger) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &StateStore{
		states: make(map[string]time.Time),
		ttl:    ttl,
		logger: logger,
		stop:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Mint creates and remembers a new random state.
func (s *StateStore) Mint() string {
	state := uuid.NewString()

	s.mu.Lock()
	s.states[state] = time.Now().Add(s.ttl)
	s.mu.Unlock()

	return state
}

// Consume validates state and removes it so it cannot be replayed.
func (s *StateStore) Consume(state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.states[state]
	if !ok {
		return ErrStateNotFound
	}
	delete(s.states, state)

	if time.Now().After(expiresAt) {
		return ErrStateExpired
	}
	return nil
}

// Close stops the cleanup loop.
func (s *StateStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *StateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
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

func (s *StateStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	deleted := 0
	for state, expiresAt := range s.states {
		if now.After(expiresAt) {
			delete(s.states, state)
			deleted++
		}
	}
	if deleted > 0 {
		s.logger.Debug("Cleaned up OAuth states", "states_deleted", deleted)
	}
}

package document

import (
	"context"
	"sync"
	"time"
)

// DefaultEvictionInterval is how often RunEviction sweeps idle slots.
const DefaultEvictionInterval = time.Minute

// Document is the extracted text of an uploaded PDF.
type Document struct {
	Text       string
	Pages      int
	UploadedAt time.Time
}

type slot struct {
	doc        Document
	lastAccess time.Time
}

// Store keeps at most one Document per session. Slots not touched for
// longer than the idle timeout are dropped by EvictIdle, so documents of
// sessions that expire without a logout do not outlive them.
type Store struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[string]*slot)}
}

// Put replaces the session's document.
func (s *Store) Put(sessionID string, d Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[sessionID] = &slot{doc: d, lastAccess: time.Now()}
}

// Peek returns the session's document, if any, and marks the slot as accessed.
func (s *Store) Peek(sessionID string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[sessionID]
	if !ok {
		return Document{}, false
	}
	sl.lastAccess = time.Now()
	return sl.doc, true
}

// Touch marks the session's slot as accessed. It is a no-op for empty slots.
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[sessionID]; ok {
		sl.lastAccess = time.Now()
	}
}

// Clear empties the session's slot. It is also used as a session end hook.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, sessionID)
}

// EvictIdle drops slots last accessed more than idle before now and
// returns their session IDs.
func (s *Store) EvictIdle(idle time.Duration, now time.Time) []string {
	if idle <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sl := range s.slots {
		if now.Sub(sl.lastAccess) > idle {
			delete(s.slots, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done. onEvict,
// when set, receives the IDs dropped by each sweep.
func (s *Store) RunEviction(ctx context.Context, idle, interval time.Duration, onEvict func(ids []string)) {
	if idle <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if ids := s.EvictIdle(idle, now); len(ids) > 0 && onEvict != nil {
				onEvict(ids)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of populated slots.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

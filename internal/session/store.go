package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is an authenticated browser session.
type Session struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Credential Credential `json:"credential"`
	CreatedAt  time.Time  `json:"created_at"`
	LastAccess time.Time  `json:"last_access"`
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}

// Store persists sessions by ID.
type Store interface {
	// Get returns a copy of the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces the session and resets its idle timer.
	Save(ctx context.Context, s *Session) error

	// Update replaces an existing session and resets its idle timer. It
	// returns ErrNotFound when the session was deleted or has expired.
	Update(ctx context.Context, s *Session) error

	// Touch resets the idle timer without rewriting the session.
	Touch(ctx context.Context, id string) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

// ExpiryNotifier is implemented by stores that can report idle expiry.
type ExpiryNotifier interface {
	OnExpire(fn func(id string))
}

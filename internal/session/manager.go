package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/google"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
)

// DefaultRefreshThreshold is how close to expiry an access token is renewed.
const DefaultRefreshThreshold = 5 * time.Minute

// DefaultRefreshTimeout bounds a shared token refresh, which outlives the
// request that started it.
const DefaultRefreshTimeout = 30 * time.Second

// MsgUnauthorized is the client-facing message for every auth failure.
const MsgUnauthorized = "Unauthorized"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store  Store
	OAuth  google.OAuthClient
	States *StateStore

	// RefreshThreshold defaults to DefaultRefreshThreshold.
	RefreshThreshold time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Manager implements the sign-in flow and session lookups.
type Manager struct {
	store     Store
	oauth     google.OAuthClient
	states    *StateStore
	threshold time.Duration
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger

	refreshes singleflight.Group

	mu    sync.RWMutex
	onEnd []func(id string)
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.OAuth == nil {
		return nil, fmt.Errorf("oauth client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	states := cfg.States
	if states == nil {
		states = NewStateStore(DefaultStateTTL, logger)
	}
	threshold := cfg.RefreshThreshold
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}

	m := &Manager{
		store:     cfg.Store,
		oauth:     cfg.OAuth,
		states:    states,
		threshold: threshold,
		logger:    logging.WithService(logger, "session"),
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
	}

	if n, ok := cfg.Store.(ExpiryNotifier); ok {
		n.OnExpire(m.expired)
	}
	return m, nil
}

// OnEnd registers fn to run whenever a session ends by logout or expiry.
func (m *Manager) OnEnd(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

// Begin mints a CSRF state and returns the consent URL.
func (m *Manager) Begin() string {
	return m.oauth.Begin(m.states.Mint())
}

// Complete validates state, exchanges code and creates a new session.
func (m *Manager) Complete(ctx context.Context, code, state string) (*Session, error) {
	if err := m.states.Consume(state); err != nil {
		m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, apperr.UnauthenticatedWrap("Login failed", err)
	}

	grant, err := m.oauth.Complete(ctx, code)
	if err != nil {
		m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		m.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{Action: instrumentation.AuditActionLogin, Error: err})
		return nil, apperr.UnauthenticatedWrap("Login failed", err)
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		Email:      grant.Email,
		Credential: CredentialFromToken(grant.Token),
		CreatedAt:  now,
		LastAccess: now,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	m.metrics.IncrementActiveSessions(ctx)
	m.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Action:    instrumentation.AuditActionLogin,
		UserEmail: sess.Email,
		SessionID: sess.ID,
		Success:   true,
	})
	m.logger.Info("Session created", logging.Session(sess.ID), logging.Domain(sess.Email))

	return sess, nil
}

// Current returns the live session for id and marks it as accessed.
func (m *Manager) Current(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, apperr.Unauthenticated(MsgUnauthorized)
	}

	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated(MsgUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := m.store.Touch(ctx, id); err != nil {
		m.logger.Warn("Failed to touch session", logging.Session(id), logging.Err(err))
	}
	sess.LastAccess = time.Now()
	return sess, nil
}

// End deletes the session. Ending an unknown session is a no-op.
func (m *Manager) End(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.metrics.DecrementActiveSessions(ctx)
	m.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Action:    instrumentation.AuditActionLogout,
		UserEmail: sess.Email,
		SessionID: id,
		Success:   true,
	})
	m.runOnEnd(id)
	return nil
}

// Credentials returns a valid access token for the session, refreshing it
// first when it expires within the refresh threshold. Any failure to
// produce a token is Unauthenticated.
func (m *Manager) Credentials(ctx context.Context, id string) (*oauth2.Token, error) {
	sess, err := m.Current(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Credential.Empty() {
		return nil, apperr.Unauthenticated(MsgUnauthorized)
	}
	if !sess.Credential.ExpiresWithin(m.threshold) {
		return sess.Credential.Token(), nil
	}

	v, err, _ := m.refreshes.Do(id, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultRefreshTimeout)
		defer cancel()
		return m.refresh(rctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (m *Manager) refresh(ctx context.Context, id string) (*oauth2.Token, error) {
	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated(MsgUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Credential.ExpiresWithin(m.threshold) {
		return sess.Credential.Token(), nil
	}

	logger := logging.WithOperation(m.logger, instrumentation.OperationRefresh)

	if sess.Credential.RefreshToken == "" {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
		m.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
			Action:    instrumentation.AuditActionExpired,
			UserEmail: sess.Email,
			SessionID: id,
		})
		return nil, apperr.UnauthenticatedWrap(MsgUnauthorized, google.ErrNoRefreshToken)
	}

	tok, err := m.oauth.Refresh(ctx, sess.Credential.Token())
	if err != nil {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		m.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
			Action:    instrumentation.AuditActionRefresh,
			UserEmail: sess.Email,
			SessionID: id,
			Error:     err,
		})
		logger.Warn("Token refresh failed", logging.Session(id), logging.Err(err))
		return nil, apperr.UnauthenticatedWrap(MsgUnauthorized, err)
	}

	refreshed := CredentialFromToken(tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = sess.Credential.RefreshToken
	}
	sess.Credential = refreshed
	sess.LastAccess = time.Now()

	err = m.store.Update(ctx, sess)
	if errors.Is(err, ErrNotFound) {
		// Logged out or expired while the refresh was in flight.
		logger.Debug("Session ended during token refresh", logging.Session(id))
		return nil, apperr.Unauthenticated(MsgUnauthorized)
	}
	if err != nil {
		// The new token is still usable for this request.
		logger.Warn("Failed to save refreshed token", logging.Session(id), logging.Err(err))
	}

	m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	m.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Action:    instrumentation.AuditActionRefresh,
		UserEmail: sess.Email,
		SessionID: id,
		Success:   true,
	})
	logger.Debug("Token refreshed",
		logging.Session(id),
		"access_token", logging.SanitizeToken(refreshed.AccessToken),
		"expiry", refreshed.Expiry,
	)

	return refreshed.Token(), nil
}

// Close stops background cleanup and closes the store.
func (m *Manager) Close() error {
	m.states.Close()
	return m.store.Close()
}

func (m *Manager) expired(id string) {
	m.metrics.DecrementActiveSessions(context.Background())
	m.audit.LogAuthEvent(context.Background(), instrumentation.AuthEvent{
		Action:    instrumentation.AuditActionExpired,
		SessionID: id,
		Success:   true,
	})
	m.runOnEnd(id)
}

func (m *Manager) runOnEnd(id string) {
	m.mu.RLock()
	hooks := m.onEnd
	m.mu.RUnlock()

	for _, fn := range hooks {
		fn(id)
	}
}

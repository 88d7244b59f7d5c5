package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/google"
)

type fakeOAuth struct {
	grant      *google.Grant
	completeFn func(code string) error
	refreshTok *oauth2.Token
	refreshErr error
	refreshFn  func()
	refreshes  atomic.Int32
	lastState  string
}

func (f *fakeOAuth) Begin(state string) string {
	f.lastState = state
	return "https://accounts.example.com/consent?state=" + state
}

func (f *fakeOAuth) Complete(_ context.Context, code string) (*google.Grant, error) {
	if f.completeFn != nil {
		if err := f.completeFn(code); err != nil {
			return nil, err
		}
	}
	return f.grant, nil
}

func (f *fakeOAuth) Refresh(ctx context.Context, _ *oauth2.Token) (*oauth2.Token, error) {
	f.refreshes.Add(1)
	if f.refreshFn != nil {
		f.refreshFn()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshTok, nil
}

func newTestManager(t *testing.T, oauth *fakeOAuth) (*Manager, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore(time.Hour, time.Hour, nil)
	m, err := NewManager(ManagerConfig{Store: store, OAuth: oauth})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, store
}

func signIn(t *testing.T, m *Manager, oauth *fakeOAuth) *Session {
	t.Helper()
	m.Begin()
	sess, err := m.Complete(context.Background(), "code", oauth.lastState)
	require.NoError(t, err)
	return sess
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(ManagerConfig{OAuth: &fakeOAuth{}})
	assert.Error(t, err)

	_, err = NewManager(ManagerConfig{Store: NewMemoryStore(time.Hour, time.Hour, nil)})
	assert.Error(t, err)
}

func TestManager_SignInFlow(t *testing.T) {
	oauth := &fakeOAuth{grant: &google.Grant{
		Email: "alice@example.com",
		Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)},
	}}
	m, _ := newTestManager(t, oauth)

	url := m.Begin()
	assert.Contains(t, url, oauth.lastState)

	sess, err := m.Complete(context.Background(), "code", oauth.lastState)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice@example.com", sess.Email)

	cur, err := m.Current(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", cur.Email)

	// The state was consumed by the first callback.
	_, err = m.Complete(context.Background(), "code", oauth.lastState)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestManager_CompleteFailures(t *testing.T) {
	oauth := &fakeOAuth{completeFn: func(string) error { return errors.New("invalid_grant") }}
	m, store := newTestManager(t, oauth)

	_, err := m.Complete(context.Background(), "code", "never-minted")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	m.Begin()
	_, err = m.Complete(context.Background(), "code", oauth.lastState)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Equal(t, 0, store.Len(), "no session on failure")
}

func TestManager_CurrentUnauthenticated(t *testing.T) {
	m, _ := newTestManager(t, &fakeOAuth{})

	_, err := m.Current(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	_, err = m.Current(context.Background(), "unknown")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	_, err = m.Credentials(context.Background(), "unknown")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestManager_EndRunsHooks(t *testing.T) {
	oauth := &fakeOAuth{grant: &google.Grant{Email: "a@example.com", Token: &oauth2.Token{AccessToken: "a"}}}
	m, _ := newTestManager(t, oauth)

	var ended []string
	m.OnEnd(func(id string) { ended = append(ended, id) })

	sess := signIn(t, m, oauth)
	require.NoError(t, m.End(context.Background(), sess.ID))
	assert.Equal(t, []string{sess.ID}, ended)

	_, err := m.Current(context.Background(), sess.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	// Idempotent.
	assert.NoError(t, m.End(context.Background(), sess.ID))
	assert.NoError(t, m.End(context.Background(), ""))
	assert.Len(t, ended, 1)
}

func TestManager_ExpiryRunsHooks(t *testing.T) {
	oauth := &fakeOAuth{}
	m, store := newTestManager(t, oauth)

	var ended []string
	m.OnEnd(func(id string) { ended = append(ended, id) })

	require.NoError(t, store.Save(context.Background(), &Session{ID: "idle", LastAccess: time.Now().Add(-2 * time.Hour)}))
	store.cleanupExpired()
	assert.Equal(t, []string{"idle"}, ended)
}

func TestManager_CredentialsFresh(t *testing.T) {
	oauth := &fakeOAuth{grant: &google.Grant{
		Email: "a@example.com",
		Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)},
	}}
	m, _ := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	tok, err := m.Credentials(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, int32(0), oauth.refreshes.Load())
}

func TestManager_CredentialsRefreshesAndPersists(t *testing.T) {
	oauth := &fakeOAuth{
		grant: &google.Grant{
			Email: "a@example.com",
			Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Minute)},
		},
		refreshTok: &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)},
	}
	m, store := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	tok, err := m.Credentials(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken, "old refresh token is kept")

	stored, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.Credential.AccessToken)
	assert.Equal(t, "r1", stored.Credential.RefreshToken)

	// Now fresh: no second refresh.
	_, err = m.Credentials(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), oauth.refreshes.Load())
}

func TestManager_CredentialsRefreshFailure(t *testing.T) {
	oauth := &fakeOAuth{
		grant: &google.Grant{
			Email: "a@example.com",
			Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)},
		},
		refreshErr: errors.New("invalid_grant"),
	}
	m, _ := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	_, err := m.Credentials(context.Background(), sess.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestManager_CredentialsNoRefreshToken(t *testing.T) {
	oauth := &fakeOAuth{grant: &google.Grant{
		Email: "a@example.com",
		Token: &oauth2.Token{AccessToken: "a1", Expiry: time.Now().Add(-time.Minute)},
	}}
	m, _ := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	_, err := m.Credentials(context.Background(), sess.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.ErrorIs(t, err, google.ErrNoRefreshToken)
	assert.Equal(t, int32(0), oauth.refreshes.Load())
}

func TestManager_ConcurrentRefreshCollapses(t *testing.T) {
	oauth := &fakeOAuth{
		grant: &google.Grant{
			Email: "a@example.com",
			Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)},
		},
		refreshTok: &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)},
	}
	m, _ := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Credentials(context.Background(), sess.ID)
			assert.NoError(t, err)
			assert.Equal(t, "a2", tok.AccessToken)
		}()
	}
	wg.Wait()

	// Later callers either joined the flight or found the persisted token.
	assert.Equal(t, int32(1), oauth.refreshes.Load())
}

func TestManager_LogoutDuringRefreshStaysLoggedOut(t *testing.T) {
	oauth := &fakeOAuth{
		grant: &google.Grant{
			Email: "a@example.com",
			Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)},
		},
		refreshTok: &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)},
	}
	m, store := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	var ended []string
	m.OnEnd(func(id string) { ended = append(ended, id) })

	// Log out while the token exchange is in flight.
	oauth.refreshFn = func() {
		require.NoError(t, m.End(context.Background(), sess.ID))
	}

	_, err := m.Credentials(context.Background(), sess.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, err = m.Current(context.Background(), sess.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []string{sess.ID}, ended)
}

func TestManager_RefreshSurvivesCallerCancel(t *testing.T) {
	oauth := &fakeOAuth{
		grant: &google.Grant{
			Email: "a@example.com",
			Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)},
		},
		refreshTok: &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)},
	}
	m, store := newTestManager(t, oauth)
	sess := signIn(t, m, oauth)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tok, err := m.Credentials(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)

	stored, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.Credential.AccessToken)
}

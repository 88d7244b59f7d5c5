package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/teemow/inboxqa/internal/instrumentation"
)

// ErrNoRefreshToken is returned by Refresh when the credential cannot be renewed.
var ErrNoRefreshToken = errors.New("no refresh token available")

// Grant is the outcome of a completed authorization.
type Grant struct {
	Token *oauth2.Token
	Email string
}

// OAuthClient is the provider side of the authorization-code flow.
type OAuthClient interface {
	// Begin returns the consent URL carrying state.
	Begin(state string) string

	// Complete exchanges an authorization code and resolves the account email.
	Complete(ctx context.Context, code string) (*Grant, error)

	// Refresh obtains a new access token using token's refresh token.
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes defaults to DefaultScopes.
	Scopes []string

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint

	// UserInfoEndpoint overrides the base URL of the userinfo API.
	UserInfoEndpoint string

	// HTTPClient is used for token and userinfo requests when set.
	HTTPClient *http.Client

	Metrics *instrumentation.Metrics
}

// Client implements OAuthClient for Google accounts.
type Client struct {
	config           *oauth2.Config
	httpClient       *http.Client
	userInfoEndpoint string
	metrics          *instrumentation.Metrics
}

var _ OAuthClient = (*Client)(nil)

// NewClient creates a Google OAuth client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google client ID and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	return &Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient:       cfg.HTTPClient,
		userInfoEndpoint: cfg.UserInfoEndpoint,
		metrics:          cfg.Metrics,
	}, nil
}

// Begin returns the consent screen URL. Offline access and a forced consent
// prompt guarantee a refresh token even on repeat sign-ins.
func (c *Client) Begin(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Complete exchanges code for tokens and looks up the account email.
func (c *Client) Complete(ctx context.Context, code string) (grant *Grant, err error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceGoogleOAuth, instrumentation.OperationExchange)
	defer func() { instrumentation.EndSpan(span, err) }()

	ctx = c.withHTTPClient(ctx)

	start := time.Now()
	token, err := c.config.Exchange(ctx, code)
	c.record(ctx, instrumentation.OperationExchange, err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}

	email, err := c.userEmail(ctx, token)
	if err != nil {
		return nil, err
	}

	return &Grant{Token: token, Email: email}, nil
}

// Refresh forces a token refresh regardless of the current expiry.
// The previous refresh token is kept when Google omits a new one.
func (c *Client) Refresh(ctx context.Context, token *oauth2.Token) (refreshed *oauth2.Token, err error) {
	if token == nil || token.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceGoogleOAuth, instrumentation.OperationRefresh)
	defer func() { instrumentation.EndSpan(span, err) }()

	ctx = c.withHTTPClient(ctx)

	// An empty access token makes the token source treat the credential as invalid.
	stale := &oauth2.Token{RefreshToken: token.RefreshToken}

	start := time.Now()
	refreshed, err = c.config.TokenSource(ctx, stale).Token()
	c.record(ctx, instrumentation.OperationRefresh, err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	return refreshed, nil
}

func (c *Client) userEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))),
	}
	if c.userInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.userInfoEndpoint))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo service: %w", err)
	}

	start := time.Now()
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	c.record(ctx, instrumentation.OperationUserInfo, err, start)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("user info has no email address")
	}

	return info.Email, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) record(ctx context.Context, operation string, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordUpstreamOperation(ctx, instrumentation.ServiceGoogleOAuth, operation, status, time.Since(start))
}

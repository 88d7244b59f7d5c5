package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/breaker"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
)

// Defaults for Config.
const (
	DefaultMaxResults  = 10
	DefaultConcurrency = 5
	DefaultTimeout     = 30 * time.Second
)

// Client-facing failure messages.
const (
	MsgFetchFailed = "Failed to fetch emails"
	MsgSendFailed  = "Failed to send reply"
)

// CredentialProvider returns a valid access token for a session.
type CredentialProvider interface {
	Credentials(ctx context.Context, sessionID string) (*oauth2.Token, error)
}

// Config configures a Gateway.
type Config struct {
	Credentials CredentialProvider

	// MaxResults is the list page size.
	MaxResults int64

	// Concurrency caps parallel message fetches.
	Concurrency int

	// Timeout bounds a whole list or send operation.
	Timeout time.Duration

	// Endpoint and HTTPClient override the API base URL and transport.
	Endpoint   string
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Gateway performs Gmail operations on behalf of sessions.
type Gateway struct {
	creds       CredentialProvider
	maxResults  int64
	concurrency int
	timeout     time.Duration
	endpoint    string
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// NewGateway creates a Gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential provider is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		creds:       cfg.Credentials,
		maxResults:  cfg.MaxResults,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		endpoint:    cfg.Endpoint,
		httpClient:  cfg.HTTPClient,
		logger:      logging.WithService(logger, instrumentation.ServiceGmail),
		metrics:     cfg.Metrics,
	}
	if g.maxResults <= 0 {
		g.maxResults = DefaultMaxResults
	}
	if g.concurrency <= 0 {
		g.concurrency = DefaultConcurrency
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	g.cb = breaker.New("gmail-api", breaker.Settings{Counts: isServerFault}, g.logger)

	return g, nil
}

// ListMessages returns the most recent inbox messages in provider order.
// A failure fetching any single message fails the whole list.
func (g *Gateway) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var list *gmail.ListMessagesResponse
	err = g.call(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		var err error
		list, err = svc.Users.Messages.List("me").MaxResults(g.maxResults).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, g.classify(ctx, MsgFetchFailed, err)
	}

	msgs := make([]Message, len(list.Messages))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, ref := range list.Messages {
		eg.Go(func() error {
			return g.call(egctx, instrumentation.OperationGet, func(ctx context.Context) error {
				m, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
				if err != nil {
					return fmt.Errorf("failed to get message %s: %w", ref.Id, err)
				}
				msgs[i] = toMessage(m)
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, g.classify(ctx, MsgFetchFailed, err)
	}

	g.logger.Debug("Listed messages", logging.Session(sessionID), "count", len(msgs))
	return msgs, nil
}

// SendReply validates r and sends it into its thread. It is not retried.
func (g *Gateway) SendReply(ctx context.Context, sessionID string, r Reply) error {
	if err := r.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, sessionID)
	if err != nil {
		return err
	}

	var sent *gmail.Message
	err = g.call(ctx, instrumentation.OperationSend, func(ctx context.Context) error {
		var err error
		sent, err = svc.Users.Messages.Send("me", &gmail.Message{
			Raw:      r.Raw(),
			ThreadId: r.ThreadID,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return g.classify(ctx, MsgSendFailed, err)
	}

	g.logger.Info("Reply sent", logging.Session(sessionID), logging.MessageID(sent.Id))
	return nil
}

// service builds a Gmail client bound to the session's current token.
func (g *Gateway) service(ctx context.Context, sessionID string) (*gmail.Service, error) {
	tok, err := g.creds.Credentials(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	base := ctx
	if g.httpClient != nil {
		base = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(base, oauth2.StaticTokenSource(tok))),
	}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.Upstream(MsgFetchFailed, fmt.Errorf("failed to create Gmail service: %w", err))
	}
	return svc, nil
}

// call runs fn through the breaker inside a client span and records metrics.
func (g *Gateway) call(ctx context.Context, operation string, fn func(context.Context) error) (err error) {
	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceGmail, operation)
	start := time.Now()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
		}
		duration := time.Since(start)
		g.metrics.RecordUpstreamOperation(ctx, instrumentation.ServiceGmail, operation, status, duration)
		instrumentation.EndSpan(span, err)
		g.logger.DebugContext(ctx, "Upstream call",
			logging.Operation(operation),
			logging.Status(status),
			"duration_ms", duration.Milliseconds(),
		)
	}()

	_, err = g.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// classify maps a Gmail failure onto the error taxonomy.
func (g *Gateway) classify(ctx context.Context, msg string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		g.logger.WarnContext(ctx, "Gmail rejected credential", logging.Err(err))
		return apperr.UnauthenticatedWrap("Unauthorized", err)
	}

	if breaker.IsOpen(err) {
		g.logger.WarnContext(ctx, "Gmail circuit open", logging.Err(err))
	} else {
		g.logger.ErrorContext(ctx, msg, logging.Err(err))
	}
	return apperr.Upstream(msg, err)
}

// isServerFault reports whether err should count against the breaker.
func isServerFault(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

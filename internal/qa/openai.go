package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"

	"github.com/teemow/inboxqa/internal/breaker"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
)

// Defaults for OpenAIConfig.
const (
	DefaultModel   = "gpt-4"
	DefaultTimeout = 60 * time.Second
)

// ErrNoChoices is returned when the model responds without a completion.
var ErrNoChoices = errors.New("model returned no completion choices")

// OpenAIConfig configures an OpenAI completer.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points at any OpenAI-compatible API. Empty uses api.openai.com.
	BaseURL string

	// Model defaults to DefaultModel.
	Model string

	// Timeout bounds a single completion call.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// OpenAI completes prompts through the Chat Completions API.
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

var _ Completer = (*OpenAI)(nil)

// NewOpenAI creates a completer. Requests are not retried.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		cb:      breaker.New("openai", breaker.Settings{Counts: isServerFault}, logger),
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Model returns the configured model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Complete sends prompt as a single user message and returns the first
// choice's content verbatim.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (answer string, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationComplete)
	start := time.Now()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
		}
		duration := time.Since(start)
		o.metrics.RecordUpstreamOperation(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationComplete, status, duration)
		instrumentation.EndSpan(span, err)
		o.logger.DebugContext(ctx, "Upstream call",
			logging.Service(instrumentation.ServiceOpenAI),
			logging.Operation(instrumentation.OperationComplete),
			logging.Status(status),
			"model", o.model,
			"duration_ms", duration.Milliseconds(),
		)
	}()

	v, err := o.cb.Execute(func() (interface{}, error) {
		completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: openai.ChatModel(o.model),
		})
		if err != nil {
			return nil, err
		}
		if len(completion.Choices) == 0 {
			return nil, ErrNoChoices
		}
		return completion.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return v.(string), nil
}

// isServerFault counts 5xx, 429 and transport failures against the breaker.
func isServerFault(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoChoices)
}

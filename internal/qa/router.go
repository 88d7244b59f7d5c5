package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
)

// Client-facing messages.
const (
	MsgQuestionRequired = "Question is required"
	MsgAskFailed        = "Failed to get answer from OpenAI"

	// NoDocumentAnswer is returned without a model call when the session
	// has no document.
	NoDocumentAnswer = "I don’t have any reference document uploaded. Please upload a PDF first."
)

// Completer turns a prompt into a model answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DocumentSource returns the text of a session's document, or "".
type DocumentSource interface {
	Peek(sessionID string) string
}

// Router answers questions grounded in the session's document.
type Router struct {
	docs      DocumentSource
	completer Completer
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
}

// NewRouter creates a Router.
func NewRouter(docs DocumentSource, completer Completer, logger *slog.Logger, metrics *instrumentation.Metrics) (*Router, error) {
	if docs == nil || completer == nil {
		return nil, fmt.Errorf("document source and completer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		docs:      docs,
		completer: completer,
		logger:    logging.WithService(logger, "qa"),
		metrics:   metrics,
	}, nil
}

// Ask answers question using the session's document.
func (r *Router) Ask(ctx context.Context, sessionID, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", apperr.Validation(MsgQuestionRequired)
	}

	text := r.docs.Peek(sessionID)
	if text == "" {
		r.metrics.RecordQuestion(ctx, instrumentation.QuestionNoDocument)
		return NoDocumentAnswer, nil
	}

	answer, err := r.completer.Complete(ctx, Prompt(text, question))
	if err != nil {
		r.metrics.RecordQuestion(ctx, instrumentation.QuestionError)
		r.logger.ErrorContext(ctx, "Completion failed", logging.Session(sessionID), logging.Err(err))
		return "", apperr.Upstream(MsgAskFailed, err)
	}

	r.metrics.RecordQuestion(ctx, instrumentation.QuestionAnswered)
	return answer, nil
}

// Prompt builds the grounding prompt sent as the single user message.
func Prompt(document, question string) string {
	return "Here is a document:\n" + document + "\n\nAnswer the following question:\n\"" + question + "\""
}

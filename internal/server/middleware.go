package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
	"github.com/teemow/inboxqa/internal/session"
)

type contextKey int

const sessionKey contextKey = iota

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// routePattern returns the matched chi pattern, which keeps metric
// cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// instrument logs and records every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx, span := instrumentation.StartSpan(r.Context(), "HTTP "+r.Method)
		r = r.WithContext(ctx)

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		duration := time.Since(start)

		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String(instrumentation.SpanAttrRoute, route),
			attribute.Int("http.status_code", rec.status),
		)
		var spanErr error
		if rec.status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("status %d", rec.status)
		}
		instrumentation.EndSpan(span, spanErr)

		s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, duration)
		s.logger.Debug("Request",
			"method", r.Method,
			logging.Route(route),
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"trace_id", instrumentation.GetTraceID(r.Context()),
		)
	})
}

// requireSession rejects requests without a live session and stores the
// session in the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Current(r.Context(), s.sessionID(r))
		if err != nil {
			s.writeError(w, r, err, "Unauthorized")
			return
		}
		s.docs.Touch(sess.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey).(*session.Session)
	return sess
}

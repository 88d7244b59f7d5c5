package instrumentation

import (
	"context"
	"log/slog"

	"github.com/teemow/inboxqa/internal/logging"
)

// Authentication audit actions.
const (
	AuditActionLogin   = "login"
	AuditActionLogout  = "logout"
	AuditActionRefresh = "refresh"
	AuditActionExpired = "expired"
)

// AuthEvent describes a change in a session's authentication state.
type AuthEvent struct {
	Action    string
	UserEmail string
	SessionID string
	Success   bool
	Error     error
}

// AuditLogger writes authentication events to a dedicated log stream.
// Emails are anonymized unless IncludePII is set.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an audit logger. A nil logger uses slog.Default.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With("audit", true),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogAuthEvent records ev. A nil or disabled AuditLogger does nothing.
func (al *AuditLogger) LogAuthEvent(ctx context.Context, ev AuthEvent) {
	if al == nil || !al.enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("action", ev.Action),
		slog.Bool("success", ev.Success),
		logging.Domain(ev.UserEmail),
		logging.Session(ev.SessionID),
	}
	if al.includePII {
		attrs = append(attrs, slog.String("user", ev.UserEmail))
	} else {
		attrs = append(attrs, logging.UserHash(ev.UserEmail))
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if ev.Error != nil {
		attrs = append(attrs, logging.Err(ev.Error))
	}

	level := slog.LevelInfo
	if !ev.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "auth event", attrs...)
}

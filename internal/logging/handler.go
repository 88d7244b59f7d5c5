package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Supported log output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options configures the process logger.
type Options struct {
	// Format is "json" (default) or "text".
	Format string

	// Debug lowers the level to Debug.
	Debug bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds the process-wide slog logger.
//
// JSON output is meant for log shippers. Text output renders through
// charmbracelet/log, which implements slog.Handler, for a readable console.
func New(opts Options) *slog.Logger {
	return slog.New(NewHandler(opts))
}

// NewHandler returns the slog.Handler selected by opts.
func NewHandler(opts Options) slog.Handler {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}

	if opts.Format == FormatText {
		level := charmlog.InfoLevel
		if opts.Debug {
			level = charmlog.DebugLevel
		}
		return charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           level,
			Prefix:          "inboxqa",
		})
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

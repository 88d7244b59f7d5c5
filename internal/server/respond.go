package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a client-safe message.
// Unclassified errors become 500 with fallback.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback

	if e, ok := apperr.As(err); ok {
		status = apperr.HTTPStatus(e.Kind)
		if e.Message != "" {
			msg = e.Message
		}
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.WithRoute(s.logger, routePattern(r)).Log(r.Context(), level, "Request failed",
		"status", status,
		logging.Err(err),
	)

	writeJSON(w, status, errorResponse{Error: msg})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"

	"github.com/teemow/inboxqa/internal/document"
	"github.com/teemow/inboxqa/internal/gmail"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/session"
)

// SessionCookieName carries the session ID.
const SessionCookieName = "inboxqa_session"

// Sessions is the sign-in and session lookup surface.
type Sessions interface {
	Begin() string
	Complete(ctx context.Context, code, state string) (*session.Session, error)
	Current(ctx context.Context, id string) (*session.Session, error)
	End(ctx context.Context, id string) error
}

// Mail reads the inbox and sends replies.
type Mail interface {
	ListMessages(ctx context.Context, sessionID string) ([]gmail.Message, error)
	SendReply(ctx context.Context, sessionID string, r gmail.Reply) error
}

// Documents manages the per-session reference document.
type Documents interface {
	Upload(ctx context.Context, sessionID string, f document.File) (document.Result, error)
	Clear(sessionID string)
	Touch(sessionID string)
	MaxBytes() int64
}

// Answerer answers questions about the session's document.
type Answerer interface {
	Ask(ctx context.Context, sessionID, question string) (string, error)
}

// Config configures the HTTP server.
type Config struct {
	// ClientOrigin is the browser app's origin, used for CORS and redirects.
	ClientOrigin string

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool

	// SessionTimeout sets the cookie Max-Age.
	SessionTimeout time.Duration

	// RateLimitRPS disables rate limiting when zero.
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Deps are the components the server dispatches to.
type Deps struct {
	Sessions  Sessions
	Mail      Mail
	Documents Documents
	Answerer  Answerer
	Health    *HealthChecker

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Server is the application HTTP server.
type Server struct {
	cfg      Config
	origin   string
	sessions Sessions
	mail     Mail
	docs     Documents
	answerer Answerer
	health   *HealthChecker
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	handler  http.Handler
	http     *http.Server
}

// New builds the router.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Mail == nil || deps.Documents == nil || deps.Answerer == nil {
		return nil, fmt.Errorf("sessions, mail, documents and answerer are required")
	}

	origin := strings.TrimRight(cfg.ClientOrigin, "/")
	if _, err := url.Parse(origin); err != nil || origin == "" {
		return nil, fmt.Errorf("invalid client origin %q", cfg.ClientOrigin)
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 24 * time.Hour
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// Long enough for a model answer.
		cfg.WriteTimeout = 90 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	health := deps.Health
	if health == nil {
		health = NewHealthChecker("")
	}

	s := &Server{
		cfg:      cfg,
		origin:   origin,
		sessions: deps.Sessions,
		mail:     deps.Mail,
		docs:     deps.Documents,
		answerer: deps.Answerer,
		health:   health,
		logger:   logger,
		metrics:  deps.Metrics,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy)
	}
	s.handler = s.routes()
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{s.origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: true,
	}).Handler)

	s.health.Register(r)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Get("/auth/google", s.handleAuthBegin)
		r.Get("/auth/google/callback", s.handleAuthCallback)
		r.Get("/login-failed", s.handleLoginFailed)
		r.Get("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/userinfo", s.handleUserInfo)
			r.Get("/emails", s.handleEmails)
			r.Post("/reply", s.handleReply)
			r.Post("/upload", s.handleUpload)
			r.Post("/ask", s.handleAsk)
			r.Post("/clear", s.handleClear)
		})
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Shutdown. It blocks.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown flips readiness, drains in-flight requests and stops background
// work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.MarkShuttingDown()
	if s.limiter != nil {
		s.limiter.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) sessionID(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTimeout.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/inboxqa/internal/document"
	"github.com/teemow/inboxqa/internal/gmail"
	"github.com/teemow/inboxqa/internal/google"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
	"github.com/teemow/inboxqa/internal/qa"
	"github.com/teemow/inboxqa/internal/server"
	"github.com/teemow/inboxqa/internal/session"
)

const sessionCleanupInterval = time.Minute

func newServeCmd() *cobra.Command {
	cfg := defaultServeConfig()
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long: `Start the HTTP gateway for the browser client.

Required configuration (flag or env var):
  --google-client-id / GOOGLE_CLIENT_ID
  --google-client-secret / GOOGLE_CLIENT_SECRET
  --base-url / BASE_URL          public URL of this gateway; the OAuth
                                 callback is <base-url>/auth/google/callback
  --client-origin / CLIENT_ORIGIN
  --openai-api-key / OPENAI_API_KEY

Variables are also read from a .env file in the working directory, or from
the file given with --env-file. Explicit flags always win over env vars.

Sessions live in memory by default. Use --session-store valkey with
--valkey-url to share them between replicas; set --session-encryption-key
to encrypt stored OAuth tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(envFile); err != nil {
				return err
			}
			if err := loadServeEnvVars(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	bindServeFlags(cmd, &cfg)
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load environment variables from this file instead of .env")

	return cmd
}

// loadDotEnv never overrides variables already set in the environment. A
// missing default .env is fine; a missing explicit file is not.
func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func runServe(cfg ServeConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(logging.Options{Format: cfg.LogFormat, Debug: cfg.Debug})
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err = startMetricsServer(cfg.Metrics.Addr, provider, logger)
		if err != nil {
			return err
		}
	}

	health := server.NewHealthChecker(version)

	store, err := newSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		health.AddCheck("session_store", pinger.Ping)
	}

	oauthClient, err := google.NewClient(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		Metrics:      metrics,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create Google OAuth client: %w", err)
	}

	manager, err := session.NewManager(session.ManagerConfig{
		Store:   store,
		OAuth:   oauthClient,
		Logger:  logger,
		Metrics: metrics,
		Audit:   instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging),
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("Error closing session store", logging.Err(err))
		}
	}()

	mail, err := gmail.NewGateway(gmail.Config{
		Credentials: manager,
		Concurrency: cfg.FetchConcurrency,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gmail gateway: %w", err)
	}

	docs, err := document.NewService(document.Config{
		Dir:      cfg.UploadDir,
		MaxBytes: cfg.MaxUploadBytes,
		Logger:   logger,
		Metrics:  metrics,
	}, document.NewStore())
	if err != nil {
		return fmt.Errorf("failed to create document service: %w", err)
	}
	// A session's document goes away with the session. Stores without
	// expiry callbacks rely on the idle sweep.
	manager.OnEnd(docs.Clear)
	go docs.RunEviction(ctx, cfg.Session.Timeout, document.DefaultEvictionInterval)

	completer, err := qa.NewOpenAI(qa.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	answerer, err := qa.NewRouter(docs, completer, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create question router: %w", err)
	}

	srv, err := server.New(server.Config{
		ClientOrigin:   cfg.ClientOrigin,
		CookieSecure:   cfg.SecureCookie(),
		SessionTimeout: cfg.Session.Timeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustProxy:     cfg.TrustProxy,
	}, server.Deps{
		Sessions:  manager,
		Mail:      mail,
		Documents: docs,
		Answerer:  answerer,
		Health:    health,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("Starting inboxqa",
		"version", version,
		"addr", cfg.HTTPAddr,
		"session_store", cfg.Session.Store,
		"model", completer.Model(),
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.HTTPAddr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP server shutdown", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during metrics server shutdown", logging.Err(err))
		}
	}
	return nil
}

// startMetricsServer waits until the listener is bound so a port conflict
// fails startup.
func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(ready); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ready:
		return metricsServer, nil
	case err := <-errCh:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}

func newSessionStore(ctx context.Context, cfg SessionConfig, logger *slog.Logger) (session.Store, error) {
	switch cfg.Store {
	case storeValkey:
		var key []byte
		if cfg.EncryptionKey != "" {
			var err error
			if key, err = session.KeyFromBase64(cfg.EncryptionKey); err != nil {
				return nil, fmt.Errorf("invalid session encryption key: %w", err)
			}
		} else {
			logger.Warn("Session tokens are stored in Valkey without encryption; set SESSION_ENCRYPTION_KEY")
		}

		rc := session.RedisConfig{
			Password:      cfg.Valkey.Password,
			DB:            cfg.Valkey.DB,
			KeyPrefix:     cfg.Valkey.KeyPrefix,
			Timeout:       cfg.Timeout,
			EncryptionKey: key,
		}
		if strings.Contains(cfg.Valkey.URL, "://") {
			rc.URL = cfg.Valkey.URL
		} else {
			rc.Addr = cfg.Valkey.URL
		}

		store, err := session.NewRedisStore(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		logger.Info("Using valkey session store", "db", cfg.Valkey.DB, "key_prefix", cfg.Valkey.KeyPrefix)
		return store, nil
	default:
		return session.NewMemoryStore(cfg.Timeout, sessionCleanupInterval, logger), nil
	}
}

package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxqa/internal/document"
	"github.com/teemow/inboxqa/internal/gmail"
	"github.com/teemow/inboxqa/internal/qa"
	"github.com/teemow/inboxqa/internal/session"
)

// Session store backends.
const (
	storeMemory = "memory"
	storeValkey = "valkey"
)

// ServeConfig holds everything the serve command needs.
type ServeConfig struct {
	HTTPAddr     string
	BaseURL      string
	ClientOrigin string

	GoogleClientID     string
	GoogleClientSecret string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	Session SessionConfig

	UploadDir        string
	MaxUploadBytes   int64
	FetchConcurrency int

	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool
	CookieSecure   bool

	Metrics MetricsConfig

	Debug     bool
	LogFormat string
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	// Store is "memory" or "valkey".
	Store   string
	Timeout time.Duration

	// EncryptionKey is base64; it protects tokens stored in Valkey.
	EncryptionKey string

	Valkey ValkeyStorageConfig
}

// ValkeyStorageConfig holds configuration for the Valkey session backend
type ValkeyStorageConfig struct {
	// URL is either host:port or a redis:// / rediss:// URL
	URL       string
	Password  string
	DB        int
	KeyPrefix string
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func defaultServeConfig() ServeConfig {
	return ServeConfig{
		HTTPAddr:    ":5000",
		OpenAIModel: qa.DefaultModel,
		Session: SessionConfig{
			Store:   storeMemory,
			Timeout: 24 * time.Hour,
			Valkey:  ValkeyStorageConfig{KeyPrefix: session.DefaultKeyPrefix},
		},
		MaxUploadBytes:   document.DefaultMaxBytes,
		FetchConcurrency: gmail.DefaultConcurrency,
		RateLimitRPS:     10,
		RateLimitBurst:   20,
		Metrics:          MetricsConfig{Enabled: true, Addr: ":9090"},
		LogFormat:        "json",
	}
}

// bindServeFlags registers every serve flag on cmd, defaulting to cfg.
func bindServeFlags(cmd *cobra.Command, cfg *ServeConfig) {
	f := cmd.Flags()

	f.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address. Can also use PORT env var (port number only).")
	f.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Public base URL of this gateway, used for the OAuth callback. Can also use BASE_URL env var.")
	f.StringVar(&cfg.ClientOrigin, "client-origin", cfg.ClientOrigin, "Origin of the browser client allowed by CORS. Can also use CLIENT_ORIGIN env var.")

	f.StringVar(&cfg.GoogleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")

	f.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key. Can also use OPENAI_API_KEY env var.")
	f.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", "", "Base URL of an OpenAI-compatible API. Can also use OPENAI_BASE_URL env var.")
	f.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "Chat model used to answer questions. Can also use OPENAI_MODEL env var.")

	f.StringVar(&cfg.Session.Store, "session-store", cfg.Session.Store, "Session store: memory or valkey. Can also use SESSION_STORE env var.")
	f.DurationVar(&cfg.Session.Timeout, "session-timeout", cfg.Session.Timeout, "Idle session lifetime. Can also use SESSION_TIMEOUT env var.")
	f.StringVar(&cfg.Session.EncryptionKey, "session-encryption-key", "", "AES-256 key (32 bytes, base64) for tokens stored in Valkey. Generate with: inboxqa keygen. Can also use SESSION_ENCRYPTION_KEY env var.")
	f.StringVar(&cfg.Session.Valkey.URL, "valkey-url", "", "Valkey address or URL. Can also use VALKEY_URL env var.")
	f.StringVar(&cfg.Session.Valkey.Password, "valkey-password", "", "Valkey password. Can also use VALKEY_PASSWORD env var.")
	f.IntVar(&cfg.Session.Valkey.DB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")
	f.StringVar(&cfg.Session.Valkey.KeyPrefix, "valkey-key-prefix", cfg.Session.Valkey.KeyPrefix, "Prefix for session keys. Can also use VALKEY_KEY_PREFIX env var.")

	f.StringVar(&cfg.UploadDir, "upload-dir", "", "Directory for temporary upload files. Can also use UPLOAD_DIR env var.")
	f.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Largest accepted PDF in bytes. Can also use MAX_UPLOAD_BYTES env var.")
	f.IntVar(&cfg.FetchConcurrency, "fetch-concurrency", cfg.FetchConcurrency, "Parallel Gmail message fetches per request. Can also use FETCH_CONCURRENCY env var.")

	f.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", cfg.RateLimitRPS, "Requests per second per client IP, 0 disables. Can also use RATE_LIMIT_RPS env var.")
	f.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", cfg.RateLimitBurst, "Rate limit burst. Can also use RATE_LIMIT_BURST env var.")
	f.BoolVar(&cfg.TrustProxy, "trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP. Can also use TRUST_PROXY env var.")
	f.BoolVar(&cfg.CookieSecure, "cookie-secure", false, "Mark the session cookie Secure even when the base URL is http. Can also use COOKIE_SECURE env var.")

	f.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", cfg.Metrics.Enabled, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "Metrics server address. Can also use METRICS_ADDR env var.")

	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or text. Can also use LOG_FORMAT env var.")
}

// loadServeEnvVars applies environment variables to settings whose flag was
// not set explicitly.
func loadServeEnvVars(cmd *cobra.Command, cfg *ServeConfig) error {
	env := envLoader{cmd: cmd}

	if !cmd.Flags().Changed("http-addr") {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + strings.TrimPrefix(port, ":")
		}
	}
	env.str("base-url", "BASE_URL", &cfg.BaseURL)
	env.str("client-origin", "CLIENT_ORIGIN", &cfg.ClientOrigin)
	env.str("google-client-id", "GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	env.str("google-client-secret", "GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	env.str("openai-api-key", "OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	env.str("openai-base-url", "OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	env.str("openai-model", "OPENAI_MODEL", &cfg.OpenAIModel)

	env.str("session-store", "SESSION_STORE", &cfg.Session.Store)
	env.duration("session-timeout", "SESSION_TIMEOUT", &cfg.Session.Timeout)
	env.str("session-encryption-key", "SESSION_ENCRYPTION_KEY", &cfg.Session.EncryptionKey)
	env.str("valkey-url", "VALKEY_URL", &cfg.Session.Valkey.URL)
	env.str("valkey-password", "VALKEY_PASSWORD", &cfg.Session.Valkey.Password)
	env.integer("valkey-db", "VALKEY_DB", &cfg.Session.Valkey.DB)
	env.str("valkey-key-prefix", "VALKEY_KEY_PREFIX", &cfg.Session.Valkey.KeyPrefix)

	env.str("upload-dir", "UPLOAD_DIR", &cfg.UploadDir)
	env.integer64("max-upload-bytes", "MAX_UPLOAD_BYTES", &cfg.MaxUploadBytes)
	env.integer("fetch-concurrency", "FETCH_CONCURRENCY", &cfg.FetchConcurrency)

	env.float("rate-limit-rps", "RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	env.integer("rate-limit-burst", "RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	env.boolean("trust-proxy", "TRUST_PROXY", &cfg.TrustProxy)
	env.boolean("cookie-secure", "COOKIE_SECURE", &cfg.CookieSecure)

	env.boolean("metrics-enabled", "METRICS_ENABLED", &cfg.Metrics.Enabled)
	env.str("metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)
	env.str("log-format", "LOG_FORMAT", &cfg.LogFormat)

	return env.err
}

// envLoader records the first malformed variable.
type envLoader struct {
	cmd *cobra.Command
	err error
}

func (e *envLoader) lookup(flag, key string) (string, bool) {
	if e.cmd.Flags().Changed(flag) {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envLoader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envLoader) str(flag, key string, dst *string) {
	if v, ok := e.lookup(flag, key); ok {
		*dst = v
	}
}

func (e *envLoader) boolean(flag, key string, dst *bool) {
	if v, ok := e.lookup(flag, key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envLoader) integer(flag, key string, dst *int) {
	if v, ok := e.lookup(flag, key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envLoader) integer64(flag, key string, dst *int64) {
	if v, ok := e.lookup(flag, key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envLoader) float(flag, key string, dst *float64) {
	if v, ok := e.lookup(flag, key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envLoader) duration(flag, key string, dst *time.Duration) {
	if v, ok := e.lookup(flag, key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

// Validate reports the first missing or malformed setting.
func (c *ServeConfig) Validate() error {
	var missing []string
	if c.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.ClientOrigin == "" {
		missing = append(missing, "CLIENT_ORIGIN")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	for name, raw := range map[string]string{"base URL": c.BaseURL, "client origin": c.ClientOrigin} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an absolute http(s) URL", name, raw)
		}
	}

	switch c.Session.Store {
	case storeMemory:
	case storeValkey:
		if c.Session.Valkey.URL == "" {
			return fmt.Errorf("valkey session store requires VALKEY_URL")
		}
	default:
		return fmt.Errorf("unsupported session store %q (use %s or %s)", c.Session.Store, storeMemory, storeValkey)
	}
	if c.Session.EncryptionKey != "" {
		if _, err := session.KeyFromBase64(c.Session.EncryptionKey); err != nil {
			return fmt.Errorf("invalid session encryption key: %w", err)
		}
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("fetch concurrency must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// RedirectURL is the OAuth callback registered with Google.
func (c *ServeConfig) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/google/callback"
}

// SecureCookie reports whether the session cookie needs the Secure flag.
func (c *ServeConfig) SecureCookie() bool {
	return c.CookieSecure || strings.HasPrefix(strings.ToLower(c.BaseURL), "https://")
}

package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateClass holds the ceiling and window for one rate-limited action.
type RateClass struct {
	Limit  int
	Window time.Duration
}

// Config is the full runtime configuration, loaded from environment
// variables. Every field has a default except TOKEN_SECRET.
type Config struct {
	Profile string

	ServerAddr         string
	ReadHeaderTimeout  time.Duration
	BodyLimitBytes     int64
	CORSAllowedOrigins []string

	TokenSecret         string
	TokenIssuer         string
	TokenAudience       string
	TokenTTL            time.Duration
	SessionCookieName   string
	SessionCookieSecure bool

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitFailClosed bool
	LoginRate           RateClass
	MessageRate         RateClass
	MFARate             RateClass
	ChallengeRate       RateClass
	SandboxRate         RateClass

	MFAIssuer          string
	MFABackupCodeCount int

	SessionCleanupInterval  time.Duration
	SandboxSweepInterval    time.Duration
	RevocationSweepInterval time.Duration

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELMetricsEnabled        bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
}

const minTokenSecretLen = 32

// Load reads configuration from the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	cfg, err := load()
	profile := "unknown"
	if cfg != nil {
		profile = cfg.Profile
	}
	if err != nil {
		recordConfigValidationEvent(context.Background(), profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), profile, "success", "none")
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{
		Profile:            getEnv("PROFILE", "dev"),
		ServerAddr:         getEnv("SERVER_ADDR", ":8080"),
		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		TokenSecret:       os.Getenv("TOKEN_SECRET"),
		TokenIssuer:       getEnv("TOKEN_ISSUER", "sentinel"),
		TokenAudience:     getEnv("TOKEN_AUDIENCE", "sentinel-web"),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "sentinel_token"),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "sentinel.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		MFAIssuer: getEnv("MFA_ISSUER", "Breakroom"),

		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "sentinel"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "dev"),
	}

	var err error
	if cfg.ReadHeaderTimeout, err = durationEnv("SERVER_READ_HEADER_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BodyLimitBytes, err = int64Env("BODY_LIMIT_BYTES", 1<<20); err != nil {
		return cfg, err
	}
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.SessionCookieSecure, err = boolEnv("SESSION_COOKIE_SECURE", false); err != nil {
		return cfg, err
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitFailClosed, err = boolEnv("RATE_LIMIT_FAIL_CLOSED", false); err != nil {
		return cfg, err
	}
	if cfg.LoginRate, err = rateEnv("RATE_LOGIN", 5, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.MessageRate, err = rateEnv("RATE_MESSAGE", 30, 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MFARate, err = rateEnv("RATE_MFA", 10, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ChallengeRate, err = rateEnv("RATE_CHALLENGE", 20, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SandboxRate, err = rateEnv("RATE_SANDBOX", 5, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.MFABackupCodeCount, err = intEnv("MFA_BACKUP_CODE_COUNT", 10); err != nil {
		return cfg, err
	}
	if cfg.SessionCleanupInterval, err = durationEnv("SESSION_CLEANUP_INTERVAL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.SandboxSweepInterval, err = durationEnv("SANDBOX_SWEEP_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RevocationSweepInterval, err = durationEnv("REVOCATION_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ShutdownHTTPDrainTimeout, err = durationEnv("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ShutdownObservabilityTimeout, err = durationEnv("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsEnabled, err = boolEnv("OTEL_METRICS_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.OTELExporterOTLPInsecure, err = boolEnv("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsExportInterval, err = durationEnv("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("validate config: TOKEN_SECRET is required")
	}
	if len(c.TokenSecret) < minTokenSecretLen {
		return fmt.Errorf("validate config: TOKEN_SECRET must be at least %d characters", minTokenSecretLen)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("validate config: TOKEN_TTL must be positive")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("validate config: DB_DSN is required")
	}
	for _, rc := range []struct {
		name  string
		class RateClass
	}{
		{"RATE_LOGIN", c.LoginRate},
		{"RATE_MESSAGE", c.MessageRate},
		{"RATE_MFA", c.MFARate},
		{"RATE_CHALLENGE", c.ChallengeRate},
		{"RATE_SANDBOX", c.SandboxRate},
	} {
		if rc.class.Limit <= 0 || rc.class.Window <= 0 {
			return fmt.Errorf("validate config: %s limit and window must be positive", rc.name)
		}
	}
	if c.MFABackupCodeCount <= 0 {
		return fmt.Errorf("validate config: MFA_BACKUP_CODE_COUNT must be positive")
	}
	// the sweep intervals feed time.NewTicker, which panics on non-positive
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"SESSION_CLEANUP_INTERVAL", c.SessionCleanupInterval},
		{"SANDBOX_SWEEP_INTERVAL", c.SandboxSweepInterval},
		{"REVOCATION_SWEEP_INTERVAL", c.RevocationSweepInterval},
	} {
		if iv.d <= 0 {
			return fmt.Errorf("validate config: %s must be positive", iv.name)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func rateEnv(prefix string, defLimit int, defWindow time.Duration) (RateClass, error) {
	limit, err := intEnv(prefix+"_LIMIT", defLimit)
	if err != nil {
		return RateClass{}, err
	}
	window, err := durationEnv(prefix+"_WINDOW", defWindow)
	if err != nil {
		return RateClass{}, err
	}
	return RateClass{Limit: limit, Window: window}, nil
}

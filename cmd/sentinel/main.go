// Command sentinel runs the trust and access control plane.
package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/breakroom-labs/sentinel/internal/app"
	"github.com/breakroom-labs/sentinel/internal/config"
	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/http/handler"
	"github.com/breakroom-labs/sentinel/internal/http/middleware"
	"github.com/breakroom-labs/sentinel/internal/http/router"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/ratelimit"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/security"
	"github.com/breakroom-labs/sentinel/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Trust and access control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	metricsCfg := observability.MetricsConfig{
		Enabled:        cfg.OTELMetricsEnabled,
		Endpoint:       cfg.OTELExporterOTLPEndpoint,
		Insecure:       cfg.OTELExporterOTLPInsecure,
		ServiceName:    cfg.OTELServiceName,
		Environment:    cfg.OTELEnvironment,
		ExportInterval: cfg.OTELMetricsExportInterval,
	}
	logger, loggerProvider, err := observability.InitLogger(ctx, metricsCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, metricsCfg, logger)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	runtime.LoggerProvider = loggerProvider

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	var (
		limiter    ratelimit.Limiter
		revoked    security.RevocationSet
		memRevoked *security.InMemoryRevocationSet
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		limiter = ratelimit.NewRedisLimiter(client, "sentinel:rl")
		revoked = security.NewRedisRevocationSet(client, "sentinel:revoked")
		logger.InfoContext(ctx, "using redis backends", "addr", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewFixedWindowLimiter()
		memRevoked = security.NewInMemoryRevocationSet()
		revoked = memRevoked
		logger.InfoContext(ctx, "using in-memory rate limit and revocation backends")
	}

	tokens := security.NewTokenAuthority(cfg.TokenIssuer, cfg.TokenAudience, cfg.TokenSecret, cfg.TokenTTL)
	authority := service.NewSessionAuthority(tokens, revoked, repository.NewSessionRepository(db))
	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), logger)
	mfaSvc := service.NewMFAService(repository.NewMFARepository(db), auditSvc, cfg.MFAIssuer, cfg.MFABackupCodeCount)
	challengeSvc := service.NewChallengeService(repository.NewChallengeRepository(db), auditSvc)
	sandboxSvc := service.NewSandboxService(repository.NewSandboxRepository(db), auditSvc,
		limiter, toClass("sandbox", cfg.SandboxRate))

	mode := middleware.FailOpen
	if cfg.RateLimitFailClosed {
		mode = middleware.FailClosed
	}

	h := router.New(router.Dependencies{
		Logger:             logger,
		Auth:               handler.NewAuthHandler(bootstrapVerifier(logger), authority, mfaSvc, auditSvc, cfg.SessionCookieName, cfg.SessionCookieSecure),
		MFA:                handler.NewMFAHandler(mfaSvc),
		Audit:              handler.NewAuditHandler(auditSvc),
		Challenge:          handler.NewChallengeHandler(challengeSvc),
		Sandbox:            handler.NewSandboxHandler(sandboxSvc),
		Authority:          authority,
		CookieName:         cfg.SessionCookieName,
		Limiter:            limiter,
		LoginClass:         toClass("login", cfg.LoginRate),
		MFAClass:           toClass("mfa", cfg.MFARate),
		ChallengeClass:     toClass("challenge", cfg.ChallengeRate),
		LimiterMode:        mode,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		BodyLimitBytes:     cfg.BodyLimitBytes,
		EnableOTelHTTP:     cfg.OTELMetricsEnabled,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return app.New(cfg, logger, server, runtime, authority, sandboxSvc, memRevoked).Run(ctx)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DBDSN), gormCfg)
	default:
		db, err = gorm.Open(sqlite.Open(cfg.DBDSN), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	err = db.AutoMigrate(
		&domain.SessionRecord{},
		&domain.MFAEnrollment{},
		&domain.BackupCode{},
		&domain.AuditEvent{},
		&domain.Challenge{},
		&domain.ChallengeAttempt{},
		&domain.ChallengeSolve{},
		&domain.SandboxEnvironment{},
		&domain.SandboxSession{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func toClass(name string, rc config.RateClass) ratelimit.Class {
	return ratelimit.Class{Name: name, Limit: rc.Limit, Window: rc.Window}
}

// bootstrapVerifier authenticates the single operator account configured via
// BOOTSTRAP_ADMIN_USER / BOOTSTRAP_ADMIN_PASSWORD. Production deployments
// embed this module and supply the web app's own CredentialVerifier; the
// bootstrap account exists so a standalone binary is still operable.
func bootstrapVerifier(logger *slog.Logger) handler.CredentialVerifier {
	user := os.Getenv("BOOTSTRAP_ADMIN_USER")
	pass := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	if user == "" || pass == "" {
		logger.Warn("no bootstrap account configured, all logins will be rejected")
	}
	return verifierFunc(func(_ context.Context, username, password string) (domain.Identity, error) {
		if user == "" || pass == "" {
			return domain.Identity{}, handler.ErrBadCredentials
		}
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(pass)) == 1
		if !userOK || !passOK {
			return domain.Identity{}, handler.ErrBadCredentials
		}
		return domain.Identity{UserID: 1, Username: user, IsAdmin: true, IsSiteOwner: true}, nil
	})
}

type verifierFunc func(ctx context.Context, username, password string) (domain.Identity, error)

func (f verifierFunc) VerifyCredentials(ctx context.Context, username, password string) (domain.Identity, error) {
	return f(ctx, username, password)
}

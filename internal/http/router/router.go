// Package router assembles the HTTP surface: middleware chain, route table
// and per-route throttles.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/breakroom-labs/sentinel/internal/http/handler"
	"github.com/breakroom-labs/sentinel/internal/http/middleware"
	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/ratelimit"
	"github.com/breakroom-labs/sentinel/internal/service"
)

// Dependencies carries everything the route table needs. The caller owns
// construction; the router only wires.
type Dependencies struct {
	Logger *slog.Logger

	Auth      *handler.AuthHandler
	MFA       *handler.MFAHandler
	Audit     *handler.AuditHandler
	Challenge *handler.ChallengeHandler
	Sandbox   *handler.SandboxHandler

	Authority  *service.SessionAuthority
	CookieName string

	Limiter        ratelimit.Limiter
	LoginClass     ratelimit.Class
	MFAClass       ratelimit.Class
	ChallengeClass ratelimit.Class
	LimiterMode    middleware.FailureMode

	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	EnableOTelHTTP bool
}

func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(deps.CORSAllowedOrigins))
	r.Use(middleware.BodyLimit(deps.BodyLimitBytes))

	loginLimit := middleware.NewRateLimiter(deps.Limiter, deps.LoginClass, deps.LimiterMode, middleware.ClientIPKey, deps.Logger).Middleware()
	mfaLimit := middleware.NewRateLimiter(deps.Limiter, deps.MFAClass, deps.LimiterMode, middleware.IdentityOrIPKey, deps.Logger).Middleware()
	challengeLimit := middleware.NewRateLimiter(deps.Limiter, deps.ChallengeClass, deps.LimiterMode, middleware.IdentityOrIPKey, deps.Logger).Middleware()

	authed := middleware.Auth(deps.Authority, deps.CookieName)

	r.Get("/health/live", func(w http.ResponseWriter, req *http.Request) {
		response.JSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimit).Post("/login", deps.Auth.Login)
			r.Group(func(r chi.Router) {
				r.Use(authed)
				r.Post("/logout", deps.Auth.Logout)
				r.Get("/session", deps.Auth.Session)
			})
		})

		r.Route("/mfa", func(r chi.Router) {
			r.Use(authed)
			r.Get("/status", deps.MFA.Status)
			r.Group(func(r chi.Router) {
				r.Use(mfaLimit)
				r.Post("/setup", deps.MFA.Setup)
				r.Post("/verify", deps.MFA.Verify)
				r.Post("/disable", deps.MFA.Disable)
				r.Post("/backup-codes", deps.MFA.RegenerateBackupCodes)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(authed, middleware.RequireAdmin)
			r.Get("/events", deps.Audit.Events)
			r.Get("/metrics", deps.Audit.Metrics)
		})

		r.Route("/challenges", func(r chi.Router) {
			r.Use(authed)
			r.Get("/", deps.Challenge.List)
			r.Get("/stats", deps.Challenge.Stats)
			r.Get("/leaderboard", deps.Challenge.Leaderboard)
			r.With(challengeLimit).Post("/{id}/submit", deps.Challenge.Submit)
			r.With(middleware.RequireAdmin).Post("/", deps.Challenge.Create)
		})

		r.Route("/sandbox", func(r chi.Router) {
			r.Use(authed)
			r.Get("/environments", deps.Sandbox.ListEnvironments)
			r.With(middleware.RequireAdmin).Post("/environments", deps.Sandbox.CreateEnvironment)
			r.Post("/sessions", deps.Sandbox.StartSession)
			r.Delete("/sessions/{id}", deps.Sandbox.StopSession)
			r.Get("/sessions/history", deps.Sandbox.History)
		})
	})

	if deps.EnableOTelHTTP {
		return otelhttp.NewHandler(r, "sentinel.http")
	}
	return r
}

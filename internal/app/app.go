// Package app owns the process lifecycle: the HTTP listener, the background
// sweeps and graceful shutdown ordering.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/breakroom-labs/sentinel/internal/config"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/security"
	"github.com/breakroom-labs/sentinel/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	Sessions *service.SessionAuthority
	Sandbox  *service.SandboxService
	// Revoked is set only for the in-memory revocation backend; the Redis
	// backend expires entries by TTL and needs no sweep.
	Revoked *security.InMemoryRevocationSet

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, sessions *service.SessionAuthority, sandbox *service.SandboxService, revoked *security.InMemoryRevocationSet) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		Sessions:      sessions,
		Sandbox:       sandbox,
		Revoked:       revoked,

		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// flushes telemetry. Background sweeps stop with the same ctx.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.runSweep(ctx, "sandbox expiry", a.Config.SandboxSweepInterval, a.Sandbox.ExpireOverdue)
		return nil
	})
	g.Go(func() error {
		a.runSweep(ctx, "session cleanup", a.Config.SessionCleanupInterval, a.Sessions.CleanupExpired)
		return nil
	})
	if a.Revoked != nil {
		g.Go(func() error {
			a.runSweep(ctx, "revocation sweep", a.Config.RevocationSweepInterval, func(context.Context) (int64, error) {
				return int64(a.Revoked.Sweep()), nil
			})
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) runSweep(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) (int64, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep(ctx)
			if err != nil {
				a.Logger.ErrorContext(ctx, "background sweep failed", "sweep", name, "error", err)
				continue
			}
			if n > 0 {
				a.Logger.InfoContext(ctx, "background sweep", "sweep", name, "removed", n)
			}
		}
	}
}

func (a *App) shutdown() error {
	a.Logger.Info("shutting down", "drain_timeout", a.ShutdownHTTPDrainTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()

	drainCtx, drainCancel := context.WithTimeout(ctx, a.ShutdownHTTPDrainTimeout)
	defer drainCancel()
	if err := a.Server.Shutdown(drainCtx); err != nil {
		a.Logger.Error("http drain incomplete", "error", err)
	}

	obsCtx, obsCancel := context.WithTimeout(ctx, a.ShutdownObservabilityTimeout)
	defer obsCancel()
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		a.Logger.Error("observability shutdown incomplete", "error", err)
	}
	return nil
}

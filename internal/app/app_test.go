package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breakroom-labs/sentinel/internal/config"
	"github.com/breakroom-labs/sentinel/internal/security"
)

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := &config.Config{
		ShutdownTimeout:              10 * time.Second,
		ShutdownHTTPDrainTimeout:     2 * time.Second,
		ShutdownObservabilityTimeout: 3 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	revoked := security.NewInMemoryRevocationSet()

	a := New(cfg, logger, server, nil, nil, nil, revoked)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Revoked != revoked {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout ||
		a.ShutdownHTTPDrainTimeout != cfg.ShutdownHTTPDrainTimeout ||
		a.ShutdownObservabilityTimeout != cfg.ShutdownObservabilityTimeout {
		t.Fatal("expected shutdown timeouts copied from config")
	}
}

func TestRunSweepStopsOnCancelAndSurvivesErrors(t *testing.T) {
	a := &App{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.runSweep(ctx, "test", time.Millisecond, func(context.Context) (int64, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("transient")
			}
			return 1, nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("sweep never ran enough times")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop on cancel")
	}
}

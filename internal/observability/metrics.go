package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "sentinel"

type AppMetrics struct {
	loginCounter       metric.Int64Counter
	tokenVerifyCounter metric.Int64Counter
	mfaEventCounter    metric.Int64Counter
	challengeCounter   metric.Int64Counter
	sandboxCounter     metric.Int64Counter
	rateLimitCounter   metric.Int64Counter
	repositoryCounter  metric.Int64Counter
	auditRecordCounter metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

type MetricsConfig struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	Environment    string
	ExportInterval time.Duration
}

func InitMetrics(ctx context.Context, cfg MetricsConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	m := &AppMetrics{}
	for _, c := range []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.loginCounter},
		{"auth.token.verifications", &m.tokenVerifyCounter},
		{"mfa.events", &m.mfaEventCounter},
		{"challenge.submissions", &m.challengeCounter},
		{"sandbox.session.transitions", &m.sandboxCounter},
		{"ratelimit.decisions", &m.rateLimitCounter},
		{"repository.operations", &m.repositoryCounter},
		{"audit.records", &m.auditRecordCounter},
	} {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.Endpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordLogin(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordTokenVerification(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenVerifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordMFAEvent(ctx context.Context, action, status string) {
	m := current()
	if m == nil {
		return
	}
	m.mfaEventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

func RecordChallengeSubmission(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.challengeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordSandboxTransition(ctx context.Context, transition string) {
	m := current()
	if m == nil {
		return
	}
	m.sandboxCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}

func RecordRateLimitDecision(ctx context.Context, class, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("decision", decision),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordAuditWrite(ctx context.Context, category, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.auditRecordCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	))
}

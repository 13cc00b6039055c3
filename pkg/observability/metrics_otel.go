package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments. They mirror the
// Prometheus metrics for deployments that ship everything through an
// OTLP collector instead of a scrape endpoint.
type OTelMetrics struct {
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram
	flagLookupsTotal metric.Int64Counter
	auditWritesTotal metric.Int64Counter
	cacheHitsTotal   metric.Int64Counter
	cacheMissesTotal metric.Int64Counter
}

// NewOTelMetrics creates the OTel metric instruments
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/casagrid/gatehouse")

	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"gatehouse.decisions",
		metric.WithDescription("Total number of access decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"gatehouse.decision.duration",
		metric.WithDescription("Access decision duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.flagLookupsTotal, err = meter.Int64Counter(
		"gatehouse.flag.lookups",
		metric.WithDescription("Total number of feature flag lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flag lookups counter: %w", err)
	}

	m.auditWritesTotal, err = meter.Int64Counter(
		"gatehouse.audit.writes",
		metric.WithDescription("Total number of audit log writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit writes counter: %w", err)
	}

	m.cacheHitsTotal, err = meter.Int64Counter(
		"gatehouse.cache.hits",
		metric.WithDescription("Total number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"gatehouse.cache.misses",
		metric.WithDescription("Total number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	return m, nil
}

// RecordDecision records an access decision outcome
func (m *OTelMetrics) RecordDecision(ctx context.Context, result, layer string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("decision.result", result),
		attribute.String("decision.layer", layer),
	}

	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.decisionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFlagLookup records a feature flag lookup
func (m *OTelMetrics) RecordFlagLookup(ctx context.Context, flag, source string) {
	m.flagLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag.code", flag),
		attribute.String("flag.source", source),
	))
}

// RecordAuditWrite records an audit log write attempt
func (m *OTelMetrics) RecordAuditWrite(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.auditWritesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordCacheHit records a cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, cache string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", cache),
	))
}

// RecordCacheMiss records a cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, cache string) {
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", cache),
	))
}

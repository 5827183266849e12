// Package observe provides application-wide observability primitives for
// Auricle: OpenTelemetry metrics, tracing setup, and the Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auricle metrics.
const meterName = "github.com/auricle-audio/auricle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SegmentDuration tracks the audio length of committed speech segments.
	SegmentDuration metric.Float64Histogram

	// DispatchDuration tracks end-to-end dispatch latency from task submission
	// to stream completion.
	DispatchDuration metric.Float64Histogram

	// SegmentsCommitted counts committed speech segments. Use with attribute:
	//   attribute.String("mode", ...)
	SegmentsCommitted metric.Int64Counter

	// SegmentsDiscarded counts sub-minimum speech segments that were dropped.
	SegmentsDiscarded metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("model", ...), attribute.String("task", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("model", ...), attribute.String("task", ...)
	ProviderErrors metric.Int64Counter

	// DispatchFallbacks counts dispatches served by the fallback model.
	DispatchFallbacks metric.Int64Counter

	// LedgerRejections counts dispatch candidates skipped because the ledger
	// reported them at capacity. Use with attribute:
	//   attribute.String("model", ...)
	LedgerRejections metric.Int64Counter

	// ReconnectAttempts counts live-session recovery attempts. Use with
	// attribute: attribute.String("outcome", ...)
	ReconnectAttempts metric.Int64Counter

	// ActiveSessions tracks the number of open duplex sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive-response latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets defines histogram bucket boundaries (in seconds) covering
// speech segments up to the forced-commit ceiling.
var segmentBuckets = []float64{
	0.2, 0.5, 1, 2, 4, 8, 12, 16, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentDuration, err = m.Float64Histogram("auricle.segment.duration",
		metric.WithDescription("Audio length of committed speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("auricle.dispatch.duration",
		metric.WithDescription("End-to-end dispatch latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SegmentsCommitted, err = m.Int64Counter("auricle.segments.committed",
		metric.WithDescription("Total committed speech segments by mode."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("auricle.segments.discarded",
		metric.WithDescription("Total speech segments dropped for falling short of the minimum duration."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("auricle.provider.requests",
		metric.WithDescription("Total provider API requests by model, task, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("auricle.provider.errors",
		metric.WithDescription("Total provider errors by model and task."),
	); err != nil {
		return nil, err
	}
	if met.DispatchFallbacks, err = m.Int64Counter("auricle.dispatch.fallbacks",
		metric.WithDescription("Total dispatches served by the fallback model."),
	); err != nil {
		return nil, err
	}
	if met.LedgerRejections, err = m.Int64Counter("auricle.ledger.rejections",
		metric.WithDescription("Total dispatch candidates skipped at capacity by model."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("auricle.live.reconnect_attempts",
		metric.WithDescription("Total live-session recovery attempts by outcome."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("auricle.active_sessions",
		metric.WithDescription("Number of open duplex sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("auricle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, model, task, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("task", task),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, model, task string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("task", task),
		),
	)
}

// RecordLedgerRejection records a capacity rejection for the given model.
func (m *Metrics) RecordLedgerRejection(ctx context.Context, model string) {
	m.LedgerRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
}

// RecordReconnectAttempt records one live-session recovery attempt.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, outcome string) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

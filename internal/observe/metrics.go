// Package observe provides application-wide observability primitives for
// the assistant server: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all assistant metrics.
const meterName = "github.com/K8rrik/FreeCluely"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks end-to-end chat response generation latency,
	// from user send to stream close.
	GenerationDuration metric.Float64Histogram

	// AnalysisDuration tracks ambient suggestion analysis latency.
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Generations counts finished generations. Use with attribute:
	//   attribute.String("outcome", "completed"|"cancelled"|"failed")
	Generations metric.Int64Counter

	// AnalysisCycles counts ambient analysis cycles. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	AnalysisCycles metric.Int64Counter

	// SuggestionEvents counts suggestion lifecycle transitions. Use with attribute:
	//   attribute.String("event", "shown"|"activated"|"expired")
	SuggestionEvents metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSuggestions tracks the number of currently visible suggestions.
	ActiveSuggestions metric.Int64UpDownCounter

	// VoiceSessions tracks the number of live transcription streams.
	VoiceSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive model-call latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("freecluely.generation.duration",
		metric.WithDescription("Latency of chat response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("freecluely.analysis.duration",
		metric.WithDescription("Latency of ambient suggestion analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("freecluely.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Generations, err = m.Int64Counter("freecluely.generations",
		metric.WithDescription("Total finished generations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisCycles, err = m.Int64Counter("freecluely.analysis.cycles",
		metric.WithDescription("Total ambient analysis cycles by status."),
	); err != nil {
		return nil, err
	}
	if met.SuggestionEvents, err = m.Int64Counter("freecluely.suggestion.events",
		metric.WithDescription("Suggestion lifecycle transitions by event."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("freecluely.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSuggestions, err = m.Int64UpDownCounter("freecluely.active_suggestions",
		metric.WithDescription("Number of currently visible suggestions."),
	); err != nil {
		return nil, err
	}
	if met.VoiceSessions, err = m.Int64UpDownCounter("freecluely.voice_sessions",
		metric.WithDescription("Number of live transcription streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("freecluely.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordGeneration is a convenience method that records one finished
// generation with its outcome.
func (m *Metrics) RecordGeneration(ctx context.Context, outcome string, seconds float64) {
	m.Generations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.GenerationDuration.Record(ctx, seconds)
}

// RecordAnalysisCycle is a convenience method that records one ambient
// analysis cycle with its status.
func (m *Metrics) RecordAnalysisCycle(ctx context.Context, status string, seconds float64) {
	m.AnalysisCycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.AnalysisDuration.Record(ctx, seconds)
}

// RecordSuggestionEvent is a convenience method that records a suggestion
// lifecycle transition.
func (m *Metrics) RecordSuggestionEvent(ctx context.Context, event string) {
	m.SuggestionEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

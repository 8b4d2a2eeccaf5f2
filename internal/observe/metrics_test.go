package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the data point of the named counter that
// carries attrKey=attrVal, or -1 when no such point exists.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, attrKey, attrVal string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if attrKey == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == attrKey && kv.Value.AsString() == attrVal {
				return dp.Value
			}
		}
	}
	return -1
}

// histogramCount returns the sample count of the named histogram's first
// data point.
func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return hist.DataPoints[0].Count
}

func TestRecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneration(ctx, "completed", 1.2)
	m.RecordGeneration(ctx, "completed", 0.8)
	m.RecordGeneration(ctx, "failed", 0.1)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "freecluely.generations", "outcome", "completed"); got != 2 {
		t.Errorf("completed generations = %d, want 2", got)
	}
	if got := counterValue(t, rm, "freecluely.generations", "outcome", "failed"); got != 1 {
		t.Errorf("failed generations = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "freecluely.generation.duration"); got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestRecordAnalysisCycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAnalysisCycle(ctx, "ok", 0.4)
	m.RecordAnalysisCycle(ctx, "error", 0.1)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "freecluely.analysis.cycles", "status", "ok"); got != 1 {
		t.Errorf("ok cycles = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "freecluely.analysis.duration"); got != 2 {
		t.Errorf("duration samples = %d, want 2", got)
	}
}

func TestRecordSuggestionEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSuggestionEvent(ctx, "shown")
	m.RecordSuggestionEvent(ctx, "shown")
	m.RecordSuggestionEvent(ctx, "expired")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "freecluely.suggestion.events", "event", "shown"); got != 2 {
		t.Errorf("shown events = %d, want 2", got)
	}
	if got := counterValue(t, rm, "freecluely.suggestion.events", "event", "expired"); got != 1 {
		t.Errorf("expired events = %d, want 1", got)
	}
}

func TestRecordProviderRequestAndError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "model", "ok")
	m.RecordProviderRequest(ctx, "gemini", "model", "ok")
	m.RecordProviderRequest(ctx, "gemini", "model", "error")
	m.RecordProviderError(ctx, "deepgram", "transcribe")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "freecluely.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := counterValue(t, rm, "freecluely.provider.errors", "provider", "deepgram"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSuggestions.Add(ctx, 3)
	m.ActiveSuggestions.Add(ctx, -1)
	m.VoiceSessions.Add(ctx, 1)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "freecluely.active_suggestions", "", ""); got != 2 {
		t.Errorf("active suggestions = %d, want 2", got)
	}
	if got := counterValue(t, rm, "freecluely.voice_sessions", "", ""); got != 1 {
		t.Errorf("voice sessions = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/api/state"),
		),
	)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "freecluely.http.request.duration"); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetricsReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

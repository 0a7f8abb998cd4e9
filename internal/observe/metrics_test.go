package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collect gathers all metrics recorded through the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

// findMetric returns the metric with the given name, or nil.
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

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func TestNewMetrics_AllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.STTDuration == nil || m.LLMDuration == nil || m.TTSDuration == nil ||
		m.QueryDuration == nil || m.CaptureDuration == nil ||
		m.Queries == nil || m.BargeIns == nil || m.Retries == nil ||
		m.ProviderErrors == nil || m.ActiveQueries == nil ||
		m.ConversationLength == nil || m.HTTPRequestDuration == nil {
		t.Fatal("NewMetrics left an instrument nil")
	}
}

func TestRecordQuery(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordQuery(ctx, "answered")
	m.RecordQuery(ctx, "answered")
	m.RecordQuery(ctx, "failed")

	rm := collect(t, reader)
	mtr := findMetric(rm, "cmacvoice.queries")
	if mtr == nil {
		t.Fatal("cmacvoice.queries not found")
	}
	sum, ok := mtr.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T", mtr.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total queries = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2 (answered, failed)", len(sum.DataPoints))
	}
}

func TestStageHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.42)
	m.STTDuration.Record(ctx, 1.2)

	rm := collect(t, reader)
	mtr := findMetric(rm, "cmacvoice.stt.duration")
	if mtr == nil {
		t.Fatal("cmacvoice.stt.duration not found")
	}
	hist, ok := mtr.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T", mtr.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram data points = %+v", hist.DataPoints)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordProviderError(context.Background(), "stt", "network")

	rm := collect(t, reader)
	mtr := findMetric(rm, "cmacvoice.provider.errors")
	if mtr == nil {
		t.Fatal("cmacvoice.provider.errors not found")
	}
	sum := mtr.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("data points = %+v", sum.DataPoints)
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}

	rm := collect(t, reader)
	mtr := findMetric(rm, "cmacvoice.http.request.duration")
	if mtr == nil {
		t.Fatal("cmacvoice.http.request.duration not found")
	}
	hist := mtr.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram data points = %+v", hist.DataPoints)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}

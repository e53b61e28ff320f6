package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s data=%T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordChatCountsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordChat(ctx, 300*time.Millisecond, "none")
	m.RecordChat(ctx, time.Second, "transport")

	rm := collect(t, reader)
	hist := findMetric(rm, "presence.chat.duration")
	if hist == nil {
		t.Fatal("presence.chat.duration not found")
	}
	data := hist.Data.(metricdata.Histogram[float64])
	if got := data.DataPoints[0].Count; got != 2 {
		t.Fatalf("count=%d, want 2", got)
	}
	if got := counterTotal(t, rm, "presence.provider.errors"); got != 1 {
		t.Fatalf("errors=%d, want 1", got)
	}
}

func TestRecordTurnAndFallback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordTurn(ctx, 2*time.Second, "spoken")
	m.RecordTurn(ctx, time.Second, "failed")
	m.RecordFallback(ctx, "transport")
	m.RecordFrame(ctx)
	m.RecordFrame(ctx)

	rm := collect(t, reader)
	if got := counterTotal(t, rm, "presence.turns"); got != 2 {
		t.Fatalf("turns=%d, want 2", got)
	}
	if got := counterTotal(t, rm, "presence.speech.fallbacks"); got != 1 {
		t.Fatalf("fallbacks=%d, want 1", got)
	}
	if got := counterTotal(t, rm, "presence.frames"); got != 2 {
		t.Fatalf("frames=%d, want 2", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordChat(ctx, time.Second, "transport")
	m.RecordSpeech(ctx, time.Second, "none")
	m.RecordTurn(ctx, time.Second, "spoken")
	m.RecordFallback(ctx, "x")
	m.RecordFrame(ctx)
	Nop().RecordFrame(ctx)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, reader := newTestMetrics(t)
	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d, want 200", w.Code)
	}
	if findMetric(collect(t, reader), "presence.http.duration") == nil {
		t.Fatal("presence.http.duration not recorded")
	}
}

package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObserveHTTP("GET", "/v1/projects", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET", "", 404, time.Millisecond)
	m.SessionAction("add_vertex")
	m.SessionAction("add_vertex")
	m.PlanSaved()
	m.HeadLossRecorded()
	m.Detour("north")
	m.Delivery("hook", nil)
	m.Delivery("hook", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/projects", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionActions.WithLabelValues("add_vertex")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlansSaved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeadLossRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteDetours.WithLabelValues("north")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("hook", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPDurations))
}

func TestNewMetricsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	require.NoError(t, err)
	b, err := NewMetrics(reg)
	require.NoError(t, err)
	a.PlanSaved()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.PlansSaved))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, 0)
		m.SessionAction("x")
		m.PlanSaved()
		m.HeadLossRecorded()
		m.Detour("east")
		m.Delivery("s", nil)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.PlanSaved()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "fieldplan_plans_saved_total 1")
}

func TestInitTracingEnabledExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{Enabled: true, ServiceName: "test", SampleRatio: 1, Writer: &buf}, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "unit")
	span.End()
	ShutdownWithTimeout(ctx, shutdown, nil)
	assert.Contains(t, buf.String(), `"Name":"unit"`)

	shutdown, err = InitTracing(ctx, TracingConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("FIELDPLAN_TRACING_ENABLED", "TRUE")
	t.Setenv("FIELDPLAN_TRACING_SAMPLE_RATIO", "0.25")
	cfg := TracingConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "fieldplan", cfg.ServiceName)
	assert.Equal(t, 0.25, cfg.SampleRatio)

	t.Setenv("FIELDPLAN_TRACING_SAMPLE_RATIO", "4")
	assert.Equal(t, 1.0, TracingConfigFromEnv().SampleRatio)
}

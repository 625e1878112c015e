package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.RunsTotal)
	assert.NotNil(t, m.RunDuration)
	assert.NotNil(t, m.ItemsCurated)
	assert.NotNil(t, m.RequestsTotal)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestMetrics_RecordRun(t *testing.T) {
	m := New()
	m.RecordRun("completed", 2*time.Second)
	m.RecordRun("completed", time.Second)
	m.RecordRun("error", time.Millisecond)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `discovery_runs_total{outcome="completed"} 2`)
	assert.Contains(t, body, `discovery_runs_total{outcome="error"} 1`)
	assert.Contains(t, body, `discovery_run_duration_seconds_count{outcome="completed"} 2`)
}

func TestMetrics_RecordDiscoveredAndCurated(t *testing.T) {
	m := New()
	m.RecordDiscovered(30, 4)
	m.RecordDiscovered(10, 0)
	m.RecordCurated(3)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "discovery_items_found_total 40")
	assert.Contains(t, body, "discovery_items_new_total 4")
	assert.Contains(t, body, "discovery_items_curated_total 3")
}

func TestMetrics_RecordTick(t *testing.T) {
	m := New()
	m.RecordTick(0)
	m.RecordTick(2)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "discovery_scheduler_ticks_total 2")
	assert.Contains(t, body, "discovery_scheduler_triggered_total 2")
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("POST", "/api/v1/agents/:id/run", "200", 10*time.Millisecond)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `discovery_api_requests_total{method="POST",route="/api/v1/agents/:id/run",status="200"} 1`)
}

func TestMetrics_RecordError(t *testing.T) {
	m := New()
	m.RecordError("curator", "artifact_fetch")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `discovery_errors_total{module="curator",type="artifact_fetch"} 1`)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	handler := m.Handler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestLivenessHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", ok, true)
	c.Register("github", ok, false)

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_CriticalDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", failing, true)
	c.Register("github", ok, false)

	results := c.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "github", results[0].Name)
	assert.Equal(t, StatusOK, results[0].Status)
	assert.Equal(t, "store", results[1].Name)
	assert.Equal(t, StatusDown, results[1].Status)
	assert.Equal(t, "connection refused", results[1].Error)
	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_NonCriticalDegrades(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("github", failing, false)

	results := c.RunAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, StatusDegraded, results[0].Status)
	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	assert.True(t, NewChecker(zerolog.Nop()).IsReady(context.Background()))
}

func TestChecker_TimeoutApplied(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) error {
		_, has := ctx.Deadline()
		if !has {
			return errors.New("no deadline")
		}
		return nil
	}, true)
	assert.True(t, c.IsReady(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", ok, true)

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status string   `json:"status"`
		Checks []Result `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	require.Len(t, body.Checks, 1)

	c.Register("store", failing, true)
	rr = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}

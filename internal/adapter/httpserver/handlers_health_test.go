package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamscout/internal/platform/version"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, warmingService())

	rec := do(t, srv, http.MethodGet, "/health/live")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestHandleReadiness_WarmingUp(t *testing.T) {
	srv := newTestServer(t, warmingService(), WithHealthChecks(HealthCheck{Name: "redis", Check: healthOK}))

	rec := do(t, srv, http.MethodGet, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"warming_up"}`, rec.Body.String())
}

func TestHandleReadiness_Ready(t *testing.T) {
	srv := newTestServer(t, readyService(), WithHealthChecks(HealthCheck{Name: "redis", Check: healthOK}))

	rec := do(t, srv, http.MethodGet, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleReadiness_DependencyDown(t *testing.T) {
	srv := newTestServer(t, readyService(), WithHealthChecks(
		HealthCheck{Name: "redis", Check: healthErr("connection refused")},
	))

	rec := do(t, srv, http.MethodGet, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{
		"error": "dependency check failed",
		"type": "unavailable",
		"context": {"failed_check": "redis", "reason": "connection refused"}
	}`, rec.Body.String())
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, readyService())

	rec := do(t, srv, http.MethodGet, "/version")

	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[version.Info](t, rec)
	assert.Equal(t, version.Service, info.Service)
	assert.NotEmpty(t, info.GoVersion)
}

func TestHandleRoot(t *testing.T) {
	srv := newTestServer(t, readyService())

	rec := do(t, srv, http.MethodGet, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analysis":"/api/v1/analyze"`)
	assert.Contains(t, rec.Body.String(), `"refresh_interval_minutes":15`)
	assert.NotContains(t, rec.Body.String(), "refresh_schedule")
}

func TestHandleRoot_CronScheduleOmitsInterval(t *testing.T) {
	srv := NewServer(Config{Port: "0", RefreshSchedule: "0 * * * *"}, readyService(), clockwork.NewFakeClockAt(testNow))

	rec := do(t, srv, http.MethodGet, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refresh_interval_minutes")
	assert.Contains(t, rec.Body.String(), `"refresh_schedule":"0 * * * *"`)
}

func TestHandleHealth_Ready(t *testing.T) {
	srv := newTestServer(t, readyService())

	rec := do(t, srv, http.MethodGet, "/api/v1/health")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.CacheActive)
	require.NotNil(t, resp.CacheAgeSeconds)
	assert.Equal(t, 120, *resp.CacheAgeSeconds)
	assert.Equal(t, 3, resp.RefreshCount)
	assert.Equal(t, "ok", resp.LastRefreshStatus)
	assert.InDelta(t, 1.5, resp.LastRefreshDuration, 1e-9)
	assert.Nil(t, resp.LastError)
}

func TestHandleHealth_WarmingUp(t *testing.T) {
	service := warmingService()
	service.health.Scheduler.LastError = "upstream list_categories fatal (status 401)"
	srv := newTestServer(t, service)

	rec := do(t, srv, http.MethodGet, "/api/v1/health")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.False(t, resp.CacheActive)
	assert.Nil(t, resp.CacheAgeSeconds)
	assert.True(t, resp.IsRefreshing)
	require.NotNil(t, resp.LastError)
	assert.Contains(t, *resp.LastError, "status 401")
	assert.Contains(t, rec.Body.String(), `"cache_age_seconds":null`)
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t, readyService())

	rec := do(t, srv, http.MethodGet, "/api/v1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[detailedStatusResponse](t, rec)
	assert.Equal(t, version.Service, resp.Service)
	assert.True(t, resp.Cache.HasData)
	assert.Equal(t, uint64(3), resp.Cache.Generation)
	assert.Equal(t, 780, resp.Cache.NextRefreshSeconds)
	assert.Equal(t, 3, resp.Cache.TotalRefreshes)
	assert.Equal(t, "ok", resp.Worker.LastStatus)
	require.NotNil(t, resp.Worker.LastSuccess)
	assert.True(t, resp.Worker.LastSuccess.Equal(testNow.Add(-2*time.Minute)))
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamscout/internal/app"
	"github.com/pscheid92/streamscout/internal/domain"
)

type staticReader struct {
	snapshot *domain.RankingSnapshot
	err      error
}

func (r staticReader) Read() (*domain.RankingSnapshot, time.Duration, error) {
	return r.snapshot, 0, r.err
}

type staticBudget int

func (b staticBudget) State() (int, time.Time) { return int(b), time.Time{} }

func TestRankingMetrics_RecordsBuildsAndUpstream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRankingMetrics(reg)

	m.BuildFinished(app.StatusOK, 2*time.Second)
	m.BuildFinished(app.StatusAborted, time.Second)
	m.BuildFinished(app.StatusOK, time.Second)
	m.UpstreamRequest("list_categories", nil)
	m.UpstreamRequest("list_categories", &domain.UpstreamError{Kind: domain.RateLimited})
	m.UpstreamRequest("category_streams", errors.New("reset"))
	m.UpstreamRetry("list_categories", domain.RateLimited)
	m.PageFailed()
	m.SnapshotInstalled(context.Background(), &domain.RankingSnapshot{Generation: 7, Entries: make([]domain.ScoredCategory, 42)})
	m.BreakerStateChanged("redis", "open")

	assert.InDelta(t, 2, testutil.ToFloat64(m.BuildsTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BuildsTotal.WithLabelValues("aborted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("list_categories", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("list_categories", "rate_limited")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("category_streams", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRetries.WithLabelValues("list_categories", "rate_limited")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PagesFailed), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.SnapshotGeneration), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.SnapshotEntries), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.BreakerState.WithLabelValues("redis")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.BuildDuration))
}

func TestCacheMetrics_GaugesReadOnScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg, staticReader{err: domain.ErrRankingUnavailable}, staticBudget(640))

	m.RankingRead("fresh")
	m.RankingRead("unavailable")
	m.RankingInvalidated()

	expected := `
# HELP streamscout_budget_remaining Upstream requests remaining in the current budget window.
# TYPE streamscout_budget_remaining gauge
streamscout_budget_remaining 640
# HELP streamscout_snapshot_age_seconds Age of the installed ranking snapshot in seconds (-1 when none is installed).
# TYPE streamscout_snapshot_age_seconds gauge
streamscout_snapshot_age_seconds -1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"streamscout_budget_remaining", "streamscout_snapshot_age_seconds"))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Reads.WithLabelValues("fresh")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invalidations), 0)
}

func TestHTTPMetrics_MiddlewareSkipsProbes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/analyze", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/api/v1/analyze", "/api/v1/analyze", "/health/live"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v1/analyze", "200")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
}

func TestHTTPMetrics_HTTPError(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	m.HTTPError("validation")
	m.HTTPError("validation")
	m.HTTPError("conflict")

	assert.InDelta(t, 2, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("validation")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("conflict")), 0)
}

func TestWebSocketMetrics(t *testing.T) {
	m := NewWebSocketMetrics(prometheus.NewRegistry())

	m.Connected()
	m.Connected()
	m.Disconnected()
	m.Published(nil)
	m.Published(errors.New("broker down"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveConnections), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("error")), 0)
}

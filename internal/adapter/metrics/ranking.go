package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamscout/internal/app"
	"github.com/pscheid92/streamscout/internal/domain"
)

// RankingMetrics holds Prometheus metrics for refresh passes and the upstream
// requests they issue. It implements the ranking and app observer interfaces.
type RankingMetrics struct {
	BuildsTotal        *prometheus.CounterVec
	BuildDuration      prometheus.Histogram
	SnapshotGeneration prometheus.Gauge
	SnapshotEntries    prometheus.Gauge
	PagesFailed        prometheus.Counter
	UpstreamRequests   *prometheus.CounterVec
	UpstreamRetries    *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
}

// NewRankingMetrics creates and registers ranking metrics on the given registry.
func NewRankingMetrics(reg prometheus.Registerer) *RankingMetrics {
	m := &RankingMetrics{
		BuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Total number of ranking builds, by result.",
		}, []string{"result"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of ranking builds in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		SnapshotGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_generation",
			Help:      "Generation of the installed ranking snapshot.",
		}),
		SnapshotEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_entries",
			Help:      "Number of entries in the installed ranking snapshot.",
		}),
		PagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_failed_total",
			Help:      "Total number of upstream pages skipped after exhausting retries.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream requests, by operation and result.",
		}, []string{"op", "result"}),
		UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total number of upstream request retries, by operation and error kind.",
		}, []string{"op", "kind"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.BuildsTotal, m.BuildDuration, m.SnapshotGeneration, m.SnapshotEntries,
		m.PagesFailed, m.UpstreamRequests, m.UpstreamRetries, m.BreakerState,
	)
	return m
}

func (m *RankingMetrics) UpstreamRequest(op string, err error) {
	m.UpstreamRequests.WithLabelValues(op, requestResult(err)).Inc()
}

func (m *RankingMetrics) UpstreamRetry(op string, kind domain.UpstreamErrorKind) {
	m.UpstreamRetries.WithLabelValues(op, kind.String()).Inc()
}

func (m *RankingMetrics) PageFailed() {
	m.PagesFailed.Inc()
}

func (m *RankingMetrics) BuildFinished(status app.BuildStatus, duration time.Duration) {
	m.BuildsTotal.WithLabelValues(string(status)).Inc()
	m.BuildDuration.Observe(duration.Seconds())
}

func (m *RankingMetrics) SnapshotInstalled(_ context.Context, snapshot *domain.RankingSnapshot) {
	m.SnapshotGeneration.Set(float64(snapshot.Generation))
	m.SnapshotEntries.Set(float64(len(snapshot.Entries)))
}

func (m *RankingMetrics) BreakerStateChanged(component, state string) {
	m.BreakerState.WithLabelValues(component).Set(breakerStateValue(state))
}

func requestResult(err error) string {
	if err == nil {
		return "ok"
	}
	if ue, ok := errors.AsType[*domain.UpstreamError](err); ok {
		return ue.Kind.String()
	}
	return "error"
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

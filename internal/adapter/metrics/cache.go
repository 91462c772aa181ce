package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamscout/internal/domain"
)

// SnapshotReader reads the installed snapshot and its age.
type SnapshotReader interface {
	Read() (*domain.RankingSnapshot, time.Duration, error)
}

// BudgetState reports the remaining upstream request allowance.
type BudgetState interface {
	State() (int, time.Time)
}

// CacheMetrics holds Prometheus metrics for ranking reads and cache freshness.
type CacheMetrics struct {
	Reads         *prometheus.CounterVec
	Invalidations prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics on the given registry. The
// snapshot age and budget gauges are read on every scrape.
func NewCacheMetrics(reg prometheus.Registerer, snapshots SnapshotReader, budget BudgetState) *CacheMetrics {
	m := &CacheMetrics{
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "reads_total",
			Help:      "Total number of ranking reads, by result.",
		}, []string{"result"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "invalidations_total",
			Help:      "Total number of manual ranking invalidations.",
		}),
	}
	reg.MustRegister(m.Reads, m.Invalidations)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_age_seconds",
		Help:      "Age of the installed ranking snapshot in seconds (-1 when none is installed).",
	}, func() float64 {
		snapshot, _, err := snapshots.Read()
		if err != nil {
			return -1
		}
		return time.Since(snapshot.ComputedAt).Seconds()
	}))

	if budget != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining",
			Help:      "Upstream requests remaining in the current budget window.",
		}, func() float64 {
			remaining, _ := budget.State()
			return float64(remaining)
		}))
	}
	return m
}

// RankingRead records one read with its outcome: fresh, stale or unavailable.
func (m *CacheMetrics) RankingRead(result string) {
	m.Reads.WithLabelValues(result).Inc()
}

func (m *CacheMetrics) RankingInvalidated() {
	m.Invalidations.Inc()
}

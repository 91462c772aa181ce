package ranking

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamscout/internal/domain"
)

func newTestScorer(t *testing.T, k float64, floor int) *Scorer {
	t.Helper()
	s, err := NewScorer(ScoringConfig{Smoothing: k, MinViewers: floor})
	require.NoError(t, err)
	return s
}

func metric(id string, viewers, broadcasters int) domain.CategoryMetric {
	return domain.CategoryMetric{ID: id, Name: "cat-" + id, Viewers: viewers, Broadcasters: broadcasters}
}

func TestNewScorer_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ScoringConfig
	}{
		{"zero smoothing", ScoringConfig{Smoothing: 0}},
		{"negative smoothing", ScoringConfig{Smoothing: -1}},
		{"negative floor", ScoringConfig{Smoothing: 50, MinViewers: -1}},
		{"share above one", ScoringConfig{Smoothing: 50, MaxTopChannelShare: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScorer(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestScore_SmoothingFavoursLowSupply(t *testing.T) {
	s := newTestScorer(t, 50, 10)
	a := metric("A", 1000, 10)
	b := metric("B", 1000, 0)

	assert.InDelta(t, 16.67, s.Score(a), 0.01)
	assert.InDelta(t, 20.0, s.Score(b), 1e-9)

	ranked, eligible := s.Rank([]domain.CategoryMetric{a, b}, 100)
	require.Len(t, ranked, 2)
	assert.Equal(t, 2, eligible)
	assert.Equal(t, "B", ranked[0].ID)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, "A", ranked[1].ID)
	assert.Equal(t, 2, ranked[1].Rank)
}

func TestScore_TrivialCategoryDoesNotOutrankLargeOne(t *testing.T) {
	s := newTestScorer(t, 50, 0)

	ranked, _ := s.Rank([]domain.CategoryMetric{metric("tiny", 1, 0), metric("big", 50000, 200)}, 100)

	require.Len(t, ranked, 2)
	assert.Equal(t, "big", ranked[0].ID)
}

func TestRank_EligibilityFloorExcludesBeforeScoring(t *testing.T) {
	s := newTestScorer(t, 1, 10)

	ranked, eligible := s.Rank([]domain.CategoryMetric{metric("empty", 5, 0), metric("ok", 10, 50)}, 100)

	require.Len(t, ranked, 1)
	assert.Equal(t, 1, eligible)
	assert.Equal(t, "ok", ranked[0].ID)
}

func TestRank_TieBreakByViewersThenID(t *testing.T) {
	s := newTestScorer(t, 50, 0)
	metrics := []domain.CategoryMetric{
		metric("b", 100, 50),  // 1.0
		metric("c", 200, 150), // 1.0, more viewers
		metric("a", 100, 50),  // 1.0, same viewers, lower id
	}

	ranked, _ := s.Rank(metrics, 100)

	ids := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestRank_TopChannelShareFilter(t *testing.T) {
	s, err := NewScorer(ScoringConfig{Smoothing: 50, MaxTopChannelShare: 0.7})
	require.NoError(t, err)

	dominated := metric("dominated", 1000, 5)
	dominated.TopChannelViewers = 900
	spread := metric("spread", 1000, 5)
	spread.TopChannelViewers = 300

	ranked, eligible := s.Rank([]domain.CategoryMetric{dominated, spread}, 100)

	require.Len(t, ranked, 1)
	assert.Equal(t, 1, eligible)
	assert.Equal(t, "spread", ranked[0].ID)
}

func TestRank_TruncatesToLimit(t *testing.T) {
	s := newTestScorer(t, 50, 10)
	metrics := make([]domain.CategoryMetric, 0, 150)
	for i := range 150 {
		metrics = append(metrics, metric(fmt.Sprintf("c%03d", i), 10+i, i%7))
	}
	metrics = append(metrics, metric("below-floor", 9, 0))

	ranked, eligible := s.Rank(metrics, domain.MaxRankingSize)

	assert.Len(t, ranked, domain.MaxRankingSize)
	assert.Equal(t, 150, eligible)
}

func TestRank_OrderAndDenseRanksHoldForRandomInput(t *testing.T) {
	s := newTestScorer(t, 50, 10)
	rng := rand.New(rand.NewPCG(1, 2))

	for round := range 20 {
		n := rng.IntN(200)
		metrics := make([]domain.CategoryMetric, 0, n)
		for i := range n {
			metrics = append(metrics, metric(fmt.Sprintf("r%d-%d", round, i), rng.IntN(500), rng.IntN(20)))
		}

		ranked, eligible := s.Rank(metrics, domain.MaxRankingSize)

		assert.Len(t, ranked, min(domain.MaxRankingSize, eligible))
		for i, e := range ranked {
			assert.Equal(t, i+1, e.Rank)
			assert.GreaterOrEqual(t, e.Viewers, 10)
			if i == 0 {
				continue
			}
			prev := ranked[i-1]
			assert.LessOrEqual(t, compareScored(prev, e), 0, "entries %d and %d out of order", i-1, i)
			assert.GreaterOrEqual(t, prev.Score, e.Score)
		}
	}
}

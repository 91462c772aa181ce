package ranking

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/pscheid92/streamscout/internal/domain"
)

type ScoringConfig struct {
	// Smoothing is the constant K added to the broadcaster count. Must be > 0.
	Smoothing float64
	// MinViewers excludes categories below this audience before scoring.
	MinViewers int
	// MaxTopChannelShare excludes categories where one broadcaster holds more
	// than this fraction of all viewers. Zero disables the filter.
	MaxTopChannelShare float64
}

// Scorer rates categories by viewers / (broadcasters + K).
type Scorer struct {
	cfg ScoringConfig
}

func NewScorer(cfg ScoringConfig) (*Scorer, error) {
	if !(cfg.Smoothing > 0) {
		return nil, fmt.Errorf("smoothing constant must be > 0, got %v", cfg.Smoothing)
	}
	if cfg.MinViewers < 0 {
		return nil, errors.New("eligibility floor must not be negative")
	}
	if cfg.MaxTopChannelShare < 0 || cfg.MaxTopChannelShare > 1 {
		return nil, fmt.Errorf("top channel share must be within [0, 1], got %v", cfg.MaxTopChannelShare)
	}
	return &Scorer{cfg: cfg}, nil
}

func (s *Scorer) Score(m domain.CategoryMetric) float64 {
	return float64(m.Viewers) / (float64(m.Broadcasters) + s.cfg.Smoothing)
}

// Eligible reports whether m may be scored at all.
func (s *Scorer) Eligible(m domain.CategoryMetric) bool {
	if m.Viewers < s.cfg.MinViewers {
		return false
	}
	if s.cfg.MaxTopChannelShare > 0 && m.TopChannelShare() > s.cfg.MaxTopChannelShare {
		return false
	}
	return true
}

// Rank scores the eligible metrics, orders them and assigns ranks 1..n, keeping
// at most limit entries. It also returns how many metrics were eligible.
func (s *Scorer) Rank(metrics []domain.CategoryMetric, limit int) ([]domain.ScoredCategory, int) {
	scored := make([]domain.ScoredCategory, 0, len(metrics))
	for _, m := range metrics {
		if s.Eligible(m) {
			scored = append(scored, domain.ScoredCategory{CategoryMetric: m, Score: s.Score(m)})
		}
	}
	eligible := len(scored)

	slices.SortFunc(scored, compareScored)

	if limit >= 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, eligible
}

// compareScored orders by score descending, then viewers descending, then id.
func compareScored(a, b domain.ScoredCategory) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Viewers, a.Viewers); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

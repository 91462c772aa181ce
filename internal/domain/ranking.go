package domain

import "time"

// MaxRankingSize is the upper bound on entries in a RankingSnapshot.
const MaxRankingSize = 100

// ScoredCategory is a CategoryMetric with its opportunity score and 1-based rank.
type ScoredCategory struct {
	CategoryMetric
	Score float64
	Rank  int
}

// RankingSnapshot is the complete result of one refresh pass. It is immutable once
// built; readers must not modify Entries.
type RankingSnapshot struct {
	Entries    []ScoredCategory
	ComputedAt time.Time
	Generation uint64

	// Partial is set when some pages failed within their retry budget.
	Partial            bool
	PagesFetched       int
	PagesFailed        int
	CategoriesObserved int
	EligibleCount      int
	BuildID            string
	BuildDuration      time.Duration
}

// Top returns a copy of at most n leading entries.
func (s *RankingSnapshot) Top(n int) []ScoredCategory {
	if n < 0 || n > len(s.Entries) {
		n = len(s.Entries)
	}
	out := make([]ScoredCategory, n)
	copy(out, s.Entries[:n])
	return out
}

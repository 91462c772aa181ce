package ranking

import "github.com/pscheid92/streamscout/internal/domain"

// Aggregate normalizes one raw page into category metrics. Duplicate ids within
// the page resolve last-seen-wins at the position of their first occurrence.
// Records carrying neither a viewer nor a broadcaster signal are dropped, as
// are truncated records whose counts are incomplete; a single missing signal
// counts as zero and negative counts are clamped.
func Aggregate(page domain.RawPage) []domain.CategoryMetric {
	var set metricSet
	for _, rec := range page.Records {
		if rec.ID == "" || rec.Truncated || (rec.Viewers == nil && rec.Broadcasters == nil) {
			continue
		}
		set.put(domain.CategoryMetric{
			ID:                rec.ID,
			Name:              rec.Name,
			Viewers:           count(rec.Viewers),
			Broadcasters:      count(rec.Broadcasters),
			BoxArtURL:         rec.BoxArtURL,
			TopChannelViewers: max(0, rec.TopChannelViewers),
		})
	}
	return set.items
}

func count(v *int) int {
	if v == nil {
		return 0
	}
	return max(0, *v)
}

// metricSet accumulates metrics across the pages of one pass, last-seen-wins.
type metricSet struct {
	index map[string]int
	items []domain.CategoryMetric
}

func (s *metricSet) put(m domain.CategoryMetric) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[m.ID]; ok {
		s.items[i] = m
		return
	}
	s.index[m.ID] = len(s.items)
	s.items = append(s.items, m)
}

func (s *metricSet) merge(metrics []domain.CategoryMetric) {
	for _, m := range metrics {
		s.put(m)
	}
}

func (s *metricSet) len() int { return len(s.items) }

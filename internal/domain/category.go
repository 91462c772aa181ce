package domain

// Category is a live game/content classification as listed by the upstream platform.
type Category struct {
	ID        string
	Name      string
	BoxArtURL string
}

// RawCategory is one upstream record for a category within a page. Viewers and
// Broadcasters are nil when the upstream did not deliver that signal. Truncated
// is set when the stream listing was cut before end-of-data, so the counts
// cover only part of the category.
type RawCategory struct {
	ID                string
	Name              string
	BoxArtURL         string
	Viewers           *int
	Broadcasters      *int
	TopChannelViewers int
	Truncated         bool
}

// RawPage is one page of raw category records. Next is empty at end-of-data.
type RawPage struct {
	Records []RawCategory
	Next    string
}

// Truncated counts the records whose stream listing was cut.
func (p RawPage) Truncated() int {
	n := 0
	for _, rec := range p.Records {
		if rec.Truncated {
			n++
		}
	}
	return n
}

// CategoryMetric is the normalized audience/supply record for one category in a pass.
type CategoryMetric struct {
	ID                string
	Name              string
	Viewers           int
	Broadcasters      int
	BoxArtURL         string
	TopChannelViewers int
}

// AvgViewersPerChannel returns viewers per live broadcaster, or 0 with no broadcasters.
func (m CategoryMetric) AvgViewersPerChannel() float64 {
	if m.Broadcasters == 0 {
		return 0
	}
	return float64(m.Viewers) / float64(m.Broadcasters)
}

// TopChannelShare returns the fraction of the category's viewers watching its
// largest broadcaster.
func (m CategoryMetric) TopChannelShare() float64 {
	if m.Viewers == 0 {
		return 0
	}
	return float64(m.TopChannelViewers) / float64(m.Viewers)
}

package ranking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamscout/internal/domain"
	"github.com/pscheid92/streamscout/internal/platform/correlation"
)

// PageFetcher reads one raw page at cursor.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (domain.RawPage, error)
}

// BuildObserver is notified of pages skipped after exhausting their retries.
type BuildObserver interface {
	PageFailed()
}

type BuilderConfig struct {
	// MaxPages caps the upstream pages read per pass.
	MaxPages int
	// Size caps the snapshot length, at most domain.MaxRankingSize.
	Size int
}

// Builder runs one full refresh pass and produces a RankingSnapshot.
type Builder struct {
	fetcher  PageFetcher
	scorer   *Scorer
	clock    clockwork.Clock
	cfg      BuilderConfig
	observer BuildObserver
}

func NewBuilder(fetcher PageFetcher, scorer *Scorer, clock clockwork.Clock, cfg BuilderConfig, observer BuildObserver) *Builder {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.Size < 1 || cfg.Size > domain.MaxRankingSize {
		cfg.Size = domain.MaxRankingSize
	}
	return &Builder{fetcher: fetcher, scorer: scorer, clock: clock, cfg: cfg, observer: observer}
}

// Build drives the fetcher from the first page until end-of-data, MaxPages or a
// repeated cursor. Pages failing with Transient are skipped and mark the snapshot
// partial, as do pages holding a truncated category; a fatal error or
// cancellation aborts the pass. The returned snapshot
// has no generation until the cache installs it.
func (b *Builder) Build(ctx context.Context) (*domain.RankingSnapshot, error) {
	buildID := uuid.NewString()
	ctx = correlation.WithBuild(ctx, buildID)
	start := b.clock.Now()

	var (
		set     metricSet
		fetched int
		failed  int
		merged  bool
		cursor  string
		seen    = make(map[string]struct{})
	)

	for page := 1; page <= b.cfg.MaxPages; page++ {
		raw, err := b.fetcher.FetchPage(ctx, cursor)

		var next string
		switch {
		case err == nil:
			set.merge(Aggregate(raw))
			next = raw.Next
			if n := raw.Truncated(); n > 0 {
				failed++
				if b.observer != nil {
					b.observer.PageFailed()
				}
				slog.WarnContext(ctx, "Ranking page has truncated categories", "page", page, "truncated", n)
			} else {
				fetched++
			}
			merged = true
		case skippable(err):
			failed++
			if b.observer != nil {
				b.observer.PageFailed()
			}
			ue, _ := errors.AsType[*domain.UpstreamError](err)
			next = ue.Next
			slog.WarnContext(ctx, "Ranking page failed, skipping", "page", page, "can_continue", next != "", "error", err)
		default:
			slog.ErrorContext(ctx, "Ranking build aborted", "page", page, "error", err)
			return nil, &domain.BuildError{Kind: domain.Aborted, Page: page, Err: err}
		}

		if next == "" {
			break
		}
		if _, dup := seen[next]; dup {
			slog.WarnContext(ctx, "Upstream repeated a cursor, ending pagination", "page", page)
			break
		}
		seen[next] = struct{}{}
		cursor = next
	}

	if !merged && failed > 0 {
		return nil, &domain.BuildError{
			Kind: domain.PartialUpstreamFailure,
			Page: failed,
			Err:  errors.New("no upstream page could be fetched"),
		}
	}

	entries, eligible := b.scorer.Rank(set.items, b.cfg.Size)
	now := b.clock.Now()
	snapshot := &domain.RankingSnapshot{
		Entries:            entries,
		ComputedAt:         now,
		Partial:            failed > 0,
		PagesFetched:       fetched,
		PagesFailed:        failed,
		CategoriesObserved: set.len(),
		EligibleCount:      eligible,
		BuildID:            buildID,
		BuildDuration:      now.Sub(start),
	}

	slog.InfoContext(ctx, "Ranking built",
		"entries", len(entries),
		"eligible", eligible,
		"categories", set.len(),
		"pages_fetched", fetched,
		"pages_failed", failed,
		"duration", snapshot.BuildDuration)
	return snapshot, nil
}

func skippable(err error) bool {
	ue, ok := errors.AsType[*domain.UpstreamError](err)
	return ok && ue.Kind != domain.Fatal
}

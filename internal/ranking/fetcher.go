package ranking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pscheid92/streamscout/internal/domain"
	"github.com/pscheid92/streamscout/internal/platform/retry"
)

// Upstream operation names used in errors, logs and metrics.
const (
	OpListCategories  = "list_categories"
	OpCategoryStreams = "category_streams"
)

// FetchObserver is notified of every upstream request and retry.
type FetchObserver interface {
	UpstreamRequest(op string, err error)
	UpstreamRetry(op string, kind domain.UpstreamErrorKind)
}

type FetcherConfig struct {
	// StreamPages optionally caps the stream listing pages read per category.
	// Zero follows the listing until end-of-data.
	StreamPages int
	// Concurrency caps parallel per-category requests within a page.
	Concurrency int
	Retry       retry.Policy
	// Limiter optionally paces upstream requests. Nil means unpaced.
	Limiter *rate.Limiter
}

// Fetcher turns upstream requests into raw category pages. Each request waits
// for the request budget and is retried per Retry; a page made of several
// requests fails as a whole when any of them exhausts its attempts.
type Fetcher struct {
	source   domain.CategorySource
	budget   domain.RequestBudget
	cfg      FetcherConfig
	observer FetchObserver
}

func NewFetcher(source domain.CategorySource, budget domain.RequestBudget, cfg FetcherConfig, observer FetchObserver) *Fetcher {
	if cfg.StreamPages < 0 {
		cfg.StreamPages = 0
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Fetcher{source: source, budget: budget, cfg: cfg, observer: observer}
}

// FetchPage reads one page of categories starting at cursor, together with the
// live audience of each category. Errors are *domain.UpstreamError or the
// context error.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) (domain.RawPage, error) {
	listing, err := call(ctx, f, OpListCategories, func(ctx context.Context) (domain.CategoryPage, error) {
		return f.source.ListCategories(ctx, cursor)
	})
	if err != nil {
		return domain.RawPage{}, err
	}

	records := make([]domain.RawCategory, len(listing.Categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, c := range listing.Categories {
		g.Go(func() error {
			rec, err := f.categoryRecord(gctx, c)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return domain.RawPage{}, ctx.Err()
		}
		if ue, ok := errors.AsType[*domain.UpstreamError](err); ok && ue.Kind == domain.Transient {
			skippable := *ue
			skippable.Next = listing.Next
			return domain.RawPage{}, &skippable
		}
		return domain.RawPage{}, err
	}

	return domain.RawPage{Records: records, Next: listing.Next}, nil
}

func (f *Fetcher) categoryRecord(ctx context.Context, c domain.Category) (domain.RawCategory, error) {
	var viewers, broadcasters, top int
	truncated := false
	cursor := ""
	seen := make(map[string]struct{})
	for pages := 1; ; pages++ {
		page, err := call(ctx, f, OpCategoryStreams, func(ctx context.Context) (domain.StreamPage, error) {
			return f.source.CategoryStreams(ctx, c.ID, cursor)
		})
		if err != nil {
			return domain.RawCategory{}, err
		}
		for _, v := range page.ViewerCounts {
			viewers += v
			broadcasters++
			top = max(top, v)
		}
		if page.Next == "" {
			break
		}
		if _, dup := seen[page.Next]; dup || page.Next == cursor {
			break
		}
		if f.cfg.StreamPages > 0 && pages >= f.cfg.StreamPages {
			truncated = true
			slog.WarnContext(ctx, "Stream listing cut at page cap",
				"category_id", c.ID, "pages", pages, "broadcasters_seen", broadcasters)
			break
		}
		seen[page.Next] = struct{}{}
		cursor = page.Next
	}

	return domain.RawCategory{
		ID:                c.ID,
		Name:              c.Name,
		BoxArtURL:         c.BoxArtURL,
		Viewers:           &viewers,
		Broadcasters:      &broadcasters,
		TopChannelViewers: top,
		Truncated:         truncated,
	}, nil
}

// call issues one upstream request with pacing, budget and retries. Exhausted
// retries escalate to a Transient error for op.
func call[T any](ctx context.Context, f *Fetcher, op string, fn func(context.Context) (T, error)) (T, error) {
	policy := f.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		kind := kindOf(err)
		f.observer.UpstreamRetry(op, kind)
		slog.DebugContext(ctx, "Upstream request failed, retrying",
			"op", op, "attempt", attempt, "kind", kind.String(), "wait", wait, "error", err)
	}

	val, err := retry.Do(ctx, policy, classify, func() (T, error) {
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx); err != nil {
				var zero T
				return zero, &pacingError{err: err}
			}
		}
		if err := f.budget.Acquire(ctx); err != nil {
			var zero T
			return zero, err
		}
		v, err := fn(ctx)
		f.observer.UpstreamRequest(op, err)
		return v, err
	})
	if err == nil {
		return val, nil
	}
	var zero T
	return zero, escalate(ctx, op, err)
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	if _, ok := errors.AsType[*pacingError](err); ok {
		return retry.Stop
	}
	ue, ok := errors.AsType[*domain.UpstreamError](err)
	if !ok {
		return retry.Retry
	}
	switch ue.Kind {
	case domain.RateLimited:
		return retry.After
	case domain.Fatal:
		return retry.Stop
	default:
		return retry.Retry
	}
}

func escalate(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pe, ok := errors.AsType[*pacingError](err); ok {
		return pe
	}
	if ue, ok := errors.AsType[*domain.UpstreamError](err); ok && ue.Kind == domain.Fatal {
		return ue
	}
	status := 0
	if ue, ok := errors.AsType[*domain.UpstreamError](err); ok {
		status = ue.StatusCode
	}
	return &domain.UpstreamError{Kind: domain.Transient, Op: op, StatusCode: status, Err: err}
}

func kindOf(err error) domain.UpstreamErrorKind {
	if ue, ok := errors.AsType[*domain.UpstreamError](err); ok {
		return ue.Kind
	}
	return domain.Transient
}

// pacingError reports that the limiter refused to wait, typically because the
// next token lies beyond the context deadline. It aborts the build.
type pacingError struct{ err error }

func (e *pacingError) Error() string { return "upstream pacing: " + e.err.Error() }
func (e *pacingError) Unwrap() error { return e.err }

type noopObserver struct{}

func (noopObserver) UpstreamRequest(string, error)                  {}
func (noopObserver) UpstreamRetry(string, domain.UpstreamErrorKind) {}

package domain

import (
	"context"
	"time"
)

// CategoryPage is one page of the upstream category listing.
type CategoryPage struct {
	Categories []Category
	Next       string
}

// StreamPage is one page of live broadcasts in a category.
type StreamPage struct {
	ViewerCounts []int
	Next         string
}

// CategorySource is the paginated upstream data source. Every call is exactly one
// upstream request and fails with *UpstreamError.
type CategorySource interface {
	ListCategories(ctx context.Context, cursor string) (CategoryPage, error)
	CategoryStreams(ctx context.Context, categoryID, cursor string) (StreamPage, error)
}

// RequestBudget tracks the upstream request allowance shared by every call.
type RequestBudget interface {
	// Acquire blocks until one request may be issued or ctx is done.
	Acquire(ctx context.Context) error
	// Observe records the allowance reported by the upstream.
	Observe(remaining int, resetAt time.Time)
}

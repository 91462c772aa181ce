// Package budget implements the process-local upstream request allowance.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Budget is a fixed-window request allowance. The window is restarted locally
// when it elapses and re-aligned whenever the upstream reports its own window.
type Budget struct {
	clock   clockwork.Clock
	ceiling int
	window  time.Duration
	maxWait time.Duration

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// New returns a full budget of ceiling requests per window. maxWait bounds any
// single wait, including reset times reported by the upstream.
func New(clock clockwork.Clock, ceiling int, window, maxWait time.Duration) *Budget {
	if maxWait <= 0 {
		maxWait = window
	}
	return &Budget{
		clock:     clock,
		ceiling:   ceiling,
		window:    window,
		maxWait:   maxWait,
		remaining: ceiling,
		resetAt:   clock.Now().Add(window),
	}
}

// Acquire takes one request from the budget, waiting for the window to reset
// when it is exhausted. It returns only when a request may be issued or ctx is done.
func (b *Budget) Acquire(ctx context.Context) error {
	for {
		wait, ok := b.take()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for request budget: %w", ctx.Err())
		case <-b.clock.After(wait):
		}
	}
}

func (b *Budget) take() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if !now.Before(b.resetAt) {
		b.remaining = b.ceiling
		b.resetAt = now.Add(b.window)
	}
	if b.remaining > 0 {
		b.remaining--
		return 0, true
	}
	return min(b.resetAt.Sub(now), b.maxWait), false
}

// Observe aligns the budget with the allowance reported by the upstream. A
// different reset time re-aligns the window to the upstream's; within the same
// window the lower count wins, since responses of concurrent requests arrive out
// of order. Reports whose window already elapsed are ignored.
func (b *Budget) Observe(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining = max(0, min(remaining, b.ceiling))
	if resetAt.IsZero() {
		b.remaining = min(b.remaining, remaining)
		return
	}

	now := b.clock.Now()
	if !resetAt.After(now) {
		return
	}
	if limit := now.Add(b.maxWait); resetAt.After(limit) {
		resetAt = limit
	}

	if resetAt.Equal(b.resetAt) {
		b.remaining = min(b.remaining, remaining)
		return
	}
	b.resetAt = resetAt
	b.remaining = remaining
}

// State returns the remaining allowance and the end of the current window.
func (b *Budget) State() (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.resetAt
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, exponential backoff with jitter
	After               // rate-limited, wait for the upstream hint or RateLimitBackoff
)

// Hinted is implemented by errors that carry an upstream retry-after delay.
type Hinted interface {
	error
	Delay() time.Duration
}

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration
	// MaxBackoff caps every wait, including upstream hints. Zero means uncapped.
	MaxBackoff time.Duration
	// Jitter is the fraction (0..1) of randomisation applied to each wait.
	Jitter  float64
	Clock   clockwork.Clock
	OnRetry func(attempt int, err error, backoff time.Duration)
}

type Classify func(err error) Action
type Operation[T any] func() (T, error)

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			var zero T
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			var zero T
			return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: err}
		}

		wait := p.waitFor(action, err, backoff)

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-clock.After(wait):
			backoff = p.capped(backoff * 2)
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

func (p Policy) waitFor(action Action, err error, backoff time.Duration) time.Duration {
	if action == After {
		wait := p.RateLimitBackoff
		if h, ok := errors.AsType[Hinted](err); ok && h.Delay() > 0 {
			wait = h.Delay()
		}
		// Never wake before the upstream window resets.
		return p.capped(wait + p.spread(wait))
	}
	wait := p.capped(backoff)
	return wait - p.spread(wait)
}

func (p Policy) spread(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * p.Jitter * float64(d))
}

func (p Policy) capped(d time.Duration) time.Duration {
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *ExhaustedError) Unwrap() error { return e.Err }

package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRankingUnavailable means no snapshot has been installed yet.
	ErrRankingUnavailable = errors.New("ranking not yet available")
	// ErrBuildInProgress means a trigger was coalesced into the running build.
	ErrBuildInProgress = errors.New("ranking build already in progress")
)

// UpstreamErrorKind classifies upstream failures for retry decisions.
type UpstreamErrorKind int

const (
	RateLimited UpstreamErrorKind = iota
	Transient
	Fatal
)

func (k UpstreamErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// UpstreamError is returned by CategorySource calls and by the Fetcher.
type UpstreamError struct {
	Kind       UpstreamErrorKind
	Op         string
	StatusCode int
	// RetryAfter is the upstream hint for RateLimited errors.
	RetryAfter time.Duration
	// Next is the continuation cursor of a failed page, when it is known.
	Next string
	Err  error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream %s %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Delay implements retry.Hinted.
func (e *UpstreamError) Delay() time.Duration { return e.RetryAfter }

// IsFatal reports whether err carries a Fatal upstream error.
func IsFatal(err error) bool {
	ue, ok := errors.AsType[*UpstreamError](err)
	return ok && ue.Kind == Fatal
}

// BuildErrorKind classifies failed refresh passes.
type BuildErrorKind int

const (
	// Aborted means a fatal upstream error or cancellation stopped the pass.
	Aborted BuildErrorKind = iota
	// PartialUpstreamFailure means every attempted page failed.
	PartialUpstreamFailure
)

func (k BuildErrorKind) String() string {
	switch k {
	case Aborted:
		return "aborted"
	case PartialUpstreamFailure:
		return "partial_upstream_failure"
	default:
		return "unknown"
	}
}

// BuildError is returned by the ranking builder when no snapshot can be produced.
type BuildError struct {
	Kind BuildErrorKind
	// Page is the 1-based page index at which the pass stopped.
	Page int
	Err  error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ranking build %s at page %d: %v", e.Kind, e.Page, e.Err)
	}
	return fmt.Sprintf("ranking build %s at page %d", e.Kind, e.Page)
}

func (e *BuildError) Unwrap() error { return e.Err }

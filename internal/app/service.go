package app

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamscout/internal/domain"
	"github.com/pscheid92/streamscout/internal/ranking"
)

// RankingView is what a reader receives: the leading entries of the installed
// snapshot together with freshness information.
type RankingView struct {
	Entries       []domain.ScoredCategory
	Generation    uint64
	ComputedAt    time.Time
	Partial       bool
	Age           time.Duration
	Stale         bool
	Invalidated   bool
	Refreshing    bool
	NextRefresh   time.Time
	TotalEligible int
}

// Health summarizes readiness for probes and the status endpoint.
type Health struct {
	Ready           bool
	Generation      uint64
	LastBuildAge    time.Duration
	LastBuildStatus BuildStatus
	Scheduler       SchedulerStatus
}

// ReadRecorder is notified of every ranking read and manual invalidation.
type ReadRecorder interface {
	RankingRead(result string)
	RankingInvalidated()
}

// Service is the boundary used by the transport layer. Reads never wait for a
// build and never reach the upstream.
type Service struct {
	cache      *ranking.Cache
	scheduler  *Scheduler
	clock      clockwork.Clock
	staleAfter time.Duration
	recorder   ReadRecorder
}

// NewService builds the read boundary. recorder may be nil.
func NewService(cache *ranking.Cache, scheduler *Scheduler, clock clockwork.Clock, staleAfter time.Duration, recorder ReadRecorder) *Service {
	return &Service{cache: cache, scheduler: scheduler, clock: clock, staleAfter: staleAfter, recorder: recorder}
}

// GetRanking returns at most limit entries of the current snapshot, or
// domain.ErrRankingUnavailable before the first successful build.
func (s *Service) GetRanking(limit int) (RankingView, error) {
	snapshot, cacheAge, err := s.cache.Read()
	if err != nil {
		s.recordRead("unavailable")
		return RankingView{}, err
	}

	stale := s.staleAfter > 0 && cacheAge > s.staleAfter
	if stale {
		s.recordRead("stale")
	} else {
		s.recordRead("fresh")
	}

	if limit < 1 || limit > domain.MaxRankingSize {
		limit = domain.MaxRankingSize
	}

	status := s.scheduler.Status()
	return RankingView{
		Entries:       snapshot.Top(limit),
		Generation:    snapshot.Generation,
		ComputedAt:    snapshot.ComputedAt,
		Partial:       snapshot.Partial,
		Age:           max(0, s.clock.Since(snapshot.ComputedAt)),
		Stale:         stale,
		Invalidated:   cacheAge == ranking.MaxAge,
		Refreshing:    status.Running,
		NextRefresh:   status.NextRun,
		TotalEligible: snapshot.EligibleCount,
	}, nil
}

// ForceRefresh marks the current snapshot overdue and starts a build. It returns
// domain.ErrBuildInProgress without side effects when a build is running.
func (s *Service) ForceRefresh() error {
	if s.scheduler.Running() {
		return domain.ErrBuildInProgress
	}
	if s.cache.Invalidate() && s.recorder != nil {
		s.recorder.RankingInvalidated()
	}
	if !s.scheduler.Trigger() {
		return domain.ErrBuildInProgress
	}
	return nil
}

func (s *Service) Health() Health {
	status := s.scheduler.Status()
	h := Health{
		LastBuildStatus: status.LastStatus,
		Scheduler:       status,
	}

	snapshot, _, err := s.cache.Read()
	if err != nil {
		return h
	}
	h.Ready = true
	h.Generation = snapshot.Generation
	h.LastBuildAge = max(0, s.clock.Since(snapshot.ComputedAt))
	return h
}

func (s *Service) recordRead(result string) {
	if s.recorder != nil {
		s.recorder.RankingRead(result)
	}
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/pscheid92/streamscout/internal/domain"
	"github.com/pscheid92/streamscout/internal/platform/correlation"
)

// BuildStatus is the outcome of the most recent refresh pass.
type BuildStatus string

const (
	StatusNever   BuildStatus = "never"
	StatusOK      BuildStatus = "ok"
	StatusPartial BuildStatus = "partial"
	StatusAborted BuildStatus = "aborted"
	StatusFailed  BuildStatus = "failed"
)

// RankingBuilder runs one refresh pass.
type RankingBuilder interface {
	Build(ctx context.Context) (*domain.RankingSnapshot, error)
}

// SnapshotInstaller atomically publishes a built snapshot and returns it with
// its assigned generation.
type SnapshotInstaller interface {
	Install(snapshot *domain.RankingSnapshot) *domain.RankingSnapshot
}

// SnapshotListener is notified after every install.
type SnapshotListener interface {
	SnapshotInstalled(ctx context.Context, snapshot *domain.RankingSnapshot)
}

// BuildRecorder is notified when a pass finishes, successfully or not.
type BuildRecorder interface {
	BuildFinished(status BuildStatus, duration time.Duration)
}

// SchedulerStatus is a point-in-time view of the scheduler state machine.
type SchedulerStatus struct {
	Running         bool
	BuildsCompleted int
	LastAttempt     time.Time
	LastSuccess     time.Time
	LastStatus      BuildStatus
	LastError       string
	LastDuration    time.Duration
	NextRun         time.Time
}

// Scheduler runs the ranking builder at startup, on its schedule and on manual
// triggers. At most one build runs at a time; triggers arriving while a build is
// running are dropped.
type Scheduler struct {
	builder   RankingBuilder
	cache     SnapshotInstaller
	clock     clockwork.Clock
	schedule  cron.Schedule
	timeout   time.Duration
	listeners []SnapshotListener
	recorder  BuildRecorder

	running atomic.Bool
	builds  sync.WaitGroup

	mu      sync.Mutex
	base    context.Context
	stopped bool
	status  SchedulerStatus
}

func NewScheduler(builder RankingBuilder, cache SnapshotInstaller, clock clockwork.Clock, schedule cron.Schedule, timeout time.Duration, recorder BuildRecorder, listeners ...SnapshotListener) *Scheduler {
	return &Scheduler{
		builder:   builder,
		cache:     cache,
		clock:     clock,
		schedule:  schedule,
		timeout:   timeout,
		listeners: listeners,
		recorder:  recorder,
		base:      context.Background(),
		status:    SchedulerStatus{LastStatus: StatusNever},
	}
}

// ParseSchedule returns the cron schedule for expr, or a constant interval
// schedule when expr is empty.
func ParseSchedule(expr string, interval time.Duration) (cron.Schedule, error) {
	if expr == "" {
		return cron.Every(interval), nil
	}
	return cron.ParseStandard(expr)
}

// ScheduleInterval returns the fixed period of an interval schedule, or zero for
// a cron expression whose period varies.
func ScheduleInterval(schedule cron.Schedule) time.Duration {
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return every.Delay
	}
	return 0
}

// Run performs the initial build and then follows the schedule. It blocks until
// ctx is cancelled and any triggered build has returned. Triggers after Run
// returns are refused.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.builds.Wait()
	}()

	if s.running.CompareAndSwap(false, true) {
		s.build(ctx, "startup")
	}

	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		s.mu.Lock()
		s.status.NextRun = next
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			slog.Info("Refresh scheduler stopped")
			return
		case <-s.clock.After(next.Sub(now)):
		}

		if !s.running.CompareAndSwap(false, true) {
			slog.Info("Scheduled refresh skipped, build already running")
			continue
		}
		s.build(ctx, "scheduled")
	}
}

// Trigger starts an out-of-band build in the background. It reports false when a
// build is already running or the scheduler has stopped; the trigger is then
// dropped, not queued.
func (s *Scheduler) Trigger() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.running.Store(false)
		return false
	}
	ctx := s.base
	s.builds.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.builds.Done()
		s.build(ctx, "manual")
	}()
	return true
}

// Running reports whether a build is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running.Load()
	return st
}

// build must be entered with the running flag held; it releases it.
func (s *Scheduler) build(ctx context.Context, trigger string) {
	defer s.running.Store(false)

	ctx = correlation.WithID(ctx, correlation.NewID())
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	s.mu.Lock()
	s.status.LastAttempt = start
	s.mu.Unlock()

	slog.InfoContext(ctx, "Ranking build started", "trigger", trigger)
	snapshot, err := s.builder.Build(ctx)
	duration := s.clock.Since(start)

	if err != nil {
		status := StatusFailed
		if be, ok := errors.AsType[*domain.BuildError](err); ok && be.Kind == domain.Aborted {
			status = StatusAborted
		}
		slog.ErrorContext(ctx, "Ranking build failed, keeping previous snapshot",
			"trigger", trigger, "status", status, "duration", duration, "error", err)
		s.finish(status, err, duration)
		return
	}

	installed := s.cache.Install(snapshot)
	status := StatusOK
	if installed.Partial {
		status = StatusPartial
	}
	s.mu.Lock()
	s.status.BuildsCompleted++
	s.status.LastSuccess = installed.ComputedAt
	s.mu.Unlock()
	s.finish(status, nil, duration)

	slog.InfoContext(ctx, "Ranking snapshot installed",
		"trigger", trigger, "generation", installed.Generation, "entries", len(installed.Entries), "partial", installed.Partial)
	for _, l := range s.listeners {
		l.SnapshotInstalled(ctx, installed)
	}
}

func (s *Scheduler) finish(status BuildStatus, err error, duration time.Duration) {
	s.mu.Lock()
	s.status.LastStatus = status
	s.status.LastDuration = duration
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.BuildFinished(status, duration)
	}
}

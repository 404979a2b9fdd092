// Package scheduler triggers snapshot runs on a fixed cadence and on demand.
//
// At most one run executes at a time. A trigger that arrives while a run is
// in flight is dropped, not queued: the next tick produces a fresh snapshot
// anyway, so a backlog would only delay it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/metrics"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Trigger sources, used as the metrics label for skipped triggers.
const (
	SourceStartup  = "startup"
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

// Runner executes one snapshot run.
type Runner interface {
	Run(ctx context.Context) (snapshot.Result, error)
}

// Scheduler owns the run-in-progress guard.
type Scheduler struct {
	runner     Runner
	period     time.Duration
	runOnStart bool
	logger     *zap.Logger

	running atomic.Bool
	skipped atomic.Int64

	mu      sync.Mutex
	baseCtx context.Context
	closed  bool
	wg      sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithoutStartupRun disables the immediate run when Run starts.
func WithoutStartupRun() Option {
	return func(s *Scheduler) { s.runOnStart = false }
}

// New creates a Scheduler that runs runner every period.
func New(runner Runner, period time.Duration, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Scheduler{
		runner:     runner,
		period:     period,
		runOnStart: true,
		logger:     logger,
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run fires once immediately, then every period, until ctx is done. It
// returns only after the in-flight run, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.logger.Info("scheduler started", zap.Duration("period", s.period), zap.Bool("run_on_start", s.runOnStart))
	if s.runOnStart {
		s.fire(SourceStartup)
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.fire(SourceSchedule)
		}
	}
}

// Trigger starts an out-of-band run. It reports false when a run is already
// in progress or the scheduler has stopped; the trigger is then dropped.
func (s *Scheduler) Trigger() bool {
	return s.fire(SourceManual)
}

// Running reports whether a run is executing.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Skipped returns how many triggers the overlap guard dropped.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) fire(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.ObserveSkippedTrigger(source)
		s.logger.Info("run in progress, trigger skipped", zap.String("source", source))
		return false
	}
	ctx := s.baseCtx
	s.wg.Add(1)
	go s.execute(ctx, source)
	return true
}

func (s *Scheduler) execute(ctx context.Context, source string) {
	defer s.wg.Done()
	defer s.running.Store(false)
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("snapshot run panicked", zap.String("source", source), zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Debug("scheduled run finished with error", zap.String("source", source), zap.Error(err))
	}
}

package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner wraps the cron scheduler with single-flight job semantics: a tick
// that fires while the previous run is still going is skipped, not queued.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Add registers a job under a cron spec (with seconds field). Each job gets
// its own in-flight flag.
func (r *Runner) Add(spec, name string, job func(ctx context.Context)) error {
	sf := NewSingleFlight(name, r.logger)
	_, err := r.cron.AddFunc(spec, func() {
		sf.Run(context.Background(), job)
	})
	return err
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("scheduler started")
	}
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop(ctx context.Context) {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		if r.logger != nil {
			r.logger.Warn("scheduler stop timed out with jobs still running")
		}
	}
}

// SingleFlight lets at most one run of a job proceed at a time. Overlapping
// attempts return immediately.
type SingleFlight struct {
	name    string
	logger  *zap.Logger
	running atomic.Bool
	skipped atomic.Int64
}

func NewSingleFlight(name string, logger *zap.Logger) *SingleFlight {
	return &SingleFlight{name: name, logger: logger}
}

// Run executes fn unless a previous run is still in flight. It reports
// whether fn ran.
func (s *SingleFlight) Run(ctx context.Context, fn func(ctx context.Context)) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		if s.logger != nil {
			s.logger.Warn("tick skipped, previous run still in flight",
				zap.String("job", s.name),
				zap.Int64("skipped_total", s.skipped.Load()))
		}
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	fn(ctx)
	if s.logger != nil {
		s.logger.Debug("job finished",
			zap.String("job", s.name),
			zap.Duration("elapsed", time.Since(start)))
	}
	return true
}

// Skipped returns how many ticks were dropped due to overlap.
func (s *SingleFlight) Skipped() int64 {
	return s.skipped.Load()
}

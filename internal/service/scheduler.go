package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atmx/fof-nav/internal/model"
)

// Scheduler recomputes a fixed set of funds on a cron schedule.
type Scheduler struct {
	Cron     *cron.Cron
	Runner   *Runner
	Funds    []Target
	Lookback int // days before `to` that each run rewrites
	Parallel int

	ctx context.Context
	now func() time.Time
}

// NewScheduler creates a scheduler. Cron expressions include seconds.
func NewScheduler(ctx context.Context, runner *Runner, funds []Target, lookback, parallel int) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Runner:   runner,
		Funds:    funds,
		Lookback: lookback,
		Parallel: parallel,
		ctx:      ctx,
		now:      time.Now,
	}
}

// Register adds the recompute task at the given schedule.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register recompute task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	slog.Info("scheduler started", "funds", len(s.Funds))
}

// Stop stops the cron scheduler and waits for a running task to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunNow recomputes every configured fund up to yesterday and returns the
// per-fund results.
func (s *Scheduler) RunNow() []BatchResult {
	reqs := s.requests()
	slog.Info("scheduled recompute started", "funds", len(reqs))

	results := s.Runner.RecomputeAll(s.ctx, reqs, s.Parallel)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("scheduled recompute finished", "funds", len(results), "failed", failed)
	return results
}

func (s *Scheduler) requests() []Request {
	to := model.Day(s.now()).AddDate(0, 0, -1)
	from := to.AddDate(0, 0, -s.Lookback)
	reqs := make([]Request, 0, len(s.Funds))
	for _, t := range s.Funds {
		reqs = append(reqs, Request{Target: t, From: from, To: to})
	}
	return reqs
}

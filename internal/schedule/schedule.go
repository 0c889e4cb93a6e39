// Package schedule runs the collection job on a cron spec.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five-field specs, an optional leading seconds
// field and descriptors such as @daily or @every 6h.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// Scheduler fires a job on a cron spec. A firing that comes due while the
// previous one is still running is skipped.
type Scheduler struct {
	spec   string
	sched  cron.Schedule
	job    func(ctx context.Context)
	logger *slog.Logger
}

// New validates spec. job receives the context given to Run.
func New(spec string, job func(ctx context.Context), logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := Parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid spec %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, sched: sched, job: job, logger: logger}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Run blocks until ctx is done, then waits for a running job to return.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := slogAdapter{logger: s.logger}
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	c.Schedule(s.sched, cron.FuncJob(func() {
		started := time.Now()
		s.logger.InfoContext(ctx, "scheduled run starting", "spec", s.spec)
		s.job(ctx)
		s.logger.InfoContext(ctx, "scheduled run finished",
			"duration", time.Since(started).Round(time.Millisecond),
			"next", s.Next(time.Now()).Format(time.RFC3339))
	}))

	c.Start()
	s.logger.InfoContext(ctx, "scheduler started", "spec", s.spec, "next", s.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

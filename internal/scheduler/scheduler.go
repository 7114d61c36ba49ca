// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled pipeline run.
type Job func(ctx context.Context) error

// Config describes when runs fire.
type Config struct {
	// Spec is a five-field cron expression or descriptor.
	Spec string
	// Start is the earliest fire time. Zero means immediately.
	Start    time.Time
	Location *time.Location
}

// Scheduler fires a Job on schedule. Missed intervals are never caught
// up and a run still in progress causes the next tick to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	loc      *time.Location
	job      Job
	log      *slog.Logger
}

// New parses cfg.Spec and prepares a scheduler for job.
func New(cfg Config, job Job) (*Scheduler, error) {
	sched, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	return NewWithSchedule(withStart(sched, cfg.Start), cfg.Location, job), nil
}

// NewWithSchedule builds a scheduler around an already parsed schedule.
func NewWithSchedule(sched cron.Schedule, loc *time.Location, job Job) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	log := slog.With("component", "scheduler")
	logger := cronLogger{log: log}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{
		cron:     c,
		schedule: sched,
		loc:      loc,
		job:      job,
		log:      log,
	}
}

// Next returns the next fire time after now, in the scheduler's location.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.loc))
}

// Run starts the schedule and blocks until ctx is cancelled, then waits
// for an in-flight run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		started := time.Now()
		s.log.Info("scheduled run starting")
		if err := s.job(ctx); err != nil {
			s.log.Error("scheduled run failed", "error", err, "duration", time.Since(started).String())
			return
		}
		s.log.Info("scheduled run finished", "duration", time.Since(started).String())
	}))

	s.cron.Start()
	s.log.Info("scheduler started", "location", s.loc.String(), "next", s.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// startSchedule suppresses fire times before start.
type startSchedule struct {
	inner cron.Schedule
	start time.Time
}

func withStart(inner cron.Schedule, start time.Time) cron.Schedule {
	if start.IsZero() {
		return inner
	}
	return startSchedule{inner: inner, start: start}
}

func (s startSchedule) Next(t time.Time) time.Time {
	if t.Before(s.start) {
		// Next is strictly after its argument; step back so start itself
		// can fire.
		t = s.start.Add(-time.Second)
	}
	return s.inner.Next(t)
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

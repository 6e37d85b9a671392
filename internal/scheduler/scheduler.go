package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/pkg/schema"
)

// DefaultInterval is how often the store is polled when no interval is set.
const DefaultInterval = 60 * time.Second

// RoutineRunner runs a catalogue entry or stored record by name.
// library.Runner satisfies it.
type RoutineRunner interface {
	RunNamed(ctx context.Context, name string, categories []string) (schema.Outcome, error)
}

// JobStore is the part of store.Store the scheduler uses.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *store.ScheduledJob) error
	UpdateScheduledJob(ctx context.Context, id string, update store.ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error)
}

// Scheduler runs routines on five-field cron schedules. Jobs live in the
// store; the scheduler polls for due ones and runs them one at a time on
// its loop goroutine.
type Scheduler struct {
	jobs     JobStore
	runner   RoutineRunner
	cron     cron.Parser
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped chan struct{}

	// busy holds IDs of jobs being run, so a sweep never starts one twice.
	busy sync.Map
}

// NewScheduler returns a stopped scheduler. interval <= 0 means
// DefaultInterval; a nil logger means slog.Default().
func NewScheduler(jobs JobStore, runner RoutineRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     jobs,
		runner:   runner,
		cron:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// CalculateNextRun returns the first activation of cronExpr after from.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.cron.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}

// Schedule stores an enabled job that runs name on cronExpr.
func (s *Scheduler) Schedule(ctx context.Context, name, cronExpr string, categories ...string) (*store.ScheduledJob, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduled job needs a routine name")
	}
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	job := &store.ScheduledJob{
		RoutineName:    name,
		CronExpression: cronExpr,
		Categories:     categories,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := s.jobs.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job scheduled", "job_id", job.ID, "routine", name, "next_run_at", next)
	return job, nil
}

// Start sweeps once right away and then every interval until Stop is
// called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.stopped = make(chan struct{})
	go s.loop(loopCtx, s.stopped)
	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval)
	return nil
}

// Stop ends the loop and waits for a running job to return. Stopping a
// scheduler that is not running is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return nil
	}
	s.stop()
	<-s.stopped
	s.stop, s.stopped = nil, nil
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.sweep(ctx, time.Now().UTC(), isDue); err != nil {
		s.logger.ErrorContext(ctx, "list scheduled jobs", "error", err)
	}
}

// RecoverMissed runs, once each, the jobs whose next run passed while
// nothing was polling.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	n, err := s.sweep(ctx, time.Now().UTC(), wasMissed)
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "recovered missed jobs", "count", n)
	}
	return nil
}

func isDue(job *store.ScheduledJob, now time.Time) bool {
	return job.NextRunAt == nil || !job.NextRunAt.After(now)
}

func wasMissed(job *store.ScheduledJob, now time.Time) bool {
	return job.NextRunAt != nil && job.NextRunAt.Before(now)
}

// sweep runs every enabled job selected by pick and returns how many ran
// and were rescheduled.
func (s *Scheduler) sweep(ctx context.Context, now time.Time, pick func(*store.ScheduledJob, time.Time) bool) (int, error) {
	enabled := true
	jobs, err := s.jobs.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if !pick(job, now) {
			continue
		}
		if _, running := s.busy.LoadOrStore(job.ID, struct{}{}); running {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.busy.Delete(job.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "reschedule job", "job_id", job.ID, "error", err)
			continue
		}
		ran++
	}
	return ran, nil
}

// runJob runs the job's routine and stores its outcome and next run. A
// job whose routine no longer exists is disabled.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	log := s.logger.With("job_id", job.ID, "routine", job.RoutineName)
	log.InfoContext(ctx, "running scheduled job")

	outcome, err := s.runner.RunNamed(ctx, job.RoutineName, job.Categories)
	if outcome == "" {
		outcome = schema.OutcomeFailed
	}
	update := store.ScheduledJobUpdate{LastRunAt: &now, LastRunStatus: string(outcome)}
	if err != nil {
		log.ErrorContext(ctx, "scheduled run failed", "outcome", outcome, "error", err)
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			disabled := false
			update.Enabled = &disabled
			log.WarnContext(ctx, "routine is gone, disabling job")
		}
	}

	next, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return err
	}
	update.NextRunAt = &next
	return s.jobs.UpdateScheduledJob(ctx, job.ID, update)
}

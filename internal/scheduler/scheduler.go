// Package scheduler fires the backup service on its cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// Runner is the job the scheduler fires. *backup.Service satisfies it.
type Runner interface {
	Run(ctx context.Context) (*backup.BackupRun, error)
}

// Options tune a Scheduler. Zero values are usable.
type Options struct {
	// Timeout bounds a single run; 0 lets a run take as long as it needs.
	Timeout time.Duration
	Logger  backup.Logger
	Clock   backup.Clock
}

// Scheduler triggers a Runner whenever the schedule is due. At most one run
// is in flight: a trigger that fires while the previous run is still
// going is skipped and logged. A failing or panicking run is logged and
// never stops the scheduler.
type Scheduler struct {
	cron     *cron.Cron
	schedule *backup.Schedule
	runner   Runner
	job      cron.Job
	timeout  time.Duration
	logger   backup.Logger
	clock    backup.Clock

	mu      sync.Mutex
	baseCtx context.Context
}

// New creates a Scheduler for runner on schedule. Call Start to begin.
func New(schedule *backup.Schedule, runner Runner, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = backup.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = backup.SystemClock{}
	}

	s := &Scheduler{
		schedule: schedule,
		runner:   runner,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		clock:    opts.Clock,
		baseCtx:  context.Background(),
	}

	logger := &cronLogger{l: opts.Logger}
	s.job = cron.NewChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	).Then(cron.FuncJob(s.runOnce))

	s.cron = cron.New(
		cron.WithLocation(schedule.Location()),
		cron.WithLogger(logger),
	)
	s.cron.Schedule(schedule, s.job)
	return s
}

// Start logs where the schedule stands and starts firing in the
// background. Runs inherit ctx's values and cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	now := s.clock.Now()
	s.logger.Info("scheduler started",
		"schedule", s.schedule.String(),
		"location", s.schedule.Location().String(),
	)
	s.logger.Info("last scheduled run",
		"at", s.schedule.LastOccurrence(now),
		"days_ago", s.schedule.DaysSinceLastRun(now),
	)
	s.logger.Info("next scheduled run",
		"at", s.schedule.NextOccurrence(now),
		"days_until", s.schedule.DaysUntilNextRun(now),
	)

	s.cron.Start()
}

// Stop stops firing new runs. The returned context is done once any run in
// flight has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger fires the job immediately, through the same single-flight guard
// as scheduled runs, and waits for it. It returns at once if a run is
// already in flight.
func (s *Scheduler) Trigger() {
	s.job.Run()
}

// NextRun returns when the scheduler will next fire, or the zero time
// before Start.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logger.Warn("not starting backup, scheduler is shutting down", "error", err)
		return
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	run, err := s.runner.Run(ctx)
	if err != nil {
		// The service has logged the stage details already.
		attrs := []any{"error", err}
		if run != nil {
			attrs = append(attrs, "run_id", run.ID, "stage", run.FailedStage)
		}
		s.logger.Error("scheduled backup failed", attrs...)
	}

	now := s.clock.Now()
	s.logger.Info("next scheduled run",
		"at", s.schedule.NextOccurrence(now),
		"days_until", s.schedule.DaysUntilNextRun(now),
	)
}

// cronLogger routes robfig/cron's logging into a backup.Logger.
type cronLogger struct {
	l backup.Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		c.l.Warn("skipping scheduled backup, previous run still in progress", keysAndValues...)
		return
	}
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = (*cronLogger)(nil)

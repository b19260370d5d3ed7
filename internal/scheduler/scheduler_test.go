package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
	"github.com/DankTechnologies/AwsBackup/internal/testutil"
)

// blockingRunner holds every run open until release is closed.
type blockingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context) (*backup.BackupRun, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	select {
	case <-r.release:
		return &backup.BackupRun{ID: "run-1", Status: backup.RunStatusSucceeded}, nil
	case <-ctx.Done():
		return &backup.BackupRun{ID: "run-1", Status: backup.RunStatusFailed}, ctx.Err()
	}
}

// funcRunner adapts a function to Runner.
type funcRunner func(ctx context.Context) (*backup.BackupRun, error)

func (f funcRunner) Run(ctx context.Context) (*backup.BackupRun, error) { return f(ctx) }

func mustParse(t *testing.T, expr string) *backup.Schedule {
	t.Helper()
	s, err := backup.ParseSchedule(expr)
	if err != nil {
		t.Fatalf("ParseSchedule(%q) error = %v", expr, err)
	}
	return s
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	logger := testutil.NewRecordingLogger()
	s := New(mustParse(t, "0 2 * * 0"), runner, Options{Logger: logger})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Trigger()
	}()
	<-runner.started

	// The first run is still in flight, so this one must be dropped.
	s.Trigger()

	close(runner.release)
	wg.Wait()

	if got := runner.calls.Load(); got != 1 {
		t.Errorf("runner called %d times, want 1", got)
	}
	if len(logger.Find("previous run still in progress")) != 1 {
		t.Errorf("expected one skip warning, got entries %v", logger.Entries())
	}

	// Once the first run is done the next trigger goes through.
	runner.release = make(chan struct{})
	close(runner.release)
	s.Trigger()
	if got := runner.calls.Load(); got != 2 {
		t.Errorf("runner called %d times after release, want 2", got)
	}
}

func TestScheduler_RunTimeout(t *testing.T) {
	t.Parallel()

	var gotErr error
	runner := funcRunner(func(ctx context.Context) (*backup.BackupRun, error) {
		<-ctx.Done()
		gotErr = ctx.Err()
		return &backup.BackupRun{ID: "run-1", FailedStage: backup.StageUploading}, ctx.Err()
	})
	logger := testutil.NewRecordingLogger()
	s := New(mustParse(t, "@daily"), runner, Options{Timeout: 20 * time.Millisecond, Logger: logger})

	s.Trigger()

	if !errors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("run context error = %v, want context.DeadlineExceeded", gotErr)
	}
	failures := logger.Find("scheduled backup failed")
	if len(failures) != 1 {
		t.Fatalf("expected one failure log, got %v", logger.Entries())
	}
	if stage := failures[0].Attr("stage"); stage != backup.StageUploading {
		t.Errorf("logged stage = %v, want %v", stage, backup.StageUploading)
	}
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	runner := funcRunner(func(context.Context) (*backup.BackupRun, error) {
		panic("boom")
	})
	logger := testutil.NewRecordingLogger()
	s := New(mustParse(t, "@daily"), runner, Options{Logger: logger})

	s.Trigger() // must not propagate the panic

	if len(logger.AtLevel("ERROR")) == 0 {
		t.Error("expected the panic to be logged at error level")
	}
}

func TestScheduler_StartLogsScheduleAndStops(t *testing.T) {
	t.Parallel()

	clock := testutil.FixedClock()
	logger := testutil.NewRecordingLogger()
	runner := funcRunner(func(context.Context) (*backup.BackupRun, error) { return &backup.BackupRun{}, nil })
	s := New(mustParse(t, "0 2 * * *"), runner, Options{Logger: logger, Clock: clock})

	s.Start(context.Background())
	ctx := s.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop() context not done with no run in flight")
	}

	last := logger.Find("last scheduled run")
	if len(last) != 1 {
		t.Fatalf("expected one last-run log, got %v", logger.Entries())
	}
	if days := last[0].Attr("days_ago"); days != 1 {
		t.Errorf("days_ago = %v, want 1", days)
	}
	next := logger.Find("next scheduled run")
	if len(next) != 1 {
		t.Fatalf("expected one next-run log, got %v", logger.Entries())
	}
	wantNext := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	if at, _ := next[0].Attr("at").(time.Time); !at.Equal(wantNext) {
		t.Errorf("next run at = %v, want %v", at, wantNext)
	}
}

func TestScheduler_CanceledContextSkipsRun(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	runner := funcRunner(func(context.Context) (*backup.BackupRun, error) {
		calls.Add(1)
		return &backup.BackupRun{}, nil
	})
	s := New(mustParse(t, "@daily"), runner, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer s.Stop()
	cancel()

	s.Trigger()
	if got := calls.Load(); got != 0 {
		t.Errorf("runner called %d times after cancel, want 0", got)
	}
}

func TestScheduler_NextRun(t *testing.T) {
	t.Parallel()

	runner := funcRunner(func(context.Context) (*backup.BackupRun, error) { return &backup.BackupRun{}, nil })
	s := New(mustParse(t, "@daily"), runner, Options{})
	s.Start(context.Background())
	defer s.Stop()

	next := s.NextRun()
	if next.IsZero() {
		t.Fatal("NextRun() is zero after Start")
	}
	if next.Hour() != 0 || next.Minute() != 0 {
		t.Errorf("NextRun() = %v, want midnight", next)
	}
}

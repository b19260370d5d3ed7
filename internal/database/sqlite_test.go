package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// newTestJournal creates an in-memory journal with the schema applied.
func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()

	j, err := NewSQLiteJournal(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func newRun(id string, startedAt time.Time) *backup.BackupRun {
	run := backup.NewBackupRun(id, startedAt, "/var/tmp/awsbackup", "gpg")
	run.LookbackDays = 7
	return run
}

func TestSQLiteJournal_RecordStartAndFinish(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		j := newTestJournal(t)
		started := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
		run := newRun("run-1", started)

		id, err := j.RecordStart(run)
		if err != nil {
			t.Fatalf("RecordStart() error = %v", err)
		}
		if id <= 0 {
			t.Errorf("RecordStart() id = %d, want > 0", id)
		}

		got, err := j.FindRun("run-1")
		if err != nil {
			t.Fatalf("FindRun() error = %v", err)
		}
		if got.Status != backup.RunStatusRunning {
			t.Errorf("Status = %q, want %q", got.Status, backup.RunStatusRunning)
		}
		if got.FinishedAt != nil {
			t.Errorf("FinishedAt = %v, want nil while running", got.FinishedAt)
		}

		run.Status = backup.RunStatusSucceeded
		run.FinishedAt = started.Add(90 * time.Minute)
		run.ObjectKey = "2024-03-10-archive.tar.gpg"
		run.ArchiveHash = "aaaa"
		run.EncryptedHash = "bbbb"
		run.EncryptedSize = 4096
		if err := j.RecordFinish(id, run); err != nil {
			t.Fatalf("RecordFinish() error = %v", err)
		}

		got, err = j.FindRun("run-1")
		if err != nil {
			t.Fatalf("FindRun() error = %v", err)
		}
		if got.Status != backup.RunStatusSucceeded {
			t.Errorf("Status = %q, want %q", got.Status, backup.RunStatusSucceeded)
		}
		if got.FinishedAt == nil || !got.FinishedAt.Equal(run.FinishedAt) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, run.FinishedAt)
		}
		if !got.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
		}
		if got.RunDate != "2024-03-10" {
			t.Errorf("RunDate = %q, want %q", got.RunDate, "2024-03-10")
		}
		if got.LookbackDays != 7 {
			t.Errorf("LookbackDays = %d, want 7", got.LookbackDays)
		}
		if got.ObjectKey != run.ObjectKey || got.EncryptedSHA256 != "bbbb" || got.ArchiveSHA256 != "aaaa" {
			t.Errorf("record = %+v, want key and hashes from run", got)
		}
		if got.EncryptedSize != 4096 {
			t.Errorf("EncryptedSize = %d, want 4096", got.EncryptedSize)
		}
	})

	t.Run("failed run keeps stage and error", func(t *testing.T) {
		j := newTestJournal(t)
		run := newRun("run-2", time.Date(2024, 3, 17, 2, 0, 0, 0, time.UTC))

		id, err := j.RecordStart(run)
		if err != nil {
			t.Fatalf("RecordStart() error = %v", err)
		}

		run.Status = backup.RunStatusFailed
		run.FailedStage = backup.StageUploading
		run.Err = errors.New("connection reset by peer")
		run.FinishedAt = run.StartedAt.Add(time.Minute)
		if err := j.RecordFinish(id, run); err != nil {
			t.Fatalf("RecordFinish() error = %v", err)
		}

		got, err := j.FindRun("run-2")
		if err != nil {
			t.Fatalf("FindRun() error = %v", err)
		}
		if got.FailedStage != backup.StageUploading {
			t.Errorf("FailedStage = %q, want %q", got.FailedStage, backup.StageUploading)
		}
		if got.Error != "connection reset by peer" {
			t.Errorf("Error = %q", got.Error)
		}
	})

	t.Run("duplicate run id", func(t *testing.T) {
		j := newTestJournal(t)
		run := newRun("run-3", time.Now())
		if _, err := j.RecordStart(run); err != nil {
			t.Fatalf("RecordStart() error = %v", err)
		}
		if _, err := j.RecordStart(run); err == nil {
			t.Error("second RecordStart() with same run id should fail")
		}
	})

	t.Run("unknown entry", func(t *testing.T) {
		j := newTestJournal(t)
		if err := j.RecordFinish(42, newRun("run-4", time.Now())); err == nil {
			t.Error("RecordFinish() for unknown id should fail")
		}
	})
}

func TestSQLiteJournal_ListRuns(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)

	for i := range 5 {
		run := newRun("run-"+string(rune('a'+i)), base.AddDate(0, 0, 7*i))
		if _, err := j.RecordStart(run); err != nil {
			t.Fatalf("RecordStart() error = %v", err)
		}
	}

	got, err := j.ListRuns(3)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(ListRuns(3)) = %d, want 3", len(got))
	}
	want := []string{"run-e", "run-d", "run-c"}
	for i, r := range got {
		if r.RunID != want[i] {
			t.Errorf("ListRuns()[%d].RunID = %q, want %q", i, r.RunID, want[i])
		}
	}
}

func TestSQLiteJournal_FindRunMissing(t *testing.T) {
	j := newTestJournal(t)

	got, err := j.FindRun("nope")
	if err != nil {
		t.Fatalf("FindRun() error = %v", err)
	}
	if got != nil {
		t.Errorf("FindRun() = %+v, want nil", got)
	}
}

func TestSQLiteJournal_ReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "journal.db")

	j, err := NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	if _, err := j.RecordStart(newRun("run-1", time.Now())); err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j, err = NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	defer j.Close()

	if err := j.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	runs, err := j.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("len(ListRuns()) = %d, want 1", len(runs))
	}
	if j.Path() != path {
		t.Errorf("Path() = %q, want %q", j.Path(), path)
	}
}

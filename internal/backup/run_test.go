package backup_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

func TestNewBackupRun(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	run := backup.NewBackupRun("run-1", started, "/var/tmp/awsbackup", "gpg")

	if run.RunDate != "2024-03-10" {
		t.Errorf("RunDate = %q, want %q", run.RunDate, "2024-03-10")
	}
	if want := filepath.Join("/var/tmp/awsbackup", "2024-03-10-archive.tar"); run.ArchivePath != want {
		t.Errorf("ArchivePath = %q, want %q", run.ArchivePath, want)
	}
	if want := filepath.Join("/var/tmp/awsbackup", "2024-03-10-archive.tar.gpg"); run.EncryptedArchivePath != want {
		t.Errorf("EncryptedArchivePath = %q, want %q", run.EncryptedArchivePath, want)
	}
	if run.Stage != backup.StageIdle {
		t.Errorf("Stage = %q, want %q", run.Stage, backup.StageIdle)
	}
	if run.Status != backup.RunStatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, backup.RunStatusRunning)
	}
	if run.Succeeded() {
		t.Error("Succeeded() = true for a new run")
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to backup.Stage
		want     bool
	}{
		{backup.StageIdle, backup.StageArchiving, true},
		{backup.StageArchiving, backup.StageEncrypting, true},
		{backup.StageEncrypting, backup.StageVerifying, true},
		{backup.StageVerifying, backup.StageUploading, true},
		{backup.StageUploading, backup.StageCleaningUp, true},
		{backup.StageCleaningUp, backup.StageIdle, true},
		{backup.StageArchiving, backup.StageFailed, true},
		{backup.StageUploading, backup.StageFailed, true},
		{backup.StageFailed, backup.StageIdle, true},

		{backup.StageIdle, backup.StageUploading, false},
		{backup.StageArchiving, backup.StageUploading, false},
		{backup.StageEncrypting, backup.StageCleaningUp, false},
		{backup.StageCleaningUp, backup.StageFailed, false},
		{backup.StageFailed, backup.StageArchiving, false},
		{backup.StageIdle, backup.StageFailed, false},
	}

	for _, tt := range tests {
		if got := backup.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

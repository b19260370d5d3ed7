package backup

import (
	"fmt"
	"path/filepath"
	"time"
)

// Stage is a state in the backup pipeline.
//
//	idle -> archiving -> encrypting -> verifying -> uploading -> cleaning_up -> idle
//
// Any working stage may move to failed, and failed always returns to idle.
// There is no retry state; the next scheduled trigger is the retry.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageArchiving  Stage = "archiving"
	StageEncrypting Stage = "encrypting"
	StageVerifying  Stage = "verifying"
	StageUploading  Stage = "uploading"
	StageCleaningUp Stage = "cleaning_up"
	StageFailed     Stage = "failed"
)

var stageTransitions = map[Stage][]Stage{
	StageIdle:       {StageArchiving},
	StageArchiving:  {StageEncrypting, StageFailed},
	StageEncrypting: {StageVerifying, StageFailed},
	StageVerifying:  {StageUploading, StageFailed},
	StageUploading:  {StageCleaningUp, StageFailed},
	StageCleaningUp: {StageIdle},
	StageFailed:     {StageIdle},
}

// CanTransition reports whether the pipeline may move from one stage to another.
func CanTransition(from, to Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RunStatus summarizes how a run ended.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ArchiveSuffix is appended to the run date to name the plaintext archive.
const ArchiveSuffix = "-archive.tar"

// BackupRun is the state of one execution of the pipeline. It is built at
// the start of Service.Run and thrown away afterwards; nothing reads a
// BackupRun from a previous execution.
type BackupRun struct {
	ID                   string
	RunDate              string // YYYY-MM-DD, used for file naming
	StartedAt            time.Time
	FinishedAt           time.Time
	LookbackDays         int
	ArchivePath          string
	EncryptedArchivePath string
	ArchiveHash          string
	EncryptedHash        string
	ArchiveSize          int64
	EncryptedSize        int64
	ObjectKey            string

	Stage       Stage
	Status      RunStatus
	FailedStage Stage
	Err         error
}

// NewBackupRun lays out the file names for a run that starts at startedAt.
// encExt is the encryptor's file extension without the leading dot.
func NewBackupRun(id string, startedAt time.Time, tempDir string, encExt string) *BackupRun {
	date := startedAt.Format(time.DateOnly)
	archivePath := filepath.Join(tempDir, date+ArchiveSuffix)
	return &BackupRun{
		ID:                   id,
		RunDate:              date,
		StartedAt:            startedAt,
		ArchivePath:          archivePath,
		EncryptedArchivePath: archivePath + "." + encExt,
		Stage:                StageIdle,
		Status:               RunStatusRunning,
	}
}

// advance moves the run to the next stage, refusing illegal transitions.
func (r *BackupRun) advance(to Stage) error {
	if !CanTransition(r.Stage, to) {
		return fmt.Errorf("illegal stage transition %s -> %s", r.Stage, to)
	}
	r.Stage = to
	return nil
}

// fail records err against the current stage. Nothing happens while a run
// sits in the failed state, so it passes straight through to idle.
func (r *BackupRun) fail(err error, at time.Time) {
	r.FailedStage = r.Stage
	r.Status = RunStatusFailed
	r.Err = err
	r.FinishedAt = at
	r.Stage = StageIdle
}

// succeed closes out a run whose upload was acknowledged.
func (r *BackupRun) succeed(at time.Time) {
	r.Status = RunStatusSucceeded
	r.FinishedAt = at
	r.Stage = StageIdle
}

// Succeeded reports whether the run uploaded its archive.
func (r *BackupRun) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

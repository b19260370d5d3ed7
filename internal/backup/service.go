package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultFindCommand selects every regular file under the source directory.
	DefaultFindCommand = "find . -type f"

	// DefaultShell runs the find | tar pipeline.
	DefaultShell = "/bin/sh"
)

// Settings are the configuration values a run needs. They are read once at
// construction; the service never consults global configuration.
type Settings struct {
	SourceDir   string
	TempDir     string
	Bucket      string
	StorageTier string
	FindCommand string
	Shell       string
}

// Dependencies are the collaborators of a Service. Journal, Logger, Clock
// and IDs fall back to no-op or real implementations when nil.
type Dependencies struct {
	Runner     ProcessRunner
	Encryptor  Encryptor
	Verifier   *Verifier
	Uploader   Uploader
	Filesystem Filesystem
	Journal    Journal
	Logger     Logger
	Clock      Clock
	IDs        IDGenerator
}

// Service is the backup orchestrator. It selects the files changed since
// the previous scheduled run, archives, encrypts and hashes them, uploads
// the encrypted archive to cold storage and removes the local copies.
type Service struct {
	settings  Settings
	schedule  *Schedule
	runner    ProcessRunner
	encryptor Encryptor
	verifier  *Verifier
	uploader  Uploader
	fs        Filesystem
	journal   Journal
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewService creates a Service for the given schedule. Relative SourceDir
// and TempDir are resolved against the current working directory, since
// the archive command runs inside SourceDir.
func NewService(settings Settings, schedule *Schedule, deps Dependencies) *Service {
	settings.SourceDir = absPath(settings.SourceDir)
	settings.TempDir = absPath(settings.TempDir)
	if settings.FindCommand == "" {
		settings.FindCommand = DefaultFindCommand
	}
	if settings.Shell == "" {
		settings.Shell = DefaultShell
	}
	if settings.StorageTier == "" {
		settings.StorageTier = DefaultStorageTier
	}
	if deps.Verifier == nil {
		deps.Verifier = NewVerifier(deps.Runner, "")
	}
	if deps.Journal == nil {
		deps.Journal = NopJournal{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}

	return &Service{
		settings:  settings,
		schedule:  schedule,
		runner:    deps.Runner,
		encryptor: deps.Encryptor,
		verifier:  deps.Verifier,
		uploader:  deps.Uploader,
		fs:        deps.Filesystem,
		journal:   deps.Journal,
		logger:    deps.Logger,
		clock:     deps.Clock,
		idgen:     deps.IDs,
	}
}

// Schedule returns the schedule the service derives its look-back window from.
func (s *Service) Schedule() *Schedule {
	return s.schedule
}

// Run executes one backup.
//
// Run is not reentrant: local file names derive from the run date, so two
// overlapping runs would write the same archive. The caller (normally the
// scheduler) must ensure at most one Run is in flight.
//
// The returned BackupRun is always non-nil and records how far the
// pipeline got. A non-nil error means the run was aborted; it has already
// been logged with the failing command and its captured output. Failures
// never delete source files, and nothing is deleted locally unless the
// upload was acknowledged.
func (s *Service) Run(ctx context.Context) (run *BackupRun, err error) {
	now := s.clock.Now()
	run = NewBackupRun(s.idgen.New(), now, s.settings.TempDir, s.encryptor.Extension())
	run.LookbackDays = s.schedule.DaysSinceLastRun(now)
	log := &runLogger{l: s.logger, runID: run.ID}

	journalID, jerr := s.journal.RecordStart(run)
	if jerr != nil {
		log.Warn("failed to record run start", "error", jerr)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backup run panicked in %s stage: %v", run.Stage, r)
			run.fail(err, s.clock.Now())
			log.Error("backup run panicked", "stage", run.FailedStage, "panic", r)
		}
		if jerr == nil {
			if ferr := s.journal.RecordFinish(journalID, run); ferr != nil {
				log.Warn("failed to record run outcome", "error", ferr)
			}
		}
	}()

	log.Info("starting backup",
		"date", run.RunDate,
		"lookback_days", run.LookbackDays,
		"last_due", s.schedule.LastOccurrence(now),
		"schedule", s.schedule.String(),
	)

	if err := s.pipeline(ctx, run, log); err != nil {
		run.fail(err, s.clock.Now())
		s.logFailure(log, run, err)
		return run, err
	}

	run.succeed(s.clock.Now())
	log.Info("finished backup",
		"date", run.RunDate,
		"key", run.ObjectKey,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)
	return run, nil
}

func (s *Service) pipeline(ctx context.Context, run *BackupRun, log Logger) error {
	if err := s.archive(ctx, run, log); err != nil {
		return err
	}
	if err := s.encrypt(ctx, run, log); err != nil {
		return err
	}
	if err := s.verify(ctx, run, log); err != nil {
		return err
	}
	if err := s.upload(ctx, run, log); err != nil {
		return err
	}
	return s.cleanup(run, log)
}

// archive runs find | tar in the source directory. tar -v prints every
// archived path on stdout.
func (s *Service) archive(ctx context.Context, run *BackupRun, log Logger) error {
	if err := run.advance(StageArchiving); err != nil {
		return err
	}

	script := fmt.Sprintf("%s -mtime -%d -print0 | tar --null -cvf %s --files-from -",
		s.settings.FindCommand, run.LookbackDays, shellQuote(run.ArchivePath))
	cmd := Command{Program: s.settings.Shell, Args: []string{"-c", script}, Dir: s.settings.SourceDir}

	log.Info("running find + tar command", "command", script, "dir", cmd.Dir)
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return &StageExecutionError{Stage: StageArchiving, Command: script, ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		return &StageExecutionError{Stage: StageArchiving, Command: script, ExitCode: res.ExitCode, Output: res.Output()}
	}

	info, err := s.fs.Stat(run.ArchivePath)
	if err != nil {
		return &StageExecutionError{
			Stage:   StageArchiving,
			Command: script,
			Output:  res.Output(),
			Err:     fmt.Errorf("%w: %s: %v", ErrArtifactMissing, run.ArchivePath, err),
		}
	}
	run.ArchiveSize = info.Size()

	log.Debug("tar output", "output", res.Stdout)
	log.Info("archive created", "path", run.ArchivePath, "files", countLines(res.Stdout))
	return nil
}

// encrypt produces the encrypted archive. On failure the plaintext archive
// is left where it is for manual inspection.
func (s *Service) encrypt(ctx context.Context, run *BackupRun, log Logger) error {
	if err := run.advance(StageEncrypting); err != nil {
		return err
	}

	log.Info("encrypting archive", "path", run.ArchivePath, "output", run.EncryptedArchivePath)
	if err := s.encryptor.Encrypt(ctx, run.ArchivePath); err != nil {
		var stageErr *StageExecutionError
		if errors.As(err, &stageErr) {
			return err
		}
		return &StageExecutionError{Stage: StageEncrypting, Command: "encrypt " + run.ArchivePath, ExitCode: -1, Err: err}
	}

	info, err := s.fs.Stat(run.EncryptedArchivePath)
	if err != nil {
		return &StageExecutionError{
			Stage:   StageEncrypting,
			Command: "encrypt " + run.ArchivePath,
			Err:     fmt.Errorf("%w: %s: %v", ErrArtifactMissing, run.EncryptedArchivePath, err),
		}
	}
	run.EncryptedSize = info.Size()
	return nil
}

// verify hashes both archives. The encrypted hash travels with the upload.
func (s *Service) verify(ctx context.Context, run *BackupRun, log Logger) error {
	if err := run.advance(StageVerifying); err != nil {
		return err
	}

	archiveHash, err := s.verifier.Hash(ctx, run.ArchivePath)
	if err != nil {
		return err
	}
	encryptedHash, err := s.verifier.Hash(ctx, run.EncryptedArchivePath)
	if err != nil {
		return err
	}
	run.ArchiveHash = archiveHash
	run.EncryptedHash = encryptedHash

	log.Info("archive hashed", "kind", "tar", "bytes", run.ArchiveSize, "sha256", archiveHash)
	log.Info("archive hashed", "kind", s.encryptor.Extension(), "bytes", run.EncryptedSize, "sha256", encryptedHash)
	return nil
}

// upload sends the encrypted archive to the coldest storage tier.
func (s *Service) upload(ctx context.Context, run *BackupRun, log Logger) error {
	if err := run.advance(StageUploading); err != nil {
		return err
	}

	dest := UploadDescriptor{
		Bucket:      s.settings.Bucket,
		Key:         filepath.Base(run.EncryptedArchivePath),
		StorageTier: s.settings.StorageTier,
		Metadata:    map[string]string{MetadataContentHash: run.EncryptedHash},
	}
	run.ObjectKey = dest.Key

	if _, err := s.fs.Stat(run.EncryptedArchivePath); err != nil {
		return &UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: fmt.Errorf("%w: %v", ErrArtifactMissing, err)}
	}

	log.Info("start uploading", "bucket", dest.Bucket, "key", dest.Key, "storage_tier", dest.StorageTier)
	res, err := s.uploader.Upload(ctx, run.EncryptedArchivePath, dest, func(percent int) {
		log.Info("upload progress", "percent", percent)
	})
	if err != nil {
		var uploadErr *UploadError
		if errors.As(err, &uploadErr) {
			return err
		}
		return &UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: err}
	}

	log.Info("finished uploading", "bucket", dest.Bucket, "key", dest.Key, "location", res.Location, "etag", res.ETag)
	return nil
}

// cleanup removes both local archives. Failures are only logged: the
// backup is already safe in the store.
func (s *Service) cleanup(run *BackupRun, log Logger) error {
	if err := run.advance(StageCleaningUp); err != nil {
		return err
	}
	for _, path := range []string{run.ArchivePath, run.EncryptedArchivePath} {
		if err := s.fs.Remove(path); err != nil {
			log.Warn("failed to delete local archive", "path", path, "error", err)
			continue
		}
		log.Debug("deleted local archive", "path", path)
	}
	return nil
}

func (s *Service) logFailure(log Logger, run *BackupRun, err error) {
	var stageErr *StageExecutionError
	if errors.As(err, &stageErr) {
		log.Error("backup stage failed",
			"stage", stageErr.Stage,
			"command", stageErr.Command,
			"exit_code", stageErr.ExitCode,
			"output", stageErr.Output,
			"error", err,
		)
	} else {
		log.Error("backup failed", "stage", run.FailedStage, "error", err)
	}

	switch run.FailedStage {
	case StageEncrypting, StageVerifying:
		log.Warn("plaintext archive left in place for inspection", "path", run.ArchivePath)
	case StageUploading:
		// The next scheduled run computes a fresh window from the schedule
		// and does not pick this archive up again.
		log.Warn("local archives retained after failed upload; re-run manually to retry",
			"archive", run.ArchivePath, "encrypted", run.EncryptedArchivePath)
	}
}

// absPath returns path made absolute, or path unchanged when it is empty
// or the working directory cannot be determined.
func absPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func countLines(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// runLogger tags every record with the run ID.
type runLogger struct {
	l     Logger
	runID string
}

func (r *runLogger) with(args []any) []any {
	return append([]any{"run_id", r.runID}, args...)
}

func (r *runLogger) Debug(msg string, args ...any) { r.l.Debug(msg, r.with(args)...) }
func (r *runLogger) Info(msg string, args ...any)  { r.l.Info(msg, r.with(args)...) }
func (r *runLogger) Warn(msg string, args ...any)  { r.l.Warn(msg, r.with(args)...) }
func (r *runLogger) Error(msg string, args ...any) { r.l.Error(msg, r.with(args)...) }

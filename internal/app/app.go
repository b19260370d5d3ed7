// Package app wires the backup service together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
	"github.com/DankTechnologies/AwsBackup/internal/config"
	"github.com/DankTechnologies/AwsBackup/internal/database"
	"github.com/DankTechnologies/AwsBackup/internal/encryption"
	"github.com/DankTechnologies/AwsBackup/internal/fs"
	"github.com/DankTechnologies/AwsBackup/internal/process"
	"github.com/DankTechnologies/AwsBackup/internal/scheduler"
	"github.com/DankTechnologies/AwsBackup/internal/storage"
)

// Options adjust how an App is built. The zero value builds the
// production wiring from the config alone.
type Options struct {
	// Session tags every log line, e.g. "serve" or "run".
	Session string

	// Passphrase, when set, replaces the configured passphrase sources.
	Passphrase string

	// DryRun keeps uploads and the journal in memory.
	DryRun bool

	// Stderr receives a copy of every log line. nil disables it.
	Stderr io.Writer

	Runner backup.ProcessRunner
	Clock  backup.Clock
}

// App is the application layer between the CLI and the backup service.
// It constructs every dependency from config and owns the journal and log
// file; the caller must call Close when done.
type App struct {
	cfg       *config.Config
	opts      Options
	schedule  *backup.Schedule
	logger    *slog.Logger
	logCloser io.Closer
	gateway   storage.Gateway
	journal   database.Journal
	service   *backup.Service
}

// New creates a fully wired App from cfg. Relative paths in cfg are
// resolved in place against the working directory.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if opts.Session == "" {
		opts.Session = time.Now().UTC().Format("20060102T150405Z")
	}
	if opts.Runner == nil {
		opts.Runner = process.NewOSRunner()
	}
	if opts.Clock == nil {
		opts.Clock = backup.SystemClock{}
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	schedule, err := backup.ParseScheduleIn(cfg.CronExpression, loc)
	if err != nil {
		return nil, err
	}

	osfs := fs.NewOSFilesystem()
	if err := osfs.CheckSourceDir(cfg.SourceDir); err != nil {
		return nil, err
	}
	if err := osfs.EnsureDir(cfg.TempDir); err != nil {
		return nil, err
	}

	passphrase := opts.Passphrase
	if passphrase == "" {
		passphrase, err = cfg.Encryption.ResolvePassphrase(os.Getenv)
		if err != nil {
			return nil, fmt.Errorf("resolving passphrase: %w", err)
		}
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption, passphrase, opts.Runner)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	storageCfg, dbCfg := cfg.Storage, cfg.Database
	if opts.DryRun {
		storageCfg.Type = "memory"
		dbCfg = config.Database{Type: "memory"}
	}

	gw, err := storage.NewGatewayFromConfig(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("creating storage gateway: %w", err)
	}

	logger, logCloser, err := newLogger(cfg.LogDir, cfg.Logging, opts.Session, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	journal, err := database.NewJournalFromConfig(dbCfg)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	svc := backup.NewService(backup.Settings{
		SourceDir:   cfg.SourceDir,
		TempDir:     cfg.TempDir,
		Bucket:      cfg.Storage.Bucket,
		StorageTier: cfg.Storage.StorageClass,
		FindCommand: cfg.FindCommand,
	}, schedule, backup.Dependencies{
		Runner:     opts.Runner,
		Encryptor:  enc,
		Verifier:   backup.NewVerifier(opts.Runner, cfg.HashProgram),
		Uploader:   gw,
		Filesystem: osfs,
		Journal:    journal,
		Logger:     &slogAdapter{l: logger},
		Clock:      opts.Clock,
		IDs:        backup.UUIDGenerator{},
	})

	if opts.DryRun {
		logger.Info("dry run: uploads and history are kept in memory")
	}

	return &App{
		cfg:       cfg,
		opts:      opts,
		schedule:  schedule,
		logger:    logger,
		logCloser: logCloser,
		gateway:   gw,
		journal:   journal,
		service:   svc,
	}, nil
}

// Schedule returns the parsed backup schedule.
func (a *App) Schedule() *backup.Schedule {
	return a.schedule
}

// ValidateSetup checks that the upload destination is reachable.
func (a *App) ValidateSetup(ctx context.Context) error {
	if a.opts.DryRun {
		return nil
	}
	if err := a.gateway.ValidateSetup(ctx, a.cfg.Storage.Bucket); err != nil {
		return fmt.Errorf("validating storage: %w", err)
	}
	return nil
}

// RunBackup performs one backup run now, bounded by run_timeout.
func (a *App) RunBackup(ctx context.Context) (*backup.BackupRun, error) {
	if a.cfg.RunTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout.Duration)
		defer cancel()
	}
	return a.service.Run(ctx)
}

// Serve runs backups on the configured schedule until ctx is canceled,
// then waits for a run in flight to finish. When runNow is set a backup
// is started immediately as well.
func (a *App) Serve(ctx context.Context, runNow bool) error {
	if err := a.ValidateSetup(ctx); err != nil {
		return err
	}

	log := &slogAdapter{l: a.logger}
	sched := scheduler.New(a.schedule, a.service, scheduler.Options{
		Timeout: a.cfg.RunTimeout.Duration,
		Logger:  log,
		Clock:   a.opts.Clock,
	})
	sched.Start(ctx)

	triggered := make(chan struct{})
	if runNow {
		go func() {
			defer close(triggered)
			sched.Trigger()
		}()
	} else {
		close(triggered)
	}

	<-ctx.Done()
	log.Info("shutting down, waiting for running backup to finish")
	<-sched.Stop().Done()
	<-triggered
	log.Info("scheduler stopped")
	return nil
}

// History returns the most recent runs from the journal, newest first.
func (a *App) History(limit int) ([]*database.RunRecord, error) {
	return a.journal.ListRuns(limit)
}

// Close releases the journal and the log file.
func (a *App) Close() error {
	var errs []error
	if err := a.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing journal: %w", err))
	}
	if err := a.logCloser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing log file: %w", err))
	}
	return errors.Join(errs...)
}

// OpenJournal opens the configured journal for reading without building
// the rest of the app.
func OpenJournal(cfg *config.Config) (database.Journal, error) {
	return database.NewJournalFromConfig(cfg.Database)
}

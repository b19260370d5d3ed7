// Package database keeps the run journal: an append-only SQLite record of
// every backup run, for operators and the history command.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
	"github.com/DankTechnologies/AwsBackup/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// RunRecord is one row of the journal.
type RunRecord struct {
	ID              int64
	RunID           string
	RunDate         string
	LookbackDays    int
	StartedAt       time.Time
	FinishedAt      *time.Time
	Status          backup.RunStatus
	FailedStage     backup.Stage
	Error           string
	ObjectKey       string
	ArchiveSHA256   string
	EncryptedSHA256 string
	EncryptedSize   int64
}

// SQLiteJournal implements backup.Journal on SQLite.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal opens (creating if needed) the journal at path and
// migrates it to the latest schema. path can be ":memory:".
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return &SQLiteJournal{db: db, path: path}, nil
}

// OpenConnection opens a SQLite database with the settings the journal
// relies on. A single connection serialises writers and keeps ":memory:"
// databases from splitting across connections.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// RecordStart inserts a running entry for run.
func (j *SQLiteJournal) RecordStart(run *backup.BackupRun) (int64, error) {
	res, err := j.db.ExecContext(context.Background(),
		`INSERT INTO backup_runs (run_id, run_date, lookback_days, started_at, status)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.RunDate, run.LookbackDays, run.StartedAt.UTC(), string(backup.RunStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading journal id: %w", err)
	}
	return id, nil
}

// RecordFinish stores the outcome of run on entry id.
func (j *SQLiteJournal) RecordFinish(id int64, run *backup.BackupRun) error {
	var errText string
	if run.Err != nil {
		errText = run.Err.Error()
	}
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	res, err := j.db.ExecContext(context.Background(),
		`UPDATE backup_runs
		    SET finished_at = ?, status = ?, failed_stage = ?, error = ?, object_key = ?,
		        archive_sha256 = ?, encrypted_sha256 = ?, encrypted_size = ?
		  WHERE id = ?`,
		finished.UTC(), string(run.Status), string(run.FailedStage), errText, run.ObjectKey,
		run.ArchiveHash, run.EncryptedHash, run.EncryptedSize, id,
	)
	if err != nil {
		return fmt.Errorf("recording run outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording run outcome: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("recording run outcome: no journal entry %d", id)
	}
	return nil
}

const selectRuns = `SELECT id, run_id, run_date, lookback_days, started_at, finished_at, status,
       failed_stage, error, object_key, archive_sha256, encrypted_sha256, encrypted_size
  FROM backup_runs`

// ListRuns returns up to limit entries, newest first.
func (j *SQLiteJournal) ListRuns(limit int) ([]*RunRecord, error) {
	rows, err := j.db.QueryContext(context.Background(),
		selectRuns+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return records, nil
}

// FindRun returns the entry for a run ID, or nil when there is none.
func (j *SQLiteJournal) FindRun(runID string) (*RunRecord, error) {
	row := j.db.QueryRowContext(context.Background(), selectRuns+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding run %s: %w", runID, err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var (
		r        RunRecord
		finished sql.NullTime
		status   string
		stage    string
	)
	if err := s.Scan(&r.ID, &r.RunID, &r.RunDate, &r.LookbackDays, &r.StartedAt, &finished, &status,
		&stage, &r.Error, &r.ObjectKey, &r.ArchiveSHA256, &r.EncryptedSHA256, &r.EncryptedSize); err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.Status = backup.RunStatus(status)
	r.FailedStage = backup.Stage(stage)
	return &r, nil
}

// Path returns the database file path (or ":memory:").
func (j *SQLiteJournal) Path() string {
	return j.path
}

// CheckMigrations verifies the journal schema is up-to-date.
func (j *SQLiteJournal) CheckMigrations() error {
	return migrations.CheckStatus(j.db)
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

var _ backup.Journal = (*SQLiteJournal)(nil)

package database

import (
	"fmt"
	"path/filepath"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
	"github.com/DankTechnologies/AwsBackup/internal/config"
)

// JournalFileName is the journal database inside data_dir.
const JournalFileName = "journal.db"

// Journal is a backup.Journal that can also be read back and closed.
type Journal interface {
	backup.Journal
	ListRuns(limit int) ([]*RunRecord, error)
	Close() error
}

// NewJournalFromConfig creates a Journal based on the database config type.
func NewJournalFromConfig(cfg config.Database) (Journal, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		return NewSQLiteJournal(filepath.Join(cfg.DataDir, JournalFileName))
	case "memory":
		return NewSQLiteJournal(":memory:")
	case "none":
		return nopJournal{}, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// nopJournal keeps no history.
type nopJournal struct {
	backup.NopJournal
}

func (nopJournal) ListRuns(int) ([]*RunRecord, error) { return nil, nil }
func (nopJournal) Close() error                       { return nil }

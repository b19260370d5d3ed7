package testutil

import (
	"errors"
	"sync"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// JournalEntry is a snapshot of what a RecordingJournal was told.
type JournalEntry struct {
	ID       int64
	Started  backup.BackupRun
	Finished *backup.BackupRun
}

// RecordingJournal keeps journal calls in memory. Set FailStart to make
// RecordStart fail.
type RecordingJournal struct {
	mu        sync.Mutex
	entries   []*JournalEntry
	FailStart bool
}

func NewRecordingJournal() *RecordingJournal {
	return &RecordingJournal{}
}

func (j *RecordingJournal) RecordStart(run *backup.BackupRun) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.FailStart {
		return 0, errors.New("journal unavailable")
	}
	id := int64(len(j.entries) + 1)
	j.entries = append(j.entries, &JournalEntry{ID: id, Started: *run})
	return id, nil
}

func (j *RecordingJournal) RecordFinish(id int64, run *backup.BackupRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if id < 1 || int(id) > len(j.entries) {
		return errors.New("unknown journal entry")
	}
	snapshot := *run
	j.entries[id-1].Finished = &snapshot
	return nil
}

// Entries returns the recorded entries in order.
func (j *RecordingJournal) Entries() []*JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*JournalEntry(nil), j.entries...)
}

var _ backup.Journal = (*RecordingJournal)(nil)

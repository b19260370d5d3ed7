package backup

// Journal keeps an audit trail of runs for operators. It is write-only
// from the orchestrator's point of view: nothing in a run is derived from
// what earlier runs recorded, and the look-back window in particular comes
// from the schedule alone.
type Journal interface {
	// RecordStart stores a new entry for run and returns its journal ID.
	RecordStart(run *BackupRun) (int64, error)

	// RecordFinish updates the entry with the run's outcome.
	RecordFinish(id int64, run *BackupRun) error
}

// NopJournal records nothing.
type NopJournal struct{}

func (NopJournal) RecordStart(*BackupRun) (int64, error) { return 0, nil }
func (NopJournal) RecordFinish(int64, *BackupRun) error  { return nil }

package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// LogEntry is one record captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// Attr returns the value logged under key, or nil.
func (e LogEntry) Attr(key string) any {
	for i := 0; i+1 < len(e.Args); i += 2 {
		if k, ok := e.Args[i].(string); ok && k == key {
			return e.Args[i+1]
		}
	}
	return nil
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s %v", e.Level, e.Msg, e.Args)
}

// RecordingLogger is a backup.Logger that keeps every record in memory.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: append([]any(nil), args...)})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// Entries returns a copy of everything logged so far.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Find returns the entries whose message contains substr.
func (l *RecordingLogger) Find(substr string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if strings.Contains(e.Msg, substr) {
			out = append(out, e)
		}
	}
	return out
}

// AtLevel returns the entries logged at level ("DEBUG", "INFO", ...).
func (l *RecordingLogger) AtLevel(level string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

var _ backup.Logger = (*RecordingLogger)(nil)

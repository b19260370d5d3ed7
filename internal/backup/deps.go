package backup

import (
	"io/fs"
	"time"

	"github.com/google/uuid"
)

// Clock supplies "now" to the orchestrator. The schedule calculator never
// reads the wall clock itself; callers pass the instant in explicitly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator hands out run identifiers.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Logger is the structured logging surface used by a backup run.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Filesystem is the slice of local file access the orchestrator needs to
// confirm stage outputs and clean up after an upload.
type Filesystem interface {
	Stat(path string) (fs.FileInfo, error)
	Remove(path string) error
}

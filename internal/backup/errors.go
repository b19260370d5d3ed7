package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrArtifactMissing reports that a stage exited cleanly but the file it was
// supposed to produce is not on disk.
var ErrArtifactMissing = errors.New("expected output file is missing")

// maxErrorOutput bounds how much captured process output is echoed in
// Error(); the full output stays available on the struct for logging.
const maxErrorOutput = 512

// InvalidScheduleError is returned when a cron expression cannot be parsed.
type InvalidScheduleError struct {
	Expr string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// StageExecutionError describes a pipeline stage that did not complete.
// ExitCode and Output come from the external process; Err is set when the
// stage failed for a reason other than a nonzero exit.
type StageExecutionError struct {
	Stage    Stage
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *StageExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stage failed", e.Stage)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		if len(out) > maxErrorOutput {
			out = out[:maxErrorOutput] + "..."
		}
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// HashComputationError is returned when the hashing tool fails or prints
// something that is not a digest. It always wraps a *StageExecutionError so
// callers can treat it like any other stage failure.
type HashComputationError struct {
	Path string
	Err  error
}

func (e *HashComputationError) Error() string {
	return fmt.Sprintf("computing hash of %s: %v", e.Path, e.Err)
}

func (e *HashComputationError) Unwrap() error { return e.Err }

// UploadError is returned when the object store rejects or loses an upload.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s to bucket %s: %v", e.Key, e.Bucket, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// FailedStage extracts the pipeline stage from err, or StageIdle when err
// does not carry one.
func FailedStage(err error) Stage {
	var stageErr *StageExecutionError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return StageUploading
	}
	return StageIdle
}

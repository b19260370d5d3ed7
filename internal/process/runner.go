// Package process runs external programs for the backup pipeline.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// OSRunner runs programs with os/exec and buffers their output.
type OSRunner struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// NewOSRunner creates a runner that inherits the service's environment.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run starts cmd, waits for it, and returns its exit code and output.
// A process that ran and exited nonzero (or was killed through ctx) is not
// an error; failing to start it is.
func (r *OSRunner) Run(ctx context.Context, cmd backup.Command) (*backup.ExitResult, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	if r.Env != nil {
		c.Env = r.Env
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := &backup.ExitResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return nil, fmt.Errorf("running %s: %w", cmd.Program, err)
}

var _ backup.ProcessRunner = (*OSRunner)(nil)

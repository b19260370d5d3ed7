package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// ProcessHandler scripts the behaviour of one fake program.
type ProcessHandler func(cmd backup.Command) (*backup.ExitResult, error)

// FakeRunner is a backup.ProcessRunner that dispatches on the program name
// to scripted handlers and records every call. Programs without a handler
// fail to start. Safe for concurrent use.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]ProcessHandler
	calls    []backup.Command
}

// NewFakeRunner creates a FakeRunner with no handlers.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]ProcessHandler)}
}

// Handle registers h for program.
func (r *FakeRunner) Handle(program string, h ProcessHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[program] = h
}

func (r *FakeRunner) Run(_ context.Context, cmd backup.Command) (*backup.ExitResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h, ok := r.handlers[cmd.Program]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", cmd.Program)
	}
	return h(cmd)
}

// Calls returns every command run so far, in order.
func (r *FakeRunner) Calls() []backup.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]backup.Command(nil), r.calls...)
}

// CallsTo returns the commands run for program.
func (r *FakeRunner) CallsTo(program string) []backup.Command {
	var out []backup.Command
	for _, c := range r.Calls() {
		if c.Program == program {
			out = append(out, c)
		}
	}
	return out
}

var _ backup.ProcessRunner = (*FakeRunner)(nil)

// Exit returns a handler that only reports the given exit code and output.
func Exit(code int, stdout, stderr string) ProcessHandler {
	return func(backup.Command) (*backup.ExitResult, error) {
		return &backup.ExitResult{ExitCode: code, Stdout: stdout, Stderr: stderr}, nil
	}
}

// ArchiveWriter returns a /bin/sh handler that stands in for find | tar:
// it writes content to the archive named after "-cvf" in the script and
// lists files on stdout.
func ArchiveWriter(content []byte, files ...string) ProcessHandler {
	return func(cmd backup.Command) (*backup.ExitResult, error) {
		path, err := archivePathFromScript(cmd)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			return nil, err
		}
		var out strings.Builder
		for _, f := range files {
			out.WriteString(f + "\n")
		}
		return &backup.ExitResult{Stdout: out.String()}, nil
	}
}

// GPGWriter returns a gpg handler that writes "<archive>.gpg" holding a
// marker followed by the archive bytes. The passphrase must match.
func GPGWriter(passphrase string) ProcessHandler {
	return func(cmd backup.Command) (*backup.ExitResult, error) {
		if cmd.Stdin != passphrase {
			return &backup.ExitResult{ExitCode: 2, Stderr: "gpg: decryption failed: Bad passphrase\n"}, nil
		}
		src := cmd.Args[len(cmd.Args)-1]
		data, err := os.ReadFile(src)
		if err != nil {
			return &backup.ExitResult{ExitCode: 2, Stderr: err.Error()}, nil
		}
		enc := append([]byte("GPGFAKE\x00"), data...)
		if err := os.WriteFile(src+".gpg", enc, 0644); err != nil {
			return nil, err
		}
		return &backup.ExitResult{}, nil
	}
}

// Sha256Sum returns a handler that hashes its path argument the way
// coreutils sha256sum does.
func Sha256Sum() ProcessHandler {
	return func(cmd backup.Command) (*backup.ExitResult, error) {
		path := cmd.Args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return &backup.ExitResult{
				ExitCode: 1,
				Stderr:   fmt.Sprintf("sha256sum: %s: No such file or directory\n", path),
			}, nil
		}
		return &backup.ExitResult{Stdout: fmt.Sprintf("%s  %s\n", SHA256Hex(data), path)}, nil
	}
}

// archivePathFromScript pulls the tar output path out of an
// `sh -c "... tar --null -cvf '<path>' --files-from -"` command.
func archivePathFromScript(cmd backup.Command) (string, error) {
	if len(cmd.Args) != 2 || cmd.Args[0] != "-c" {
		return "", fmt.Errorf("unexpected shell args: %q", cmd.Args)
	}
	_, rest, ok := strings.Cut(cmd.Args[1], "-cvf ")
	if !ok {
		return "", fmt.Errorf("no -cvf in script: %q", cmd.Args[1])
	}
	quoted, _, _ := strings.Cut(rest, " --files-from")
	path := strings.Trim(quoted, "'")
	if !filepath.IsAbs(path) {
		// tar would resolve it against cmd.Dir while the service looks for
		// it elsewhere.
		return "", fmt.Errorf("archive path %q is relative to the shell's working directory %q", path, cmd.Dir)
	}
	return path, nil
}

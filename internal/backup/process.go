package backup

import (
	"context"
	"strings"
)

// Command describes one invocation of an external program.
type Command struct {
	Program string
	Args    []string
	// Stdin is fed to the process verbatim. It may carry secrets and is
	// never included in String().
	Stdin string
	// Dir is the working directory; empty means the caller's.
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Program)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"|&;<>") {
			a = shellQuote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// ExitResult is what an external program left behind.
type ExitResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns stdout followed by stderr.
func (r *ExitResult) Output() string {
	return r.Stdout + r.Stderr
}

// ProcessRunner runs external programs to completion and buffers both
// output streams. A nonzero exit code is reported in the ExitResult, not as
// an error; the error return is reserved for programs that could not be
// started or waited on at all.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (*ExitResult, error)
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

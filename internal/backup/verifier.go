package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultHashProgram prints "<hex-digest>  <filename>" for a path argument.
const DefaultHashProgram = "sha256sum"

// Verifier computes content digests by running a hashing tool.
type Verifier struct {
	runner  ProcessRunner
	program string
}

// NewVerifier creates a Verifier. An empty program selects sha256sum.
func NewVerifier(runner ProcessRunner, program string) *Verifier {
	if program == "" {
		program = DefaultHashProgram
	}
	return &Verifier{runner: runner, program: program}
}

// Hash returns the lowercase hex digest of the file at path.
// Any failure is reported as a *HashComputationError.
func (v *Verifier) Hash(ctx context.Context, path string) (string, error) {
	cmd := Command{Program: v.program, Args: []string{path}}
	res, err := v.runner.Run(ctx, cmd)
	if err != nil {
		return "", &HashComputationError{Path: path, Err: &StageExecutionError{
			Stage:    StageVerifying,
			Command:  cmd.String(),
			ExitCode: -1,
			Err:      err,
		}}
	}
	if res.ExitCode != 0 {
		return "", &HashComputationError{Path: path, Err: &StageExecutionError{
			Stage:    StageVerifying,
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
		}}
	}

	digest, err := parseDigest(res.Stdout)
	if err != nil {
		return "", &HashComputationError{Path: path, Err: &StageExecutionError{
			Stage:   StageVerifying,
			Command: cmd.String(),
			Output:  res.Output(),
			Err:     err,
		}}
	}
	return digest, nil
}

// parseDigest takes the first whitespace-delimited token of the tool's
// output, which must be a SHA-256 digest in hex. coreutils prefixes the line with a backslash when the file name
// had to be escaped, so that is stripped first.
func parseDigest(stdout string) (string, error) {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("hash tool printed nothing")
	}
	digest := strings.ToLower(strings.TrimPrefix(fields[0], `\`))
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed digest %q: want %d hex characters", digest, sha256.Size*2)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("malformed digest %q: %w", digest, err)
	}
	return digest, nil
}

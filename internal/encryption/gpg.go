package encryption

import (
	"context"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// GPGEncryptor implements backup.Encryptor by running gpg in symmetric
// mode. The passphrase is passed on stdin (--passphrase-fd 0) so it never
// appears in the process list or the logs.
type GPGEncryptor struct {
	runner     backup.ProcessRunner
	program    string
	passphrase string
}

var _ backup.Encryptor = (*GPGEncryptor)(nil)

// NewGPGEncryptor creates a GPGEncryptor. An empty program selects "gpg".
func NewGPGEncryptor(runner backup.ProcessRunner, program, passphrase string) *GPGEncryptor {
	if program == "" {
		program = "gpg"
	}
	return &GPGEncryptor{runner: runner, program: program, passphrase: passphrase}
}

// Extension returns "gpg", the suffix gpg -c appends.
func (e *GPGEncryptor) Extension() string { return "gpg" }

// Command returns the gpg invocation for archivePath.
func (e *GPGEncryptor) Command(archivePath string) backup.Command {
	return backup.Command{
		Program: e.program,
		Args:    []string{"--batch", "--yes", "--passphrase-fd", "0", "-c", archivePath},
		Stdin:   e.passphrase,
	}
}

// Encrypt runs gpg -c on archivePath, producing archivePath.gpg.
func (e *GPGEncryptor) Encrypt(ctx context.Context, archivePath string) error {
	cmd := e.Command(archivePath)
	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		return &backup.StageExecutionError{
			Stage:    backup.StageEncrypting,
			Command:  cmd.String(),
			ExitCode: -1,
			Err:      err,
		}
	}
	if res.ExitCode != 0 {
		return &backup.StageExecutionError{
			Stage:    backup.StageEncrypting,
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
		}
	}
	return nil
}

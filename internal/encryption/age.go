package encryption

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// AgeEncryptor implements backup.Encryptor in-process with filippo.io/age,
// using age's scrypt-based passphrase encryption. The output is readable
// with `age -d` and the same passphrase.
type AgeEncryptor struct {
	passphrase string
	workFactor int
}

var _ backup.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor. workFactor is the scrypt log2
// work factor; 0 keeps age's default.
func NewAgeEncryptor(passphrase string, workFactor int) *AgeEncryptor {
	return &AgeEncryptor{passphrase: passphrase, workFactor: workFactor}
}

// Extension returns "age".
func (e *AgeEncryptor) Extension() string { return "age" }

// Encrypt writes archivePath.age. The ciphertext is written to a temp file
// in the same directory and renamed into place, so a failed run never
// leaves a truncated .age file behind.
func (e *AgeEncryptor) Encrypt(ctx context.Context, archivePath string) error {
	outPath := archivePath + "." + e.Extension()
	if err := e.encryptFile(ctx, archivePath, outPath); err != nil {
		return &backup.StageExecutionError{
			Stage:    backup.StageEncrypting,
			Command:  "age --passphrase " + archivePath,
			ExitCode: 1,
			Err:      err,
		}
	}
	return nil
}

func (e *AgeEncryptor) encryptFile(ctx context.Context, srcPath, outPath string) error {
	recipient, err := age.NewScryptRecipient(e.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if e.workFactor > 0 {
		recipient.SetWorkFactor(e.workFactor)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w, err := age.Encrypt(tmp, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(w, &contextReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package backup

import "context"

// Encryptor turns the plaintext archive at archivePath into
// archivePath + "." + Extension(), using a symmetric passphrase it holds.
// The plaintext file is left in place.
//
// A failed encryption should be reported as a *StageExecutionError so the
// captured tool output reaches the logs.
type Encryptor interface {
	Extension() string
	Encrypt(ctx context.Context, archivePath string) error
}

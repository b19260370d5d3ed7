package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string,
// the same format sha256sum prints.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256File hashes the file at path, failing the test if it cannot be read.
func SHA256File(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return SHA256Hex(data)
}

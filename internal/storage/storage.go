// Package storage holds the upload gateways the backup service ships
// encrypted archives to.
package storage

import (
	"context"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// Gateway is an object store that can take a finished archive.
type Gateway interface {
	backup.Uploader

	// ValidateSetup checks that bucket exists and is reachable with the
	// configured credentials. It is meant for startup, before the first run.
	ValidateSetup(ctx context.Context, bucket string) error
}

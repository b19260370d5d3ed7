package storage

import (
	"context"
	"fmt"

	"github.com/DankTechnologies/AwsBackup/internal/config"
)

// NewGatewayFromConfig creates a Gateway based on the storage config type.
func NewGatewayFromConfig(ctx context.Context, cfg config.Storage) (Gateway, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryGateway(), nil
	case "s3":
		return NewS3Gateway(ctx, S3Options{
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PartSizeMB:      cfg.PartSizeMB,
			Concurrency:     cfg.Concurrency,
		})
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem storage requires fs_root to be set")
		}
		return NewFileSystemGateway(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

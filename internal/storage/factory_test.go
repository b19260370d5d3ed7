package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DankTechnologies/AwsBackup/internal/config"
)

func TestNewGatewayFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Storage
		wantErr bool
	}{
		{name: "memory", cfg: config.Storage{Type: "memory"}},
		{name: "filesystem", cfg: config.Storage{Type: "filesystem", FSRoot: filepath.Join(t.TempDir(), "root")}},
		{name: "filesystem without root", cfg: config.Storage{Type: "filesystem"}, wantErr: true},
		{
			name: "s3 with static credentials",
			cfg: config.Storage{
				Type:            "s3",
				Bucket:          "pictures",
				Region:          "us-east-2",
				AccessKeyID:     "AKIDEXAMPLE",
				SecretAccessKey: "SECRET",
			},
		},
		{name: "unknown type", cfg: config.Storage{Type: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewGatewayFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGatewayFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewGatewayFromConfig() returned nil gateway")
			}
		})
	}
}

package encryption

import (
	"testing"

	"github.com/DankTechnologies/AwsBackup/internal/config"
	"github.com/DankTechnologies/AwsBackup/internal/testutil"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        config.Encryption
		passphrase string
		wantExt    string
		wantErr    bool
	}{
		{name: "gpg", cfg: config.Encryption{Type: "gpg"}, passphrase: "p", wantExt: "gpg"},
		{name: "empty type defaults to gpg", cfg: config.Encryption{}, passphrase: "p", wantExt: "gpg"},
		{name: "age", cfg: config.Encryption{Type: "age", AgeWorkFactor: testWorkFactor}, passphrase: "p", wantExt: "age"},
		{name: "unknown type", cfg: config.Encryption{Type: "rot13"}, passphrase: "p", wantErr: true},
		{name: "empty passphrase", cfg: config.Encryption{Type: "age"}, passphrase: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			enc, err := NewEncryptorFromConfig(tt.cfg, tt.passphrase, testutil.NewFakeRunner())
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewEncryptorFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig() error = %v", err)
			}
			if got := enc.Extension(); got != tt.wantExt {
				t.Errorf("Extension() = %q, want %q", got, tt.wantExt)
			}
		})
	}
}

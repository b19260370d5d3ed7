package encryption

import (
	"fmt"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
	"github.com/DankTechnologies/AwsBackup/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.Encryption, passphrase string, runner backup.ProcessRunner) (backup.Encryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}
	switch cfg.Type {
	case "gpg", "":
		return NewGPGEncryptor(runner, cfg.Program, passphrase), nil
	case "age":
		return NewAgeEncryptor(passphrase, cfg.AgeWorkFactor), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that relocate the config file and data directory.
const (
	ConfigPathEnv = "AWSBACKUP_CONFIG_PATH"
	HomeEnv       = "AWSBACKUP_HOME"
)

// Defaults are the paths used when the user has not configured any.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - AWSBACKUP_CONFIG_PATH: config file location (default: ~/.config/awsbackup.toml)
//   - AWSBACKUP_HOME: base directory for awsbackup data (default: ~/.local/share/awsbackup)
func GetDefaults() (*Defaults, error) {
	configPath, err := envOrHome(ConfigPathEnv, ".config", "awsbackup.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome(HomeEnv, ".local", "share", "awsbackup")
	if err != nil {
		return nil, err
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns $key if set, otherwise the path under the home directory.
func envOrHome(key string, elem ...string) (string, error) {
	if path := os.Getenv(key); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}

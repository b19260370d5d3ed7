package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// PassphraseEnv overrides the encryption passphrase from the config file.
const PassphraseEnv = "AWSBACKUP_PASSPHRASE"

// Config represents the main configuration for awsbackup.
type Config struct {
	SourceDir      string     `toml:"source_dir"`
	TempDir        string     `toml:"temp_dir"`
	CronExpression string     `toml:"cron_expression"`
	Timezone       string     `toml:"timezone"`     // IANA name; empty means UTC
	FindCommand    string     `toml:"find_command"` // file selection; -mtime -N -print0 is appended
	HashProgram    string     `toml:"hash_program"`
	RunTimeout     Duration   `toml:"run_timeout"` // 0 lets a run take as long as it needs
	BaseDir        string     `toml:"base_dir"`
	LogDir         string     `toml:"log_dir"`
	Encryption     Encryption `toml:"encryption"`
	Storage        Storage    `toml:"storage"`
	Database       Database   `toml:"database"`
	Logging        Logging    `toml:"logging"`
}

// Encryption selects how the archive is encrypted.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type Encryption struct {
	Type           string `toml:"type"`                      // "gpg" (default) or "age"
	Program        string `toml:"program,omitempty"`         // only used for type=gpg
	Passphrase     string `toml:"passphrase,omitempty"`      // prefer passphrase_file or AWSBACKUP_PASSPHRASE
	PassphraseFile string `toml:"passphrase_file,omitempty"` // first line is the passphrase
	AgeWorkFactor  int    `toml:"age_work_factor,omitempty"` // scrypt log2 work factor; only used for type=age
}

// Storage represents configuration for the upload destination.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type Storage struct {
	Type         string `toml:"type"` // "s3", "filesystem" or "memory"
	Bucket       string `toml:"bucket"`
	StorageClass string `toml:"storage_class,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"` // S3-compatible stores; enables path-style addressing
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	PartSizeMB      int64  `toml:"part_size_mb,omitempty"`
	Concurrency     int    `toml:"concurrency,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// Database represents configuration for the run journal.
type Database struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// Logging configures the log file. Records always go to stderr as well.
type Logging struct {
	Level      string `toml:"level"` // debug, info, warn, error
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration is a time.Duration written as a Go duration string ("12h").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a Config rooted at baseDir with every default filled in.
func NewConfig(baseDir string) *Config {
	cfg := &Config{BaseDir: baseDir}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields. Paths default to locations under BaseDir.
func (c *Config) ApplyDefaults() {
	if c.CronExpression == "" {
		c.CronExpression = "0 2 * * 0"
	}
	if c.FindCommand == "" {
		c.FindCommand = "find . -type f"
	}
	if c.HashProgram == "" {
		c.HashProgram = "sha256sum"
	}
	if c.TempDir == "" && c.BaseDir != "" {
		c.TempDir = filepath.Join(c.BaseDir, "tmp")
	}
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "gpg"
	}
	if c.Encryption.Type == "gpg" && c.Encryption.Program == "" {
		c.Encryption.Program = "gpg"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "s3"
	}
	if c.Storage.StorageClass == "" {
		c.Storage.StorageClass = "DEEP_ARCHIVE"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" && c.BaseDir != "" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 90
	}
}

// Validate reports every missing or inconsistent option at once.
func (c *Config) Validate() error {
	var errs []error
	if c.SourceDir == "" {
		errs = append(errs, errors.New("source_dir is required"))
	}
	if c.TempDir == "" {
		errs = append(errs, errors.New("temp_dir is required"))
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log_dir is required (or set base_dir)"))
	}
	if c.CronExpression == "" {
		errs = append(errs, errors.New("cron_expression is required"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if c.RunTimeout.Duration < 0 {
		errs = append(errs, errors.New("run_timeout must not be negative"))
	}

	switch c.Encryption.Type {
	case "gpg", "age":
	default:
		errs = append(errs, fmt.Errorf("unknown encryption type: %q", c.Encryption.Type))
	}

	switch c.Storage.Type {
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for s3 storage"))
		}
		if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
			errs = append(errs, errors.New("storage.access_key_id and storage.secret_access_key must be set together"))
		}
	case "filesystem":
		if c.Storage.FSRoot == "" {
			errs = append(errs, errors.New("storage.fs_root is required for filesystem storage"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage type: %q", c.Storage.Type))
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir is required for sqlite"))
		}
	case "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown database type: %q", c.Database.Type))
	}

	return errors.Join(errs...)
}

// ResolvePaths makes every configured directory absolute, relative to the
// current working directory. The archive command runs inside source_dir,
// so a relative temp_dir would otherwise resolve differently for tar than
// for the rest of the process.
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{
		&c.SourceDir, &c.TempDir, &c.BaseDir, &c.LogDir,
		&c.Database.DataDir, &c.Storage.FSRoot, &c.Encryption.PassphraseFile,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Location returns the configured time zone, UTC when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ResolvePassphrase returns the encryption passphrase, looking first at the
// environment, then passphrase_file, then the inline value.
func (e Encryption) ResolvePassphrase(getenv func(string) string) (string, error) {
	if getenv != nil {
		if p := getenv(PassphraseEnv); p != "" {
			return p, nil
		}
	}
	if e.PassphraseFile != "" {
		data, err := os.ReadFile(e.PassphraseFile)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		line = strings.TrimRight(line, "\r")
		if line == "" {
			return "", fmt.Errorf("passphrase file %s is empty", e.PassphraseFile)
		}
		return line, nil
	}
	if e.Passphrase != "" {
		return e.Passphrase, nil
	}
	return "", errors.New("no encryption passphrase configured")
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to path with owner-only permissions, since
// the file may hold the passphrase and storage credentials.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

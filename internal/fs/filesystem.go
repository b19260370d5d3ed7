// Package fs is the real-filesystem side of the backup service: it checks
// the configured directories and removes local archives after upload.
package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// OSFilesystem implements backup.Filesystem on the os package.
type OSFilesystem struct{}

// NewOSFilesystem creates a filesystem that operates on the real filesystem.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{}
}

// Stat returns file info for path, following symlinks.
func (m *OSFilesystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Remove deletes a single file. Directories are refused so a bad path can
// never take a tree with it.
func (m *OSFilesystem) Remove(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to remove directory: %s", path)
	}
	return os.Remove(path)
}

// CheckSourceDir verifies that path is an existing directory.
func (m *OSFilesystem) CheckSourceDir(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", absPath)
	}
	return nil
}

// EnsureDir creates path (and parents) if needed and checks it can hold
// new files, by creating and removing a probe file.
func (m *OSFilesystem) EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}

	probe, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

var _ backup.Filesystem = (*OSFilesystem)(nil)

package testutil

import (
	"io/fs"
	"os"
	"sync"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// FaultyFilesystem is a backup.Filesystem over the real filesystem that
// can be told to fail Remove for chosen paths.
type FaultyFilesystem struct {
	mu         sync.Mutex
	removeErrs map[string]error
	removed    []string
}

func NewFaultyFilesystem() *FaultyFilesystem {
	return &FaultyFilesystem{removeErrs: make(map[string]error)}
}

// FailRemove makes Remove(path) return err without touching the file.
func (f *FaultyFilesystem) FailRemove(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErrs[path] = err
}

func (f *FaultyFilesystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (f *FaultyFilesystem) Remove(path string) error {
	f.mu.Lock()
	err := f.removeErrs[path]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	f.mu.Lock()
	f.removed = append(f.removed, path)
	f.mu.Unlock()
	return nil
}

// Removed lists the paths successfully removed, in order.
func (f *FaultyFilesystem) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

var _ backup.Filesystem = (*FaultyFilesystem)(nil)

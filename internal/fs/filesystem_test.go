package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystem_Remove(t *testing.T) {
	t.Parallel()
	m := NewOSFilesystem()
	dir := t.TempDir()

	t.Run("removes file", func(t *testing.T) {
		path := filepath.Join(dir, "2024-03-10-archive.tar")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := m.Remove(path); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("file still exists, stat error = %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := m.Remove(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
			t.Errorf("Remove() error = %v, want not-exist", err)
		}
	})

	t.Run("refuses directory", func(t *testing.T) {
		sub := filepath.Join(dir, "sub")
		if err := os.Mkdir(sub, 0755); err != nil {
			t.Fatal(err)
		}
		if err := m.Remove(sub); err == nil {
			t.Error("Remove() on a directory should fail")
		}
		if _, err := os.Stat(sub); err != nil {
			t.Errorf("directory was removed: %v", err)
		}
	})
}

func TestOSFilesystem_CheckSourceDir(t *testing.T) {
	t.Parallel()
	m := NewOSFilesystem()
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "directory", path: dir},
		{name: "file", path: file, wantErr: true},
		{name: "missing", path: filepath.Join(dir, "nope"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckSourceDir(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckSourceDir(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestOSFilesystem_EnsureDir(t *testing.T) {
	t.Parallel()
	m := NewOSFilesystem()
	dir := filepath.Join(t.TempDir(), "a", "b", "tmp")

	if err := m.EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("EnsureDir() left %d entries behind, want 0", len(entries))
	}

	if err := m.EnsureDir(dir); err != nil {
		t.Errorf("EnsureDir() on existing dir error = %v", err)
	}
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// MetaSuffix is appended to an object's file name for its metadata sidecar.
const MetaSuffix = ".meta.toml"

// ObjectMeta is what the filesystem gateway records next to each object.
type ObjectMeta struct {
	StorageTier string            `toml:"storage_tier"`
	Size        int64             `toml:"size"`
	UploadedAt  time.Time         `toml:"uploaded_at"`
	Metadata    map[string]string `toml:"metadata"`
}

// FileSystemGateway stores objects as files in a directory tree:
//
//	<root>/
//	  <bucket>/
//	    <key>              (object content)
//	    <key>.meta.toml    (storage tier and metadata)
//
// Buckets are directories and must already exist. Useful for local or
// NAS-mounted targets and for exercising the pipeline without AWS.
type FileSystemGateway struct {
	root string
	now  func() time.Time
}

// NewFileSystemGateway creates a gateway rooted at root, creating root if needed.
func NewFileSystemGateway(root string) (*FileSystemGateway, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemGateway{root: root, now: time.Now}, nil
}

// CreateBucket makes the directory for bucket.
func (g *FileSystemGateway) CreateBucket(bucket string) error {
	dir, err := g.bucketDir(bucket)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

// Upload copies localPath to <root>/<bucket>/<key>. The object is written
// to a temp file and renamed into place after its metadata, so readers
// never see a partial object.
func (g *FileSystemGateway) Upload(ctx context.Context, localPath string, dest backup.UploadDescriptor, onProgress func(int)) (*backup.UploadResult, error) {
	uploadErr := func(err error) error {
		return &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: err}
	}

	if err := g.ValidateSetup(ctx, dest.Bucket); err != nil {
		return nil, uploadErr(err)
	}
	if dest.Key == "" || strings.ContainsAny(dest.Key, `/\`) || dest.Key == "." || dest.Key == ".." {
		return nil, uploadErr(fmt.Errorf("invalid object key %q", dest.Key))
	}

	dir, _ := g.bucketDir(dest.Bucket)
	destPath := filepath.Join(dir, dest.Key)

	src, err := os.Open(localPath)
	if err != nil {
		return nil, uploadErr(err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, uploadErr(err)
	}

	filter := backup.NewProgressFilter(backup.ProgressStep, onProgress)
	pr := newProgressReader(ctx, src, info.Size(), filter)
	written, err := writeFileAtomic(destPath+".partial", pr)
	if err != nil {
		return nil, uploadErr(err)
	}
	if written != info.Size() {
		os.Remove(destPath + ".partial")
		return nil, uploadErr(fmt.Errorf("size mismatch: expected %d bytes, got %d", info.Size(), written))
	}

	meta := ObjectMeta{
		StorageTier: dest.StorageTier,
		Size:        written,
		UploadedAt:  g.now().UTC(),
		Metadata:    dest.Metadata,
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(meta); err != nil {
		os.Remove(destPath + ".partial")
		return nil, uploadErr(fmt.Errorf("encoding metadata: %w", err))
	}
	if _, err := writeFileAtomic(destPath+MetaSuffix, &buf); err != nil {
		os.Remove(destPath + ".partial")
		return nil, uploadErr(err)
	}

	if err := os.Rename(destPath+".partial", destPath); err != nil {
		os.Remove(destPath + ".partial")
		os.Remove(destPath + MetaSuffix)
		return nil, uploadErr(fmt.Errorf("failed to rename temp file: %w", err))
	}

	return &backup.UploadResult{
		Location: "file://" + destPath,
		Size:     written,
	}, nil
}

// ReadMeta returns the metadata recorded for bucket/key.
func (g *FileSystemGateway) ReadMeta(bucket, key string) (*ObjectMeta, error) {
	dir, err := g.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	var meta ObjectMeta
	if _, err := toml.DecodeFile(filepath.Join(dir, key+MetaSuffix), &meta); err != nil {
		return nil, fmt.Errorf("reading metadata for %s/%s: %w", bucket, key, err)
	}
	return &meta, nil
}

// ValidateSetup verifies that the bucket directory exists.
func (g *FileSystemGateway) ValidateSetup(_ context.Context, bucket string) error {
	dir, err := g.bucketDir(bucket)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("bucket not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bucket path is not a directory: %s", dir)
	}
	return nil
}

func (g *FileSystemGateway) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	return filepath.Join(g.root, bucket), nil
}

// writeFileAtomic writes r to path using a temp file in the same directory
// and a rename.
func writeFileAtomic(path string, r io.Reader) (int64, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

var _ Gateway = (*FileSystemGateway)(nil)

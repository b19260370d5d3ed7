package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// Object is an upload held by a MemoryGateway.
type Object struct {
	Data        []byte
	StorageTier string
	Metadata    map[string]string
}

// MemoryGateway is an in-memory implementation of Gateway.
// Objects become visible only once the whole file has been read, so a
// failed upload leaves nothing behind. It is useful for testing and dry
// runs, and is safe for concurrent use.
type MemoryGateway struct {
	mu      sync.RWMutex
	objects map[string]Object // "bucket/key" -> object
	buckets map[string]bool   // nil means every bucket exists

	// FailWith, when set, makes the next uploads fail after the file has
	// been read, without storing anything.
	FailWith error

	// ChunkSize controls how often progress is sampled. Zero reads in 4 KiB
	// chunks.
	ChunkSize int
}

// NewMemoryGateway creates an empty gateway. With no buckets named, any
// bucket is accepted.
func NewMemoryGateway(buckets ...string) *MemoryGateway {
	g := &MemoryGateway{objects: make(map[string]Object)}
	if len(buckets) > 0 {
		g.buckets = make(map[string]bool, len(buckets))
		for _, b := range buckets {
			g.buckets[b] = true
		}
	}
	return g
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Upload reads localPath into memory and stores it under dest.
func (g *MemoryGateway) Upload(ctx context.Context, localPath string, dest backup.UploadDescriptor, onProgress func(int)) (*backup.UploadResult, error) {
	if err := g.ValidateSetup(ctx, dest.Bucket); err != nil {
		return nil, &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: err}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: err}
	}

	chunk := g.ChunkSize
	if chunk <= 0 {
		chunk = 4096
	}
	pr := newProgressReader(ctx, f, info.Size(), backup.NewProgressFilter(backup.ProgressStep, onProgress))

	var buf bytes.Buffer
	p := make([]byte, chunk)
	for {
		n, err := pr.Read(p)
		buf.Write(p[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: fmt.Errorf("reading %s: %w", localPath, err)}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailWith != nil {
		return nil, &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: g.FailWith}
	}
	g.objects[objectKey(dest.Bucket, dest.Key)] = Object{
		Data:        buf.Bytes(),
		StorageTier: dest.StorageTier,
		Metadata:    maps.Clone(dest.Metadata),
	}

	return &backup.UploadResult{
		Location: fmt.Sprintf("memory://%s/%s", dest.Bucket, dest.Key),
		Size:     int64(buf.Len()),
	}, nil
}

// Object returns the stored object for bucket/key.
func (g *MemoryGateway) Object(bucket, key string) (Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	obj, ok := g.objects[objectKey(bucket, key)]
	return obj, ok
}

// Len returns the number of stored objects.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// ValidateSetup fails only for buckets the gateway was not created with.
func (g *MemoryGateway) ValidateSetup(_ context.Context, bucket string) error {
	if g.buckets != nil && !g.buckets[bucket] {
		return fmt.Errorf("bucket not found: %s", bucket)
	}
	return nil
}

var _ Gateway = (*MemoryGateway)(nil)

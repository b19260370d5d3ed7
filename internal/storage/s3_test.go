package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// fakeS3 answers the handful of S3 calls a single-part upload makes.
type fakeS3 struct {
	mu      sync.Mutex
	puts    []*http.Request
	bodies  [][]byte
	buckets map[string]bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]

	if !f.buckets[bucket] {
		w.Header().Set("Content-Type", "application/xml")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
		return
	}

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.puts = append(f.puts, r)
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		w.Header().Set("ETag", `"9b2cf535f27731c974343645a3985328"`)
		w.Header().Set("x-amz-version-id", "v1")
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Gateway(t *testing.T, buckets ...string) (*S3Gateway, *fakeS3) {
	t.Helper()
	fake := &fakeS3{buckets: make(map[string]bool)}
	for _, b := range buckets {
		fake.buckets[b] = true
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "SECRET", ""),
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewS3GatewayFromClient(client, S3Options{}), fake
}

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestS3Gateway_Upload(t *testing.T) {
	t.Parallel()

	g, fake := newTestS3Gateway(t, "family-pictures")
	data := []byte(strings.Repeat("encrypted archive bytes ", 1000))
	path := writeTestFile(t, "2024-03-10-archive.tar.gpg", data)

	var progress []int
	res, err := g.Upload(context.Background(), path, backup.UploadDescriptor{
		Bucket:      "family-pictures",
		Key:         "2024-03-10-archive.tar.gpg",
		StorageTier: "DEEP_ARCHIVE",
		Metadata:    map[string]string{backup.MetadataContentHash: "abc123"},
	}, func(p int) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if res.ETag != `"9b2cf535f27731c974343645a3985328"` {
		t.Errorf("ETag = %q", res.ETag)
	}
	if res.VersionID != "v1" {
		t.Errorf("VersionID = %q, want %q", res.VersionID, "v1")
	}
	if res.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", res.Size, len(data))
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.puts) != 1 {
		t.Fatalf("PUT requests = %d, want 1", len(fake.puts))
	}
	req := fake.puts[0]
	if req.URL.Path != "/family-pictures/2024-03-10-archive.tar.gpg" {
		t.Errorf("path = %q", req.URL.Path)
	}
	if got := req.Header.Get("X-Amz-Storage-Class"); got != "DEEP_ARCHIVE" {
		t.Errorf("storage class header = %q, want %q", got, "DEEP_ARCHIVE")
	}
	if got := req.Header.Get("X-Amz-Meta-Content-Sha256"); got != "abc123" {
		t.Errorf("metadata header = %q, want %q", got, "abc123")
	}
	if string(fake.bodies[0]) != string(data) {
		t.Errorf("uploaded body = %d bytes, want %d", len(fake.bodies[0]), len(data))
	}

	if len(progress) == 0 {
		t.Error("no upload progress reported")
	}
}

func TestS3Gateway_UploadDefaultsStorageTier(t *testing.T) {
	t.Parallel()

	g, fake := newTestS3Gateway(t, "b")
	path := writeTestFile(t, "x.gpg", []byte("data"))

	if _, err := g.Upload(context.Background(), path, backup.UploadDescriptor{Bucket: "b", Key: "x.gpg"}, nil); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if got := fake.puts[0].Header.Get("X-Amz-Storage-Class"); got != backup.DefaultStorageTier {
		t.Errorf("storage class header = %q, want %q", got, backup.DefaultStorageTier)
	}
}

func TestS3Gateway_UploadRejected(t *testing.T) {
	t.Parallel()

	g, _ := newTestS3Gateway(t, "family-pictures")
	path := writeTestFile(t, "x.gpg", []byte("data"))

	_, err := g.Upload(context.Background(), path, backup.UploadDescriptor{Bucket: "someone-elses", Key: "x.gpg"}, nil)
	var uploadErr *backup.UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("Upload() error = %v, want *backup.UploadError", err)
	}
	if uploadErr.Key != "x.gpg" || uploadErr.Bucket != "someone-elses" {
		t.Errorf("UploadError = %+v", uploadErr)
	}
}

func TestS3Gateway_UploadMissingFile(t *testing.T) {
	t.Parallel()

	g, fake := newTestS3Gateway(t, "b")
	_, err := g.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.gpg"), backup.UploadDescriptor{Bucket: "b", Key: "gone.gpg"}, nil)

	var uploadErr *backup.UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("Upload() error = %v, want *backup.UploadError", err)
	}
	if len(fake.puts) != 0 {
		t.Errorf("PUT requests = %d, want 0", len(fake.puts))
	}
}

func TestS3Gateway_ValidateSetup(t *testing.T) {
	t.Parallel()

	g, _ := newTestS3Gateway(t, "family-pictures")

	if err := g.ValidateSetup(context.Background(), "family-pictures"); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
	if err := g.ValidateSetup(context.Background(), "missing"); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}

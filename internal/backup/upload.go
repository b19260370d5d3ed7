package backup

import (
	"context"
	"sync"
)

const (
	// MetadataContentHash is the object metadata key holding the SHA-256 of
	// the uploaded (encrypted) file.
	MetadataContentHash = "content-sha256"

	// DefaultStorageTier is the coldest S3 storage class.
	DefaultStorageTier = "DEEP_ARCHIVE"

	// ProgressStep is the minimum gap, in percentage points, between two
	// reported progress values.
	ProgressStep = 10
)

// UploadDescriptor names where and how an archive is stored.
type UploadDescriptor struct {
	Bucket      string
	Key         string
	StorageTier string
	Metadata    map[string]string
}

// UploadResult is the store's acknowledgment of a completed upload.
type UploadResult struct {
	Location  string
	ETag      string
	VersionID string
	Size      int64
}

// Uploader stores a local file as a single object. On success the whole
// object and its metadata are visible at dest.Key; on failure an error is
// returned and nothing is visible. onProgress receives percentages that
// only go up, at least ProgressStep apart.
type Uploader interface {
	Upload(ctx context.Context, localPath string, dest UploadDescriptor, onProgress func(percent int)) (*UploadResult, error)
}

// ProgressFilter throttles raw progress percentages. A value is forwarded
// only when it is at least step points above the last forwarded value, so
// the forwarded sequence is strictly increasing with gaps of at least step.
// It is safe for concurrent use.
type ProgressFilter struct {
	mu           sync.Mutex
	step         int
	lastReported int
	report       func(percent int)
}

// NewProgressFilter creates a filter that forwards to report. A nil report
// is allowed and drops everything.
func NewProgressFilter(step int, report func(percent int)) *ProgressFilter {
	if step <= 0 {
		step = ProgressStep
	}
	return &ProgressFilter{step: step, report: report}
}

// Observe feeds one raw percentage through the filter.
func (f *ProgressFilter) Observe(percent int) {
	percent = min(max(percent, 0), 100)

	// report runs under the lock so concurrent observers cannot deliver
	// values out of order.
	f.mu.Lock()
	defer f.mu.Unlock()
	if percent < f.lastReported+f.step {
		return
	}
	f.lastReported = percent
	if f.report != nil {
		f.report(percent)
	}
}

// LastReported returns the most recent forwarded percentage, or 0.
func (f *ProgressFilter) LastReported() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReported
}

// Percent converts a byte count into a whole percentage of total.
// An empty total counts as complete.
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}

package storage

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// progressReader counts bytes as they are read and feeds the running
// percentage through a backup.ProgressFilter. It deliberately exposes only
// Read so upload managers consume it sequentially.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	total  int64
	read   atomic.Int64
	filter *backup.ProgressFilter
}

func newProgressReader(ctx context.Context, r io.Reader, total int64, filter *backup.ProgressFilter) *progressReader {
	return &progressReader{ctx: ctx, r: r, total: total, filter: filter}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		done := p.read.Add(int64(n))
		p.filter.Observe(backup.Percent(done, p.total))
	}
	return n, err
}

// BytesRead returns how much of the source has been consumed.
func (p *progressReader) BytesRead() int64 {
	return p.read.Load()
}

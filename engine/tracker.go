package engine

import (
	"context"
	"io"
	"sync"
	"time"
)

// MinProgressInterval is the tightest cadence at which progress is published.
const MinProgressInterval = 100 * time.Millisecond

// ProgressConfig defines how often a running transfer publishes progress.
type ProgressConfig struct {
	// Interval is the sampling cadence; speed is measured over this window.
	Interval time.Duration
}

// DefaultProgressConfig provides a cadence suitable for a live progress bar.
var DefaultProgressConfig = ProgressConfig{
	Interval: 250 * time.Millisecond,
}

func (c ProgressConfig) interval() time.Duration {
	if c.Interval < MinProgressInterval {
		return MinProgressInterval
	}
	return c.Interval
}

// SampleFunc receives a progress sample. Speed is bytes per second over the
// trailing window since the previous sample.
type SampleFunc func(p Progress)

// TrackedReader wraps an io.Reader, counts the bytes read and publishes a
// sample whenever the configured interval has elapsed. Every Read checks the
// context first, so a cancelled transfer stops at the next chunk boundary.
type TrackedReader struct {
	r      io.Reader
	ctx    context.Context
	total  int64
	config ProgressConfig
	sample SampleFunc
	now    func() time.Time

	mu         sync.Mutex
	bytesRead  int64
	lastBytes  int64
	lastSample time.Time
}

// NewTrackedReader creates a TrackedReader for a transfer of total bytes.
func NewTrackedReader(ctx context.Context, r io.Reader, total int64, config ProgressConfig, sample SampleFunc) *TrackedReader {
	return newTrackedReader(ctx, r, total, config, sample, time.Now)
}

func newTrackedReader(ctx context.Context, r io.Reader, total int64, config ProgressConfig, sample SampleFunc, now func() time.Time) *TrackedReader {
	return &TrackedReader{
		r:          r,
		ctx:        ctx,
		total:      total,
		config:     config,
		sample:     sample,
		now:        now,
		lastSample: now(),
	}
}

// Read implements io.Reader.
func (tr *TrackedReader) Read(p []byte) (int, error) {
	if err := tr.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := tr.r.Read(p)
	if n > 0 {
		tr.mu.Lock()
		tr.bytesRead += int64(n)
		now := tr.now()
		elapsed := now.Sub(tr.lastSample)
		var (
			due   bool
			speed int64
		)
		if elapsed >= tr.config.interval() {
			due = true
			speed = int64(float64(tr.bytesRead-tr.lastBytes) / elapsed.Seconds())
			tr.lastBytes = tr.bytesRead
			tr.lastSample = now
		}
		current := tr.bytesRead
		tr.mu.Unlock()

		if due && tr.sample != nil {
			tr.sample(NewProgress(current, tr.total, speed))
		}
	}
	return n, err
}

// BytesRead returns the total number of bytes read so far.
func (tr *TrackedReader) BytesRead() int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.bytesRead
}

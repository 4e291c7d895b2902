package provider

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ensure interface is implemented
var _ Source = (*SourceRouter)(nil)

// SourceRouter dispatches references to the local filesystem or S3.
type SourceRouter struct {
	Local Source
	S3    Source
}

// Open opens ref with the matching source.
func (r *SourceRouter) Open(ctx context.Context, ref string) (io.ReadCloser, FileInfo, error) {
	if IsS3Ref(ref) {
		if r.S3 == nil {
			return nil, nil, fmt.Errorf("s3 source not configured for %q", ref)
		}
		return r.S3.Open(ctx, ref)
	}
	if r.Local == nil {
		return nil, nil, fmt.Errorf("local source not configured for %q", ref)
	}
	return r.Local.Open(ctx, ref)
}

// LazySource builds its source on first use, so a missing cloud
// configuration only matters when a reference actually needs it.
type LazySource struct {
	New func(ctx context.Context) (Source, error)

	once sync.Once
	src  Source
	err  error
}

// Open builds the source if needed and opens ref with it.
func (l *LazySource) Open(ctx context.Context, ref string) (io.ReadCloser, FileInfo, error) {
	l.once.Do(func() {
		l.src, l.err = l.New(ctx)
	})
	if l.err != nil {
		return nil, nil, l.err
	}
	return l.src.Open(ctx, ref)
}

package engine

import (
	"sync"
)

// DefaultBufferSize is the chunk size used when streaming a source to the
// device. Cancellation and progress are evaluated once per chunk, so it is
// kept small for the slow hotspot link.
const DefaultBufferSize = 32 * 1024

// BufferPool manages reusable byte buffers so back-to-back uploads do not
// allocate a fresh chunk buffer each time.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new BufferPool that allocates buffers of the specified size.
// If size is <= 0, DefaultBufferSize is used.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get retrieves a reusable byte buffer from the pool.
// The caller should defer calling Put on this buffer once finished.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns the byte buffer to the pool so it can be reused.
// The caller should not hold onto or read/write to the buffer after calling Put.
func (bp *BufferPool) Put(b *[]byte) {
	if b != nil && len(*b) == bp.size {
		bp.pool.Put(b)
	}
}

package mediabox

import (
	"fmt"
	"sync/atomic"
)

// PixelBuffer is one pooled frame-sized pixel buffer. Release returns it to
// its pool; using a buffer after Release is a bug.
type PixelBuffer struct {
	Data []byte

	desc FormatDescriptor
	pool *PixelBufferPool
}

// Descriptor returns the buffer's pixel layout.
func (b *PixelBuffer) Descriptor() FormatDescriptor { return b.desc }

// Release recycles the buffer into its pool. The pool retains at most its
// configured count; excess buffers are left to the garbage collector.
func (b *PixelBuffer) Release() {
	b.pool.release(b)
}

// PixelBufferPool amortizes per-frame allocation on the hot path. It is sized
// from a reference format and safe for concurrent Acquire across one writer's
// internal use; it is not meant to be shared between independent writers.
type PixelBufferPool struct {
	desc FormatDescriptor
	free chan *PixelBuffer

	allocated atomic.Uint64
	reused    atomic.Uint64
}

// DefaultRetainedBufferCount is the retained-buffer hint used when none is
// given, matching the capture pipeline's steady-state depth.
const DefaultRetainedBufferCount = 3

// NewPixelBufferPool creates a pool for the given reference format,
// pre-allocating up to retainedCountHint buffers so the first frames do not
// stall on allocation.
//
// The reference format must use the capture pixel layout (BGRA32); anything
// else is a programmer error and fails with ErrFormatMismatch.
func NewPixelBufferPool(ref FormatDescriptor, retainedCountHint int) (*PixelBufferPool, error) {
	if ref.Format != PixelFormatBGRA32 {
		return nil, fmt.Errorf("%w: reference format %v, capture requires %v",
			ErrFormatMismatch, ref.Format, PixelFormatBGRA32)
	}
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: invalid reference dimensions %dx%d",
			ErrFormatMismatch, ref.Width, ref.Height)
	}
	if retainedCountHint <= 0 {
		retainedCountHint = DefaultRetainedBufferCount
	}

	p := &PixelBufferPool{
		desc: ref,
		free: make(chan *PixelBuffer, retainedCountHint),
	}
	for i := 0; i < retainedCountHint; i++ {
		p.free <- p.alloc()
	}
	return p, nil
}

// Acquire yields a buffer, recycled when available, freshly allocated
// otherwise. Never blocks.
func (p *PixelBufferPool) Acquire() *PixelBuffer {
	select {
	case buf := <-p.free:
		p.reused.Add(1)
		return buf
	default:
		return p.alloc()
	}
}

// Retained returns how many buffers are currently parked in the pool.
func (p *PixelBufferPool) Retained() int { return len(p.free) }

// Allocations returns how many buffers were newly allocated and how many
// acquisitions were served from the pool.
func (p *PixelBufferPool) Allocations() (allocated, reused uint64) {
	return p.allocated.Load(), p.reused.Load()
}

func (p *PixelBufferPool) alloc() *PixelBuffer {
	p.allocated.Add(1)
	return &PixelBuffer{
		Data: make([]byte, p.desc.FrameSize()),
		desc: p.desc,
		pool: p,
	}
}

func (p *PixelBufferPool) release(buf *PixelBuffer) {
	select {
	case p.free <- buf:
	default:
		// Pool full; drop the buffer.
	}
}

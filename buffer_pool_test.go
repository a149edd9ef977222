package mediabox

import (
	"errors"
	"testing"
)

func TestPixelBufferPoolRejectsWrongFormat(t *testing.T) {
	_, err := NewPixelBufferPool(FormatDescriptor{Width: 8, Height: 8, Format: PixelFormatRGB24}, 0)
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("err = %v, want ErrFormatMismatch", err)
	}
}

func TestPixelBufferPoolRejectsInvalidDimensions(t *testing.T) {
	for _, desc := range []FormatDescriptor{
		{Width: 0, Height: 8, Format: PixelFormatBGRA32},
		{Width: 8, Height: -1, Format: PixelFormatBGRA32},
	} {
		if _, err := NewPixelBufferPool(desc, 0); !errors.Is(err, ErrFormatMismatch) {
			t.Fatalf("desc %+v: err = %v, want ErrFormatMismatch", desc, err)
		}
	}
}

func TestPixelBufferPoolPreAllocates(t *testing.T) {
	desc := FormatDescriptor{Width: 16, Height: 16, Format: PixelFormatBGRA32}
	pool, err := NewPixelBufferPool(desc, 3)
	if err != nil {
		t.Fatal(err)
	}
	if pool.Retained() != 3 {
		t.Fatalf("retained %d, want 3 pre-allocated", pool.Retained())
	}
	allocated, _ := pool.Allocations()
	if allocated != 3 {
		t.Fatalf("allocated %d, want 3", allocated)
	}

	buf := pool.Acquire()
	if len(buf.Data) != desc.FrameSize() {
		t.Fatalf("buffer size %d, want %d", len(buf.Data), desc.FrameSize())
	}
	if buf.Descriptor() != desc {
		t.Fatalf("descriptor %+v, want %+v", buf.Descriptor(), desc)
	}
}

func TestPixelBufferPoolRecycles(t *testing.T) {
	desc := FormatDescriptor{Width: 8, Height: 8, Format: PixelFormatBGRA32}
	pool, err := NewPixelBufferPool(desc, 1)
	if err != nil {
		t.Fatal(err)
	}

	buf := pool.Acquire() // the pre-allocated one
	buf.Release()
	again := pool.Acquire()
	if again != buf {
		t.Fatal("released buffer not recycled")
	}

	allocated, reused := pool.Allocations()
	if allocated != 1 {
		t.Fatalf("allocated %d, want 1", allocated)
	}
	if reused != 2 {
		t.Fatalf("reused %d, want 2", reused)
	}
}

func TestPixelBufferPoolNeverBlocksAndCapsRetention(t *testing.T) {
	desc := FormatDescriptor{Width: 8, Height: 8, Format: PixelFormatBGRA32}
	pool, err := NewPixelBufferPool(desc, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Drain past the pre-allocated count; Acquire must allocate, not block.
	bufs := make([]*PixelBuffer, 5)
	for i := range bufs {
		bufs[i] = pool.Acquire()
	}
	if pool.Retained() != 0 {
		t.Fatalf("retained %d, want 0 after draining", pool.Retained())
	}

	// Releasing all five keeps only the configured two.
	for _, b := range bufs {
		b.Release()
	}
	if pool.Retained() != 2 {
		t.Fatalf("retained %d, want cap of 2", pool.Retained())
	}
}

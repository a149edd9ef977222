package mediabox

import (
	"errors"
	"sync"
	"testing"
)

func TestFFmpegSinkRequiresOutputPath(t *testing.T) {
	if _, err := NewFFmpegSink(FFmpegSinkConfig{}); err == nil {
		t.Fatal("expected error for empty output path")
	}
}

func TestFFmpegSinkRejectsNonBGRAFormat(t *testing.T) {
	sink, err := NewFFmpegSink(FFmpegSinkConfig{OutputPath: "out.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	// Format validation happens before the encoder process launches.
	err = sink.Start(FormatDescriptor{Width: 64, Height: 64, Format: PixelFormatRGB24})
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("err = %v, want ErrFormatMismatch", err)
	}
}

func TestFFmpegSinkWriteBeforeStart(t *testing.T) {
	sink, err := NewFFmpegSink(FFmpegSinkConfig{OutputPath: "out.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	buf := &PixelBuffer{Data: make([]byte, 16)}
	if err := sink.WriteFrame(buf, 0); !errors.Is(err, ErrResourceNotReady) {
		t.Fatalf("err = %v, want ErrResourceNotReady", err)
	}
	// Finish before Start is a no-op.
	if err := sink.Finish(); err != nil {
		t.Fatal(err)
	}
}

func TestLockedBufferConcurrentAccess(t *testing.T) {
	var buf lockedBuffer
	var wg sync.WaitGroup

	// The stderr copier writes while error paths read; both must be safe
	// under the race detector.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.Write([]byte("encoder output line\n"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			_ = buf.String()
		}
	}()
	wg.Wait()

	if len(buf.String()) != 4*100*len("encoder output line\n") {
		t.Fatalf("lost writes: got %d bytes", len(buf.String()))
	}
}

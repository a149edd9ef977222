package mediabox

import (
	"fmt"
	"sync"
)

// MemorySinkFrame is one frame captured by a MemorySink.
type MemorySinkFrame struct {
	Data  []byte
	PtsNs int64
}

// MemorySink is a ContainerSink that records appended frames in memory.
// It enforces the same monotonic-timestamp contract as a real container and
// stands in for an encoder process in tests.
type MemorySink struct {
	mu       sync.Mutex
	desc     FormatDescriptor
	frames   []MemorySinkFrame
	started  bool
	finished bool
	lastNs   int64
}

// Start opens the sink for the given format.
func (s *MemorySink) Start(desc FormatDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.desc = desc
	s.started = true
	s.lastNs = -1
	return nil
}

// WriteFrame copies the frame; timestamps must be non-decreasing.
func (s *MemorySink) WriteFrame(buf *PixelBuffer, ptsNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.finished {
		return ErrResourceNotReady
	}
	if s.lastNs >= 0 && ptsNs < s.lastNs {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonicTimestamp, ptsNs, s.lastNs)
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	s.frames = append(s.frames, MemorySinkFrame{Data: data, PtsNs: ptsNs})
	s.lastNs = ptsNs
	return nil
}

// Finish seals the sink.
func (s *MemorySink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

// Frames returns the captured frames in append order.
func (s *MemorySink) Frames() []MemorySinkFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MemorySinkFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Finished reports whether Finish was called.
func (s *MemorySink) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Format returns the descriptor the sink was started with.
func (s *MemorySink) Format() FormatDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

package mediabox

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegSinkConfig configures an FFmpegSink.
type FFmpegSinkConfig struct {
	// OutputPath is the destination container file (required). The container
	// format follows the extension; .mp4 is the expected case.
	OutputPath string

	// FrameRate is the constant output frame rate (default: 30). ffmpeg
	// re-times the stream at this rate; the writer's monotonic timestamps
	// gate which frames reach the sink.
	FrameRate int

	// CRF controls x264 quality (default: 23).
	CRF int

	// BinaryPath overrides the ffmpeg executable (default: "ffmpeg").
	BinaryPath string
}

// FFmpegSink pipes raw BGRA frames into an ffmpeg child process that encodes
// H.264 and muxes the container file. It implements ContainerSink.
type FFmpegSink struct {
	cfg FFmpegSinkConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr lockedBuffer
	lastNs int64
	opened bool
}

// lockedBuffer synchronizes exec's stderr copier goroutine against tail()
// reads on the WriteFrame error path.
type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// NewFFmpegSink creates a sink writing to the given path.
func NewFFmpegSink(cfg FFmpegSinkConfig) (*FFmpegSink, error) {
	if cfg.OutputPath == "" {
		return nil, fmt.Errorf("mediabox: ffmpeg sink requires an output path")
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 23
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ffmpeg"
	}
	return &FFmpegSink{cfg: cfg}, nil
}

// Start launches the ffmpeg process for the given frame format.
func (s *FFmpegSink) Start(desc FormatDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return nil
	}
	if desc.Format != PixelFormatBGRA32 {
		return fmt.Errorf("%w: ffmpeg sink expects BGRA32, got %v", ErrFormatMismatch, desc.Format)
	}

	cmd := exec.Command(s.cfg.BinaryPath,
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-video_size", fmt.Sprintf("%dx%d", desc.Width, desc.Height),
		"-framerate", strconv.Itoa(s.cfg.FrameRate),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", strconv.Itoa(s.cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-y",
		s.cfg.OutputPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mediabox: ffmpeg stdin pipe: %w", err)
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mediabox: starting ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.lastNs = -1
	s.opened = true
	return nil
}

// WriteFrame pipes one raw frame to the encoder. Timestamps must be
// non-decreasing; violations are rejected, not reordered.
func (s *FFmpegSink) WriteFrame(buf *PixelBuffer, ptsNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrResourceNotReady
	}
	if s.lastNs >= 0 && ptsNs < s.lastNs {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonicTimestamp, ptsNs, s.lastNs)
	}

	if _, err := s.stdin.Write(buf.Data); err != nil {
		return fmt.Errorf("mediabox: writing frame to ffmpeg: %w (stderr: %s)", err, s.tail())
	}
	s.lastNs = ptsNs
	return nil
}

// Finish closes the encoder input and waits for the container to finalize.
// A sink that never received a frame still produces a valid (empty) file
// when ffmpeg supports it, or reports ffmpeg's error.
func (s *FFmpegSink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false

	if err := s.stdin.Close(); err != nil {
		return fmt.Errorf("mediabox: closing ffmpeg input: %w", err)
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("mediabox: ffmpeg exited with error: %w (stderr: %s)", err, s.tail())
	}
	return nil
}

// tail returns the last chunk of ffmpeg's stderr for error context.
func (s *FFmpegSink) tail() string {
	out := s.stderr.String()
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	return strings.TrimSpace(out)
}

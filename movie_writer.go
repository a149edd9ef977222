package mediabox

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// ContainerSink finalizes frames into a container file. Implementations own
// the actual encoding and muxing; MovieWriter owns timestamps and lifecycle.
// WriteFrame is called from a single goroutine, in append order.
type ContainerSink interface {
	// Start opens the output for the given frame format.
	Start(desc FormatDescriptor) error

	// WriteFrame appends one frame at the given presentation time, expressed
	// in nanoseconds relative to the writer's session start. A sink must
	// reject, not reorder, a timestamp earlier than the last accepted one.
	WriteFrame(buf *PixelBuffer, ptsNs int64) error

	// Finish finalizes and closes the output. Called exactly once.
	Finish() error
}

// MovieWriterConfig configures a MovieWriter.
type MovieWriterConfig struct {
	Sink   ContainerSink    // Output container (required)
	Format FormatDescriptor // Frame format, validated against the pool (required)

	RetainedBufferHint int // Buffer pool pre-allocation (default: DefaultRetainedBufferCount)

	Logger  zerolog.Logger
	OnError func(error) // Invoked for append errors on the delivery path
}

// MovieWriterStats counts frames through one recording session.
type MovieWriterStats struct {
	FramesAppended uint64
	FramesRejected uint64
}

// MovieWriter adapts an irregular frame stream into a container file with
// monotonically non-decreasing presentation timestamps. The first appended
// buffer's timestamp becomes the session start; later timestamps are written
// relative to it. One writer serves exactly one recording session: create on
// begin-recording, Finish on end-recording.
type MovieWriter struct {
	id   string
	sink ContainerSink
	desc FormatDescriptor
	pool *PixelBufferPool
	log  zerolog.Logger

	onError func(error)

	mu        sync.Mutex
	started   bool
	haveStart bool
	startNs   int64
	lastNs    int64

	finishOnce sync.Once
	finishErr  error
	finished   atomic.Bool

	appended atomic.Uint64
	rejected atomic.Uint64

	subMu sync.Mutex
	sub   *Subscription
	subWG sync.WaitGroup
}

// NewMovieWriter creates a writer and its backing buffer pool.
func NewMovieWriter(cfg MovieWriterConfig) (*MovieWriter, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("mediabox: movie writer requires a sink")
	}
	pool, err := NewPixelBufferPool(cfg.Format, cfg.RetainedBufferHint)
	if err != nil {
		return nil, err
	}
	return &MovieWriter{
		id:      xid.New().String(),
		sink:    cfg.Sink,
		desc:    cfg.Format,
		pool:    pool,
		log:     cfg.Logger,
		onError: cfg.OnError,
	}, nil
}

// ID returns the recording session identifier.
func (w *MovieWriter) ID() string { return w.id }

// Start opens the output for writing.
func (w *MovieWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.sink.Start(w.desc); err != nil {
		return err
	}
	w.started = true
	w.log.Debug().Str("session", w.id).Msg("movie writer started")
	return nil
}

// Add appends a buffer at its presentation timestamp. The very first call
// fixes the session start time. A timestamp earlier than the last written
// one is surfaced as ErrNonMonotonicTimestamp and the frame is not written.
// The buffer is released back to the pool in every case.
func (w *MovieWriter) Add(buf *PixelBuffer, timestampNs int64) error {
	defer buf.Release()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished.Load() {
		w.rejected.Add(1)
		return ErrWriterFinished
	}
	if !w.started {
		w.rejected.Add(1)
		return ErrResourceNotReady
	}

	if !w.haveStart {
		w.haveStart = true
		w.startNs = timestampNs
		w.lastNs = timestampNs
		w.log.Debug().Str("session", w.id).Int64("startNs", timestampNs).Msg("write session opened")
	}

	if timestampNs < w.lastNs {
		w.rejected.Add(1)
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonicTimestamp, timestampNs, w.lastNs)
	}

	if err := w.sink.WriteFrame(buf, timestampNs-w.startNs); err != nil {
		w.rejected.Add(1)
		return err
	}
	w.lastNs = timestampNs
	w.appended.Add(1)
	return nil
}

// Finish marks the input complete and finalizes the container, exactly once.
// Safe to call before any buffer was appended; the result is an empty but
// valid file. Subsequent calls are no-ops returning the first result.
func (w *MovieWriter) Finish() error {
	w.finishOnce.Do(func() {
		w.finished.Store(true)
		w.subMu.Lock()
		if w.sub != nil {
			w.sub.Cancel()
		}
		w.subMu.Unlock()
		w.subWG.Wait()
		w.finishErr = w.sink.Finish()
		w.log.Debug().
			Str("session", w.id).
			Uint64("appended", w.appended.Load()).
			Uint64("rejected", w.rejected.Load()).
			Msg("movie writer finished")
	})
	return w.finishErr
}

// Stats returns append counters for this session.
func (w *MovieWriter) Stats() MovieWriterStats {
	return MovieWriterStats{
		FramesAppended: w.appended.Load(),
		FramesRejected: w.rejected.Load(),
	}
}

// AttachTo subscribes the writer to a distributor in on-demand mode: it asks
// for at most one frame in flight and requests the next only after the
// current append completes, throttling the distributor-to-writer path without
// touching the distributor's other subscribers.
//
// The subscription ends when the writer finishes or the distributor closes.
func (w *MovieWriter) AttachTo(d *FrameDistributor) error {
	sub, err := d.Subscribe(SubscribeOptions{Mode: DeliverOnDemand})
	if err != nil {
		return err
	}
	w.subMu.Lock()
	w.sub = sub
	w.subMu.Unlock()

	w.subWG.Add(1)
	go func() {
		defer w.subWG.Done()
		defer sub.Cancel()

		sub.Request(1)
		for tex := range sub.Frames() {
			if w.finished.Load() {
				return
			}
			if err := w.render(tex); err != nil {
				w.reportError(err)
			}
			sub.Request(1)
		}
	}()
	return nil
}

// render copies one delivered texture into a pooled buffer and appends it.
func (w *MovieWriter) render(tex FrameTexture) error {
	if tex.Descriptor() != w.desc {
		return fmt.Errorf("%w: frame %v, writer %v", ErrFormatMismatch, tex.Descriptor(), w.desc)
	}
	buf := w.pool.Acquire()
	copy(buf.Data, tex.Data)
	return w.Add(buf, tex.Timestamp)
}

func (w *MovieWriter) reportError(err error) {
	w.log.Warn().Err(err).Str("session", w.id).Msg("frame append failed")
	if w.onError != nil {
		w.onError(err)
	}
}

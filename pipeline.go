package mediabox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// CapturePipelineConfig configures a CapturePipeline.
type CapturePipelineConfig struct {
	Session    CaptureSession  // Capture backend (required)
	Devices    []CaptureDevice // Candidate input devices (required)
	Authorizer Authorizer      // Pre-computed authorization state (required)

	Position DevicePosition // Initial camera position (default: front)
	Ratio    CameraRatio    // Initial aspect ratio (default: 3:4)
	Filter   Filter         // Initial filter (default: IdentityFilter)

	PhotoQuality int // JPEG quality for stills (default: 92)

	Logger zerolog.Logger
}

// ErrAlreadyRecording is returned when StartRecording is called while a
// movie writer is active.
var ErrAlreadyRecording = fmt.Errorf("mediabox: recording already in progress")

// CapturePipeline assembles the full capture stack: a SessionController
// driving the backend, a FrameDistributor fanning filtered frames out, a
// PhotoCapturer for stills, and an optional MovieWriter per recording. It is
// the single Dispatch target for control commands.
type CapturePipeline struct {
	render     *RenderContext
	controller *SessionController
	dist       *FrameDistributor
	photos     *PhotoCapturer
	log        zerolog.Logger

	lastDesc atomic.Pointer[FormatDescriptor]

	recordMu sync.Mutex
	writer   *MovieWriter
}

// NewCapturePipeline builds and wires the pipeline. The session is not
// started; dispatch CommandStart (after PrepareResources) to begin capture.
func NewCapturePipeline(cfg CapturePipelineConfig) (*CapturePipeline, error) {
	render, err := NewRenderContext(PixelFormatBGRA32)
	if err != nil {
		return nil, err
	}

	dist := NewFrameDistributor(FrameDistributorConfig{
		Context: render,
		Filter:  cfg.Filter,
		Logger:  cfg.Logger,
	})

	controller, err := NewSessionController(SessionControllerConfig{
		Session:    cfg.Session,
		Devices:    cfg.Devices,
		Authorizer: cfg.Authorizer,
		Position:   cfg.Position,
		Ratio:      cfg.Ratio,
		Logger:     cfg.Logger,
	})
	if err != nil {
		dist.Close()
		return nil, err
	}

	photos, err := NewPhotoCapturer(PhotoCapturerConfig{
		Distributor: dist,
		Quality:     cfg.PhotoQuality,
		Logger:      cfg.Logger,
	})
	if err != nil {
		controller.Close()
		dist.Close()
		return nil, err
	}

	p := &CapturePipeline{
		render:     render,
		controller: controller,
		dist:       dist,
		photos:     photos,
		log:        cfg.Logger,
	}
	controller.SetFrameDelegate(p.onRawFrame)
	return p, nil
}

// onRawFrame records the live frame format and hands the frame to the
// distributor. Runs on the controller's frame loop.
func (p *CapturePipeline) onRawFrame(frame RawFrame) {
	p.lastDesc.Store(&frame.Desc)
	p.dist.OnRawFrame(frame)
}

// Controller returns the session controller.
func (p *CapturePipeline) Controller() *SessionController { return p.controller }

// Distributor returns the frame distributor.
func (p *CapturePipeline) Distributor() *FrameDistributor { return p.dist }

// RenderContext returns the pipeline's render resource handle.
func (p *CapturePipeline) RenderContext() *RenderContext { return p.render }

// PrepareResources runs the controller's configuration transaction.
func (p *CapturePipeline) PrepareResources() <-chan PrepareOutcome {
	return p.controller.PrepareResources()
}

// Subscribe registers a frame consumer on the distributor.
func (p *CapturePipeline) Subscribe(opts SubscribeOptions) (*Subscription, error) {
	return p.dist.Subscribe(opts)
}

// Dispatch routes one control command to the owning component. Session
// commands are fire-and-forget like the controller itself; recording
// commands report their errors directly.
func (p *CapturePipeline) Dispatch(cmd Command) error {
	p.log.Debug().Str("command", cmd.Kind.String()).Msg("dispatch")
	switch cmd.Kind {
	case CommandStart:
		p.controller.Start()
	case CommandStop:
		p.controller.Stop()
	case CommandChangeRatio:
		p.controller.ChangeRatio(cmd.Ratio)
	case CommandChangePosition:
		p.controller.ChangePosition()
	case CommandChangeFilter:
		p.dist.ChangeFilter(cmd.Filter)
	case CommandFocus:
		p.controller.Focus(cmd.Focus)
	case CommandStartRecording:
		return p.StartRecording(cmd.Sink)
	case CommandStopRecording:
		return p.StopRecording()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCommand, cmd.Kind)
	}
	return nil
}

// CapturePhoto grabs the next distributed frame as a JPEG still.
func (p *CapturePipeline) CapturePhoto(ctx context.Context) (*Photo, error) {
	return p.photos.Capture(ctx)
}

// StartRecording opens a movie writer over the given sink and attaches it to
// the frame stream. The frame format is taken from the live stream, so at
// least one frame must have been captured.
func (p *CapturePipeline) StartRecording(sink ContainerSink) error {
	desc := p.lastDesc.Load()
	if desc == nil {
		return fmt.Errorf("mediabox: no frames captured yet: %w", ErrResourceNotReady)
	}

	p.recordMu.Lock()
	defer p.recordMu.Unlock()
	if p.writer != nil {
		return ErrAlreadyRecording
	}

	writer, err := NewMovieWriter(MovieWriterConfig{
		Sink:   sink,
		Format: *desc,
		Logger: p.log,
		OnError: func(err error) {
			p.log.Warn().Err(err).Msg("recording append failed")
		},
	})
	if err != nil {
		return err
	}
	if err := writer.Start(); err != nil {
		return err
	}
	if err := writer.AttachTo(p.dist); err != nil {
		_ = writer.Finish()
		return err
	}

	p.writer = writer
	p.log.Info().Str("writer_id", writer.ID()).Msg("recording started")
	return nil
}

// StopRecording finalizes the active movie writer. Calling it with no
// recording in progress is a no-op.
func (p *CapturePipeline) StopRecording() error {
	p.recordMu.Lock()
	writer := p.writer
	p.writer = nil
	p.recordMu.Unlock()
	if writer == nil {
		return nil
	}

	err := writer.Finish()
	stats := writer.Stats()
	p.log.Info().
		Str("writer_id", writer.ID()).
		Uint64("frames", stats.FramesAppended).
		Err(err).
		Msg("recording stopped")
	return err
}

// Recording reports whether a movie writer is active.
func (p *CapturePipeline) Recording() bool {
	p.recordMu.Lock()
	defer p.recordMu.Unlock()
	return p.writer != nil
}

// Close stops any recording, tears down the controller, and closes the
// distributor.
func (p *CapturePipeline) Close() error {
	err := p.StopRecording()
	p.controller.Close()
	p.dist.Close()
	return err
}

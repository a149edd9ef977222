package mediabox

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// SessionSnapshot is the published, read-only view of the session state.
// It is replaced wholesale on every change; readers never observe a partially
// applied configuration.
type SessionSnapshot struct {
	Ratio    CameraRatio
	Position DevicePosition
	Running  bool
}

// AttachResult records the outcome of one attachment step inside a
// configuration transaction.
type AttachResult struct {
	Role MediaRole
	Err  error
}

// PrepareOutcome aggregates the results of a PrepareResources transaction.
// Err is set for fatal failures (authorization denied, no matching device);
// Attachments carries per-endpoint results so the caller can decide whether
// partial attachment is acceptable.
type PrepareOutcome struct {
	Attachments []AttachResult
	Err         error
}

// Ok reports whether every step of the transaction succeeded.
func (o PrepareOutcome) Ok() bool {
	if o.Err != nil {
		return false
	}
	for _, a := range o.Attachments {
		if a.Err != nil {
			return false
		}
	}
	return true
}

// Partial reports whether the transaction committed with at least one
// attachment refused.
func (o PrepareOutcome) Partial() bool {
	if o.Err != nil {
		return false
	}
	for _, a := range o.Attachments {
		if a.Err != nil {
			return true
		}
	}
	return false
}

// FocusCommand describes a focus-at-point request.
type FocusCommand struct {
	Focus             FocusMode
	Exposure          ExposureMode
	Point             Point
	MonitorAreaChange bool
}

// SessionControllerConfig configures a SessionController.
type SessionControllerConfig struct {
	Session    CaptureSession  // Capture backend (required)
	Devices    []CaptureDevice // Candidate input devices (required)
	Authorizer Authorizer      // Pre-computed authorization state (required)

	Position DevicePosition // Initial camera position (default: front)
	Ratio    CameraRatio    // Initial aspect ratio (default: 3:4)

	QueueCapacity int            // Command/frame queue capacity (default: DefaultTaskQueueCapacity)
	Logger        zerolog.Logger // Defaults to a disabled logger
}

// SessionController owns the capture session, its inputs and outputs, and a
// private serial command loop. Every mutation is posted to that loop, so
// configuration transactions never interleave. Frame-available events are
// redelivered on a second dedicated loop, off the backend's capture path.
type SessionController struct {
	session CaptureSession
	devices []CaptureDevice
	auth    Authorizer
	log     zerolog.Logger

	commandLoop *TaskLoop
	frameLoop   *TaskLoop

	snapshot atomic.Pointer[SessionSnapshot]

	// Owned by the command loop.
	videoInput  CaptureInput
	audioInput  CaptureInput
	photoOutput CaptureOutput
	frameOutput FrameOutput
	prepared    bool

	frameDelegate atomic.Pointer[func(RawFrame)]
	areaChange    atomic.Pointer[func()]
	onState       atomic.Pointer[func(SessionSnapshot)]

	lastErrMu sync.Mutex
	lastErr   error
}

// NewSessionController creates a controller and starts its command and frame
// loops. Call Close to release them.
func NewSessionController(cfg SessionControllerConfig) (*SessionController, error) {
	if cfg.Session == nil {
		return nil, &DeviceInitError{Role: MediaRoleVideo}
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = StaticAuthorizer{}
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultTaskQueueCapacity
	}

	commandLoop, err := NewTaskLoop(capacity)
	if err != nil {
		return nil, err
	}
	frameLoop, err := NewTaskLoop(capacity)
	if err != nil {
		return nil, err
	}

	c := &SessionController{
		session:     cfg.Session,
		devices:     cfg.Devices,
		auth:        cfg.Authorizer,
		log:         cfg.Logger,
		commandLoop: commandLoop,
		frameLoop:   frameLoop,
	}
	c.snapshot.Store(&SessionSnapshot{Ratio: cfg.Ratio, Position: cfg.Position})

	commandLoop.Start()
	frameLoop.Start()
	return c, nil
}

// Snapshot returns the current published session state.
func (c *SessionController) Snapshot() SessionSnapshot {
	return *c.snapshot.Load()
}

// LastConfigError returns the most recent error swallowed by a fire-and-forget
// mutator, or nil. It is cleared by the next successful mutator.
func (c *SessionController) LastConfigError() error {
	c.lastErrMu.Lock()
	defer c.lastErrMu.Unlock()
	return c.lastErr
}

// OnStateChange registers a callback invoked (on the command loop) whenever
// the published snapshot changes.
func (c *SessionController) OnStateChange(fn func(SessionSnapshot)) {
	if fn == nil {
		c.onState.Store(nil)
		return
	}
	c.onState.Store(&fn)
}

// OnSubjectAreaChange registers a callback invoked when the active video
// device reports a subject-area change.
func (c *SessionController) OnSubjectAreaChange(fn func()) {
	if fn == nil {
		c.areaChange.Store(nil)
		return
	}
	c.areaChange.Store(&fn)
}

// SetFrameDelegate attaches the consumer of frame-available events. Delivery
// happens on the controller's frame loop, never on the backend's capture
// path. Passing nil removes the delegate.
func (c *SessionController) SetFrameDelegate(fn func(RawFrame)) {
	if fn == nil {
		c.frameDelegate.Store(nil)
		return
	}
	c.frameDelegate.Store(&fn)
}

// Start asynchronously starts the session. No-op if already running. A
// session whose resources were never prepared refuses to start and records
// ErrResourceNotReady, observable via LastConfigError.
func (c *SessionController) Start() {
	c.post(func() {
		if !c.prepared {
			c.setLastErr(ErrResourceNotReady)
			return
		}
		if c.session.Running() {
			return
		}
		c.session.Start()
		c.publish(func(s *SessionSnapshot) { s.Running = true })
	})
}

// Stop asynchronously stops the session. No-op if already stopped.
func (c *SessionController) Stop() {
	c.post(func() {
		if !c.session.Running() {
			return
		}
		c.session.Stop()
		c.publish(func(s *SessionSnapshot) { s.Running = false })
	})
}

// PrepareResources runs one atomic configuration transaction on the command
// loop: verify authorization, attach video and audio inputs, attach the photo
// and frame-stream outputs, configure mirroring, and select the preset for
// the current ratio. The returned channel receives exactly one outcome.
func (c *SessionController) PrepareResources() <-chan PrepareOutcome {
	result := make(chan PrepareOutcome, 1)
	c.commandLoop.Put(NewTask(
		func() { result <- c.prepare() },
		func() { result <- PrepareOutcome{Err: ErrResourceNotReady} },
	))
	return result
}

func (c *SessionController) prepare() PrepareOutcome {
	snap := c.Snapshot()
	var out PrepareOutcome

	c.session.BeginConfiguration()
	defer c.session.CommitConfiguration()

	// Video input.
	if !c.auth.CameraAuthorized() {
		out.Err = ErrAccessDenied
		return out
	}
	device, ok := c.deviceAt(snap.Position)
	if !ok {
		out.Err = &DeviceInitError{Role: MediaRoleVideo}
		return out
	}
	out.Attachments = append(out.Attachments, AttachResult{
		Role: MediaRoleVideo,
		Err:  c.attachVideoInput(device),
	})

	// Audio input.
	if !c.auth.MicrophoneAuthorized() {
		out.Err = ErrAccessDenied
		return out
	}
	audioDevice, ok := c.audioDevice()
	if !ok {
		out.Err = &DeviceInitError{Role: MediaRoleAudio}
		return out
	}
	out.Attachments = append(out.Attachments, AttachResult{
		Role: MediaRoleAudio,
		Err:  c.attachAudioInput(audioDevice),
	})

	// Outputs.
	out.Attachments = append(out.Attachments,
		AttachResult{Role: MediaRolePhoto, Err: c.attachPhotoOutput()},
		AttachResult{Role: MediaRoleVideo, Err: c.attachFrameOutput(snap.Position)},
	)

	c.session.SetPreset(PresetForRatio(snap.Ratio))
	c.prepared = true

	c.log.Debug().
		Str("position", snap.Position.String()).
		Str("ratio", snap.Ratio.String()).
		Bool("partial", out.Partial()).
		Msg("session resources prepared")
	return out
}

// ChangeRatio asynchronously switches the aspect ratio. If the backend cannot
// set the corresponding preset the previous ratio is retained and no state
// change is published.
func (c *SessionController) ChangeRatio(ratio CameraRatio) {
	c.post(func() {
		c.session.BeginConfiguration()
		defer c.session.CommitConfiguration()

		preset := PresetForRatio(ratio)
		if !c.session.CanSetPreset(preset) {
			c.log.Debug().Str("ratio", ratio.String()).Msg("preset unsupported, ratio unchanged")
			return
		}
		c.session.SetPreset(preset)
		c.publish(func(s *SessionSnapshot) { s.Ratio = ratio })
	})
}

// ChangePosition asynchronously swaps between the front and back camera.
// If the opposite device cannot be attached, the previous input is restored
// and the error is recorded in LastConfigError.
func (c *SessionController) ChangePosition() {
	c.post(func() {
		snap := c.Snapshot()
		target := snap.Position.Toggle()

		c.session.BeginConfiguration()
		defer c.session.CommitConfiguration()

		prev := c.videoInput
		if prev != nil {
			prev.Device().OnAreaChange(nil)
			c.session.RemoveInput(prev)
			c.videoInput = nil
		}

		device, ok := c.deviceAt(target)
		var attachErr error
		if !ok {
			attachErr = &DeviceInitError{Role: MediaRoleVideo}
		} else {
			attachErr = c.attachVideoInput(device)
		}

		if attachErr != nil {
			// Roll back to the previous input rather than committing a
			// session with no video at all.
			if prev != nil {
				if c.session.CanAddInput(prev) {
					_ = c.session.AddInput(prev)
					c.videoInput = prev
					c.observeAreaChanges(prev.Device())
				}
			}
			c.setLastErr(attachErr)
			c.log.Warn().Err(attachErr).Str("target", target.String()).Msg("camera swap failed, previous input restored")
			return
		}

		c.configureFrameConnection(target)
		c.setLastErr(nil)
		c.publish(func(s *SessionSnapshot) { s.Position = target })
	})
}

// Focus asynchronously applies a focus/exposure point of interest. Each
// capability is checked independently; lock-acquisition failure is logged,
// not propagated.
func (c *SessionController) Focus(cmd FocusCommand) {
	c.post(func() {
		if c.videoInput == nil {
			return
		}
		device := c.videoInput.Device()
		if err := device.LockForConfiguration(); err != nil {
			c.log.Warn().Err(err).Msg("could not lock device for configuration")
			return
		}
		defer device.UnlockForConfiguration()

		if device.SupportsFocusMode(cmd.Focus) {
			device.SetFocusPoint(cmd.Point, cmd.Focus)
		}
		if device.SupportsExposureMode(cmd.Exposure) {
			device.SetExposurePoint(cmd.Point, cmd.Exposure)
		}
		device.SetAreaChangeMonitoring(cmd.MonitorAreaChange)
	})
}

// PhotoOutput returns the attached still-photo output, or nil before
// PrepareResources succeeds. Must only be read after the prepare outcome is
// observed.
func (c *SessionController) PhotoOutput() CaptureOutput {
	return c.photoOutput
}

// Close stops the session and tears down both loops. Tasks still queued are
// dropped. The backend stop itself is waited for, so the session is no longer
// running when Close returns.
func (c *SessionController) Close() {
	done := make(chan struct{})
	c.commandLoop.Put(NewTask(
		func() {
			if c.session.Running() {
				c.session.Stop()
			}
			close(done)
		},
		func() { close(done) },
	))
	<-done

	c.commandLoop.Stop()
	c.frameLoop.Stop()
	c.commandLoop.Wait()
	c.frameLoop.Wait()
}

// post submits a fire-and-forget command to the serial command loop.
func (c *SessionController) post(fn func()) {
	c.commandLoop.Put(NewTask(fn, nil))
}

func (c *SessionController) publish(mutate func(*SessionSnapshot)) {
	next := *c.snapshot.Load()
	mutate(&next)
	c.snapshot.Store(&next)
	if fn := c.onState.Load(); fn != nil {
		(*fn)(next)
	}
}

func (c *SessionController) setLastErr(err error) {
	c.lastErrMu.Lock()
	c.lastErr = err
	c.lastErrMu.Unlock()
}

func (c *SessionController) deviceAt(position DevicePosition) (CaptureDevice, bool) {
	for _, d := range c.devices {
		if d.Role() == MediaRoleVideo && d.Position() == position {
			return d, true
		}
	}
	return nil, false
}

func (c *SessionController) audioDevice() (CaptureDevice, bool) {
	for _, d := range c.devices {
		if d.Role() == MediaRoleAudio {
			return d, true
		}
	}
	return nil, false
}

func (c *SessionController) attachVideoInput(device CaptureDevice) error {
	input, err := c.session.NewInput(device)
	if err != nil {
		return err
	}
	if !c.session.CanAddInput(input) {
		return &InputAttachError{Role: MediaRoleVideo}
	}
	if err := c.session.AddInput(input); err != nil {
		return err
	}
	c.videoInput = input
	c.observeAreaChanges(device)
	return nil
}

func (c *SessionController) attachAudioInput(device CaptureDevice) error {
	input, err := c.session.NewInput(device)
	if err != nil {
		return err
	}
	if !c.session.CanAddInput(input) {
		return &InputAttachError{Role: MediaRoleAudio}
	}
	if err := c.session.AddInput(input); err != nil {
		return err
	}
	c.audioInput = input
	return nil
}

func (c *SessionController) attachPhotoOutput() error {
	output := c.session.NewPhotoOutput()
	if !c.session.CanAddOutput(output) {
		return &InputAttachError{Role: MediaRolePhoto}
	}
	if err := c.session.AddOutput(output); err != nil {
		return err
	}
	c.photoOutput = output
	return nil
}

func (c *SessionController) attachFrameOutput(position DevicePosition) error {
	output := c.session.NewFrameOutput()
	output.SetPixelFormat(PixelFormatBGRA32)
	if !c.session.CanAddOutput(output) {
		return &InputAttachError{Role: MediaRoleVideo}
	}
	if err := c.session.AddOutput(output); err != nil {
		return err
	}
	c.frameOutput = output
	output.SetDelegate(c.deliverFrame)
	c.configureFrameConnection(position)
	return nil
}

// configureFrameConnection mirrors the frame stream unless the back camera
// is active.
func (c *SessionController) configureFrameConnection(position DevicePosition) {
	if c.frameOutput == nil {
		return
	}
	c.frameOutput.SetMirrored(position != PositionBack)
}

func (c *SessionController) observeAreaChanges(device CaptureDevice) {
	device.OnAreaChange(func() {
		c.post(func() {
			if fn := c.areaChange.Load(); fn != nil {
				(*fn)()
			}
		})
	})
}

// deliverFrame hops each frame-available event from the backend's capture
// path onto the dedicated frame loop.
func (c *SessionController) deliverFrame(frame RawFrame) {
	fn := c.frameDelegate.Load()
	if fn == nil {
		return
	}
	delegate := *fn
	c.frameLoop.Put(NewTask(func() { delegate(frame) }, nil))
}

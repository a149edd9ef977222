package mediabox

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// SimulatedCameraConfig configures a SimulatedCamera.
type SimulatedCameraConfig struct {
	ID       string
	Position DevicePosition

	FocusSupported    bool // Focus point-of-interest support
	ExposureSupported bool // Exposure point-of-interest support
	FailLock          bool // Make LockForConfiguration fail (tests)
}

// SimulatedCamera is an in-process CaptureDevice. It backs the examples and
// the test suite; frame generation itself lives in SimulatedSession.
type SimulatedCamera struct {
	cfg SimulatedCameraConfig

	mu         sync.Mutex
	locked     bool
	monitoring bool
	focusAt    Point
	exposureAt Point
	areaChange func()
}

// NewSimulatedCamera creates a simulated camera device.
func NewSimulatedCamera(cfg SimulatedCameraConfig) *SimulatedCamera {
	if cfg.ID == "" {
		cfg.ID = "sim-camera-" + cfg.Position.String()
	}
	return &SimulatedCamera{cfg: cfg}
}

func (c *SimulatedCamera) ID() string               { return c.cfg.ID }
func (c *SimulatedCamera) Role() MediaRole          { return MediaRoleVideo }
func (c *SimulatedCamera) Position() DevicePosition { return c.cfg.Position }

func (c *SimulatedCamera) LockForConfiguration() error {
	if c.cfg.FailLock {
		return errors.New("mediabox: simulated device lock failure")
	}
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
	return nil
}

func (c *SimulatedCamera) UnlockForConfiguration() {
	c.mu.Lock()
	c.locked = false
	c.mu.Unlock()
}

func (c *SimulatedCamera) SupportsFocusMode(FocusMode) bool { return c.cfg.FocusSupported }

func (c *SimulatedCamera) SetFocusPoint(p Point, _ FocusMode) {
	c.mu.Lock()
	c.focusAt = p
	c.mu.Unlock()
}

func (c *SimulatedCamera) SupportsExposureMode(ExposureMode) bool { return c.cfg.ExposureSupported }

func (c *SimulatedCamera) SetExposurePoint(p Point, _ ExposureMode) {
	c.mu.Lock()
	c.exposureAt = p
	c.mu.Unlock()
}

func (c *SimulatedCamera) SetAreaChangeMonitoring(enabled bool) {
	c.mu.Lock()
	c.monitoring = enabled
	c.mu.Unlock()
}

func (c *SimulatedCamera) OnAreaChange(fn func()) {
	c.mu.Lock()
	c.areaChange = fn
	c.mu.Unlock()
}

// TriggerAreaChange fires the registered subject-area-change callback when
// monitoring is enabled.
func (c *SimulatedCamera) TriggerAreaChange() {
	c.mu.Lock()
	fn := c.areaChange
	monitoring := c.monitoring
	c.mu.Unlock()
	if monitoring && fn != nil {
		fn()
	}
}

// FocusPoint returns the last applied focus point of interest.
func (c *SimulatedCamera) FocusPoint() Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusAt
}

// SimulatedMicrophone is an in-process audio CaptureDevice.
type SimulatedMicrophone struct {
	id string
}

// NewSimulatedMicrophone creates a simulated microphone device.
func NewSimulatedMicrophone() *SimulatedMicrophone {
	return &SimulatedMicrophone{id: "sim-microphone"}
}

func (m *SimulatedMicrophone) ID() string                             { return m.id }
func (m *SimulatedMicrophone) Role() MediaRole                        { return MediaRoleAudio }
func (m *SimulatedMicrophone) Position() DevicePosition               { return PositionFront }
func (m *SimulatedMicrophone) LockForConfiguration() error            { return nil }
func (m *SimulatedMicrophone) UnlockForConfiguration()                {}
func (m *SimulatedMicrophone) SupportsFocusMode(FocusMode) bool       { return false }
func (m *SimulatedMicrophone) SetFocusPoint(Point, FocusMode)         {}
func (m *SimulatedMicrophone) SupportsExposureMode(ExposureMode) bool { return false }
func (m *SimulatedMicrophone) SetExposurePoint(Point, ExposureMode)   {}
func (m *SimulatedMicrophone) SetAreaChangeMonitoring(bool)           {}
func (m *SimulatedMicrophone) OnAreaChange(func())                    {}

type simInput struct {
	device CaptureDevice
}

func (i *simInput) Device() CaptureDevice { return i.device }
func (i *simInput) Role() MediaRole       { return i.device.Role() }

type simPhotoOutput struct{}

func (simPhotoOutput) Role() MediaRole { return MediaRolePhoto }

type simFrameOutput struct {
	mu       sync.Mutex
	format   PixelFormat
	mirrored bool
	delegate func(RawFrame)
}

func (o *simFrameOutput) Role() MediaRole { return MediaRoleVideo }

func (o *simFrameOutput) SetPixelFormat(f PixelFormat) {
	o.mu.Lock()
	o.format = f
	o.mu.Unlock()
}

func (o *simFrameOutput) SetMirrored(m bool) {
	o.mu.Lock()
	o.mirrored = m
	o.mu.Unlock()
}

func (o *simFrameOutput) SetDelegate(fn func(RawFrame)) {
	o.mu.Lock()
	o.delegate = fn
	o.mu.Unlock()
}

func (o *simFrameOutput) snapshot() (func(RawFrame), PixelFormat, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.delegate, o.format, o.mirrored
}

// SimulatedSessionConfig configures a SimulatedSession.
type SimulatedSessionConfig struct {
	FPS int // Frame rate while running (default: 30)

	// Dimension overrides; zero values pick per-preset defaults
	// (480x640 for photo, 1280x720 for hd720).
	Width  int
	Height int

	// Test knobs.
	RefuseInputs    bool            // CanAddInput reports false
	RefuseOutputs   bool            // CanAddOutput reports false
	InputErr        error           // NewInput fails with this error
	SettablePresets []SessionPreset // Presets CanSetPreset accepts (default: all)
}

// SimulatedSession is an in-process CaptureSession that generates animated
// test-pattern BGRA frames while running. Mutations follow the controller's
// threading contract: configuration calls only from the command loop, frame
// delivery on the session's own generator goroutine.
type SimulatedSession struct {
	cfg SimulatedSessionConfig

	mu          sync.Mutex
	inputs      []CaptureInput
	outputs     []CaptureOutput
	frameOutput *simFrameOutput
	preset      SessionPreset
	configDepth int

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	frameIndex atomic.Uint64
}

// NewSimulatedSession creates a simulated capture session.
func NewSimulatedSession(cfg SimulatedSessionConfig) *SimulatedSession {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &SimulatedSession{cfg: cfg, preset: PresetPhoto}
}

func (s *SimulatedSession) BeginConfiguration() {
	s.mu.Lock()
	s.configDepth++
	s.mu.Unlock()
}

func (s *SimulatedSession) CommitConfiguration() {
	s.mu.Lock()
	s.configDepth--
	s.mu.Unlock()
}

func (s *SimulatedSession) CanAddInput(CaptureInput) bool { return !s.cfg.RefuseInputs }

func (s *SimulatedSession) AddInput(input CaptureInput) error {
	if s.cfg.RefuseInputs {
		return &InputAttachError{Role: input.Role()}
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	return nil
}

func (s *SimulatedSession) RemoveInput(input CaptureInput) {
	s.mu.Lock()
	for i, in := range s.inputs {
		if in == input {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *SimulatedSession) CanAddOutput(CaptureOutput) bool { return !s.cfg.RefuseOutputs }

func (s *SimulatedSession) AddOutput(output CaptureOutput) error {
	if s.cfg.RefuseOutputs {
		return &InputAttachError{Role: output.Role()}
	}
	s.mu.Lock()
	s.outputs = append(s.outputs, output)
	if fo, ok := output.(*simFrameOutput); ok {
		s.frameOutput = fo
	}
	s.mu.Unlock()
	return nil
}

func (s *SimulatedSession) NewInput(device CaptureDevice) (CaptureInput, error) {
	if s.cfg.InputErr != nil {
		return nil, s.cfg.InputErr
	}
	return &simInput{device: device}, nil
}

func (s *SimulatedSession) NewPhotoOutput() CaptureOutput { return simPhotoOutput{} }

func (s *SimulatedSession) NewFrameOutput() FrameOutput { return &simFrameOutput{} }

func (s *SimulatedSession) CanSetPreset(p SessionPreset) bool {
	if s.cfg.SettablePresets == nil {
		return true
	}
	for _, sp := range s.cfg.SettablePresets {
		if sp == p {
			return true
		}
	}
	return false
}

func (s *SimulatedSession) SetPreset(p SessionPreset) {
	s.mu.Lock()
	s.preset = p
	s.mu.Unlock()
}

func (s *SimulatedSession) Preset() SessionPreset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

func (s *SimulatedSession) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.generate(s.stopCh)
}

func (s *SimulatedSession) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *SimulatedSession) Running() bool { return s.running.Load() }

// Inputs returns the currently attached inputs (tests).
func (s *SimulatedSession) Inputs() []CaptureInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CaptureInput, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// Dimensions returns the frame size for the active preset.
func (s *SimulatedSession) Dimensions() (int, int) {
	if s.cfg.Width > 0 && s.cfg.Height > 0 {
		return s.cfg.Width, s.cfg.Height
	}
	if s.Preset() == PresetHD720 {
		return 1280, 720
	}
	return 480, 640
}

func (s *SimulatedSession) generate(stop <-chan struct{}) {
	defer s.wg.Done()

	frameDuration := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	base := NowTimestamp()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		output := s.frameOutput
		hasVideo := false
		for _, in := range s.inputs {
			if in.Role() == MediaRoleVideo {
				hasVideo = true
				break
			}
		}
		s.mu.Unlock()
		if output == nil || !hasVideo {
			continue
		}
		delegate, format, mirrored := output.snapshot()
		if delegate == nil || format != PixelFormatBGRA32 {
			continue
		}

		n := s.frameIndex.Add(1)
		width, height := s.Dimensions()
		desc := FormatDescriptor{Width: width, Height: height, Format: PixelFormatBGRA32}
		delegate(RawFrame{
			Data:        renderTestPattern(desc, n, mirrored),
			Desc:        desc,
			TimestampNs: base + int64(n)*int64(frameDuration),
		})
	}
}

// renderTestPattern draws a moving box over a horizontal gradient. Each call
// allocates a fresh buffer because delivered frames are immutable.
func renderTestPattern(desc FormatDescriptor, frame uint64, mirrored bool) []byte {
	data := make([]byte, desc.FrameSize())
	stride := desc.Width * 4

	for y := 0; y < desc.Height; y++ {
		row := data[y*stride:]
		for x := 0; x < desc.Width; x++ {
			g := byte(x * 255 / desc.Width)
			row[x*4+0] = 255 - g // B
			row[x*4+1] = g / 2   // G
			row[x*4+2] = g       // R
			row[x*4+3] = 0xFF
		}
	}

	// Moving box, wrapping horizontally.
	const box = 48
	bx := int(frame*4) % maxInt(desc.Width-box, 1)
	if mirrored {
		bx = maxInt(desc.Width-box-bx, 0)
	}
	by := (desc.Height - box) / 2
	for y := by; y < by+box && y < desc.Height; y++ {
		row := data[y*stride:]
		for x := bx; x < bx+box && x < desc.Width; x++ {
			row[x*4+0] = 0xFF
			row[x*4+1] = 0xFF
			row[x*4+2] = 0xFF
			row[x*4+3] = 0xFF
		}
	}
	return data
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

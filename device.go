package mediabox

// DevicePosition identifies which camera a device is.
type DevicePosition int

const (
	PositionFront DevicePosition = iota
	PositionBack
)

func (p DevicePosition) String() string {
	if p == PositionBack {
		return "back"
	}
	return "front"
}

// Toggle returns the opposite position.
func (p DevicePosition) Toggle() DevicePosition {
	if p == PositionBack {
		return PositionFront
	}
	return PositionBack
}

// CameraRatio is the requested capture aspect ratio.
type CameraRatio int

const (
	Ratio3x4 CameraRatio = iota
	Ratio1x1
	Ratio9x16
)

func (r CameraRatio) String() string {
	switch r {
	case Ratio1x1:
		return "1:1"
	case Ratio9x16:
		return "9:16"
	default:
		return "3:4"
	}
}

// SessionPreset selects a capture resolution class on the session.
type SessionPreset int

const (
	PresetPhoto SessionPreset = iota
	PresetHD720
)

func (p SessionPreset) String() string {
	if p == PresetHD720 {
		return "hd720"
	}
	return "photo"
}

// PresetForRatio maps an aspect ratio to the session preset that provides it.
func PresetForRatio(ratio CameraRatio) SessionPreset {
	switch ratio {
	case Ratio3x4, Ratio1x1:
		return PresetPhoto
	default:
		return PresetHD720
	}
}

// FocusMode selects the device's focus behavior at a point of interest.
type FocusMode int

const (
	FocusModeLocked FocusMode = iota
	FocusModeAuto
	FocusModeContinuous
)

// ExposureMode selects the device's exposure behavior at a point of interest.
type ExposureMode int

const (
	ExposureModeLocked ExposureMode = iota
	ExposureModeAuto
	ExposureModeContinuous
)

// Point is a normalized device coordinate in [0,1]x[0,1].
type Point struct {
	X, Y float64
}

// CaptureDevice models a single physical capture device (camera or
// microphone). Implementations are hardware-specific; SimulatedCamera is the
// in-process one.
type CaptureDevice interface {
	// ID returns a stable device identifier.
	ID() string

	// Role reports what kind of media the device produces.
	Role() MediaRole

	// Position reports which side the device faces. Audio devices report
	// PositionFront.
	Position() DevicePosition

	// LockForConfiguration acquires the exclusive device-configuration lock.
	// Focus and exposure mutations are only valid while held.
	LockForConfiguration() error
	UnlockForConfiguration()

	// Focus/exposure capability and application, each checked independently.
	SupportsFocusMode(FocusMode) bool
	SetFocusPoint(Point, FocusMode)
	SupportsExposureMode(ExposureMode) bool
	SetExposurePoint(Point, ExposureMode)

	// SetAreaChangeMonitoring toggles subject-area-change monitoring.
	SetAreaChangeMonitoring(enabled bool)

	// OnAreaChange registers the subject-area-change callback. Only one
	// observer is supported; passing nil removes it.
	OnAreaChange(fn func())
}

// CaptureInput is a device attached to a session as an input.
type CaptureInput interface {
	Device() CaptureDevice
	Role() MediaRole
}

// CaptureOutput is an endpoint attached to a session.
type CaptureOutput interface {
	Role() MediaRole
}

// FrameOutput is the frame-stream output endpoint: it delivers one frame-
// available event per captured buffer on the backend's own delivery path.
// Consumers must hop off that path immediately; SessionController does so via
// its frame loop.
type FrameOutput interface {
	CaptureOutput

	// SetPixelFormat fixes the delivered pixel format.
	SetPixelFormat(PixelFormat)

	// SetMirrored toggles horizontal mirroring on the connection.
	SetMirrored(bool)

	// SetDelegate registers the frame-available callback. Passing nil
	// removes it.
	SetDelegate(fn func(RawFrame))
}

// CaptureSession is the configurable capture transaction surface. All calls
// are made from the controller's command loop only; implementations need not
// be safe for concurrent mutation but Running must be callable from any
// goroutine.
type CaptureSession interface {
	// BeginConfiguration/CommitConfiguration bracket one configuration
	// transaction. Mutations between them are applied atomically from the
	// consuming side's perspective.
	BeginConfiguration()
	CommitConfiguration()

	CanAddInput(CaptureInput) bool
	AddInput(CaptureInput) error
	RemoveInput(CaptureInput)

	CanAddOutput(CaptureOutput) bool
	AddOutput(CaptureOutput) error

	// NewInput wraps a device in a session-specific input handle.
	NewInput(CaptureDevice) (CaptureInput, error)

	// NewPhotoOutput and NewFrameOutput construct output endpoints.
	NewPhotoOutput() CaptureOutput
	NewFrameOutput() FrameOutput

	CanSetPreset(SessionPreset) bool
	SetPreset(SessionPreset)
	Preset() SessionPreset

	Start()
	Stop()
	Running() bool
}

// Authorizer supplies pre-computed authorization state. The pipeline only
// consumes these booleans; requesting access is the caller's job.
type Authorizer interface {
	CameraAuthorized() bool
	MicrophoneAuthorized() bool
}

// StaticAuthorizer is a fixed Authorizer, convenient for wiring and tests.
type StaticAuthorizer struct {
	Camera     bool
	Microphone bool
}

func (a StaticAuthorizer) CameraAuthorized() bool     { return a.Camera }
func (a StaticAuthorizer) MicrophoneAuthorized() bool { return a.Microphone }

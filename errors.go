package mediabox

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied is returned when the authorization collaborator reports
	// no camera or microphone access.
	ErrAccessDenied = errors.New("mediabox: access denied")

	// ErrResourceNotReady is returned when an operation depends on resources
	// that have not been prepared yet.
	ErrResourceNotReady = errors.New("mediabox: resources not ready")

	// ErrFormatMismatch indicates a buffer-pool reference format inconsistent
	// with the capture format. This is a programmer error, not a runtime
	// condition to recover from.
	ErrFormatMismatch = errors.New("mediabox: pixel format mismatch")

	// ErrWriterFinished is returned when appending to a finished MovieWriter.
	ErrWriterFinished = errors.New("mediabox: movie writer already finished")

	// ErrNonMonotonicTimestamp is surfaced when an appended buffer carries a
	// timestamp earlier than the last written one. The writer reports the
	// violation instead of silently reordering.
	ErrNonMonotonicTimestamp = errors.New("mediabox: non-monotonic timestamp")

	// ErrDistributorClosed is returned when subscribing to a closed distributor.
	ErrDistributorClosed = errors.New("mediabox: distributor closed")
)

// MediaRole identifies the kind of media an input or output carries.
type MediaRole int

const (
	MediaRoleVideo MediaRole = iota
	MediaRoleAudio
	MediaRolePhoto
)

func (r MediaRole) String() string {
	switch r {
	case MediaRoleVideo:
		return "video"
	case MediaRoleAudio:
		return "audio"
	case MediaRolePhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// DeviceInitError indicates that no capture device matched a requested role
// or position.
type DeviceInitError struct {
	Role MediaRole
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("mediabox: no %s capture device available", e.Role)
}

// InputAttachError indicates the session refused an otherwise-valid input or
// output during a configuration transaction.
type InputAttachError struct {
	Role MediaRole
}

func (e *InputAttachError) Error() string {
	return fmt.Sprintf("mediabox: session refused %s attachment", e.Role)
}

// Core frame and format types used across the capture pipeline.
package mediabox

import (
	"image"
	"time"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatBGRA32              // Packed BGRA, 4 bytes per pixel (capture format)
	PixelFormatRGBA32              // Packed RGBA, 4 bytes per pixel
	PixelFormatRGB24               // Packed RGB, 3 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatBGRA32:
		return "BGRA32"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatRGB24:
		return "RGB24"
	default:
		return "Unknown"
	}
}

// BytesPerPixel returns the packed pixel size for this format.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatBGRA32, PixelFormatRGBA32:
		return 4
	case PixelFormatRGB24:
		return 3
	default:
		return 0
	}
}

// FormatDescriptor describes the pixel layout of a frame stream.
type FormatDescriptor struct {
	Width  int
	Height int
	Format PixelFormat
}

// FrameSize returns the byte size of one packed frame in this format.
func (d FormatDescriptor) FrameSize() int {
	return d.Width * d.Height * d.Format.BytesPerPixel()
}

// Valid reports whether the descriptor describes a usable frame layout.
func (d FormatDescriptor) Valid() bool {
	return d.Width > 0 && d.Height > 0 && d.Format.BytesPerPixel() > 0
}

// FrameTexture is one captured frame plus its metadata. It is immutable once
// constructed: filters and consumers must never write through Data, they
// produce a new texture instead.
type FrameTexture struct {
	Data []byte // Packed pixel data, Stride bytes per row

	Width  int
	Height int
	Stride int         // Row stride in bytes
	Format PixelFormat // Pixel format of Data

	// Timestamp is the presentation time in nanoseconds on the source clock.
	Timestamp int64
}

// NewFrameTexture wraps raw pixel data in a texture. Width, height and stride
// are derived from the format descriptor.
func NewFrameTexture(data []byte, desc FormatDescriptor, timestampNs int64) FrameTexture {
	return FrameTexture{
		Data:      data,
		Width:     desc.Width,
		Height:    desc.Height,
		Stride:    desc.Width * desc.Format.BytesPerPixel(),
		Format:    desc.Format,
		Timestamp: timestampNs,
	}
}

// Descriptor returns the format descriptor for this texture.
func (t FrameTexture) Descriptor() FormatDescriptor {
	return FormatDescriptor{Width: t.Width, Height: t.Height, Format: t.Format}
}

// Clone creates a deep copy of the texture. Use this when the underlying data
// comes from a recycled buffer and must outlive it.
func (t FrameTexture) Clone() FrameTexture {
	clone := t
	clone.Data = make([]byte, len(t.Data))
	copy(clone.Data, t.Data)
	return clone
}

// ToImage converts the texture to an image.RGBA, swapping channels as needed.
func (t FrameTexture) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	switch t.Format {
	case PixelFormatRGBA32:
		for y := 0; y < t.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+t.Width*4], t.Data[y*t.Stride:])
		}
	case PixelFormatBGRA32:
		for y := 0; y < t.Height; y++ {
			src := t.Data[y*t.Stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < t.Width; x++ {
				dst[x*4+0] = src[x*4+2]
				dst[x*4+1] = src[x*4+1]
				dst[x*4+2] = src[x*4+0]
				dst[x*4+3] = src[x*4+3]
			}
		}
	case PixelFormatRGB24:
		for y := 0; y < t.Height; y++ {
			src := t.Data[y*t.Stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < t.Width; x++ {
				dst[x*4+0] = src[x*3+0]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 0xFF
			}
		}
	}
	return img
}

// RawFrame is the frame-available payload delivered by a capture backend:
// the raw buffer plus its format and hardware presentation timestamp.
type RawFrame struct {
	Data        []byte
	Desc        FormatDescriptor
	TimestampNs int64
}

// NowTimestamp returns a monotonic timestamp in nanoseconds, used by backends
// that do not supply hardware presentation times.
func NowTimestamp() int64 {
	return time.Now().UnixNano()
}

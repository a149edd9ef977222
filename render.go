package mediabox

import "fmt"

// RenderContext is the shared render resource handle. The original design
// kept this as a process-wide singleton; here it is constructed once by the
// top-level assembly and passed to every component that renders or allocates
// frames (filters, buffer pool, movie writer).
type RenderContext struct {
	format PixelFormat
}

// NewRenderContext creates a render context for the given capture pixel
// format.
func NewRenderContext(format PixelFormat) (*RenderContext, error) {
	if format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("mediabox: unsupported render pixel format %v", format)
	}
	return &RenderContext{format: format}, nil
}

// Format returns the canonical capture pixel format.
func (c *RenderContext) Format() PixelFormat {
	return c.format
}

// AllocFrame allocates pixel storage for one frame of the given dimensions
// in the context's format.
func (c *RenderContext) AllocFrame(width, height int) []byte {
	return make([]byte, width*height*c.format.BytesPerPixel())
}

// Render applies a filter to a texture, returning the input unchanged when
// the filter is nil.
func (c *RenderContext) Render(f Filter, tex FrameTexture) FrameTexture {
	if f == nil {
		return tex
	}
	return f.Render(tex)
}

package mediabox

// Filter is a replaceable pure transform over frame textures. Render must be
// stateless between calls and must not mutate its input; it returns a new
// texture (or the input itself for pass-through filters).
type Filter interface {
	Name() string
	Render(source FrameTexture) FrameTexture
}

// IdentityFilter passes frames through untouched.
type IdentityFilter struct{}

func (IdentityFilter) Name() string { return "Identity" }

func (IdentityFilter) Render(source FrameTexture) FrameTexture { return source }

// SepiaFilter applies a sepia tone to BGRA/RGBA frames.
type SepiaFilter struct {
	ctx *RenderContext
}

// NewSepiaFilter creates a sepia filter rendering through the given context.
func NewSepiaFilter(ctx *RenderContext) *SepiaFilter {
	return &SepiaFilter{ctx: ctx}
}

func (f *SepiaFilter) Name() string { return "Sepia" }

func (f *SepiaFilter) Render(source FrameTexture) FrameTexture {
	if source.Format != PixelFormatBGRA32 && source.Format != PixelFormatRGBA32 {
		return source
	}

	out := source
	out.Data = f.ctx.AllocFrame(source.Width, source.Height)
	out.Stride = source.Width * source.Format.BytesPerPixel()

	// Channel offsets within a pixel.
	ri, bi := 0, 2
	if source.Format == PixelFormatBGRA32 {
		ri, bi = 2, 0
	}

	for y := 0; y < source.Height; y++ {
		src := source.Data[y*source.Stride : y*source.Stride+source.Width*4]
		dst := out.Data[y*out.Stride : y*out.Stride+source.Width*4]
		for x := 0; x < source.Width; x++ {
			r := int(src[x*4+ri])
			g := int(src[x*4+1])
			b := int(src[x*4+bi])

			// Standard sepia matrix, fixed point /1000.
			sr := (r*393 + g*769 + b*189) / 1000
			sg := (r*349 + g*686 + b*168) / 1000
			sb := (r*272 + g*534 + b*131) / 1000

			dst[x*4+ri] = clampByte(sr)
			dst[x*4+1] = clampByte(sg)
			dst[x*4+bi] = clampByte(sb)
			dst[x*4+3] = src[x*4+3]
		}
	}
	return out
}

// GrayscaleFilter converts BGRA/RGBA frames to luminance.
type GrayscaleFilter struct {
	ctx *RenderContext
}

// NewGrayscaleFilter creates a grayscale filter rendering through the given
// context.
func NewGrayscaleFilter(ctx *RenderContext) *GrayscaleFilter {
	return &GrayscaleFilter{ctx: ctx}
}

func (f *GrayscaleFilter) Name() string { return "Grayscale" }

func (f *GrayscaleFilter) Render(source FrameTexture) FrameTexture {
	if source.Format != PixelFormatBGRA32 && source.Format != PixelFormatRGBA32 {
		return source
	}

	out := source
	out.Data = f.ctx.AllocFrame(source.Width, source.Height)
	out.Stride = source.Width * source.Format.BytesPerPixel()

	ri, bi := 0, 2
	if source.Format == PixelFormatBGRA32 {
		ri, bi = 2, 0
	}

	for y := 0; y < source.Height; y++ {
		src := source.Data[y*source.Stride : y*source.Stride+source.Width*4]
		dst := out.Data[y*out.Stride : y*out.Stride+source.Width*4]
		for x := 0; x < source.Width; x++ {
			// BT.601 luma, fixed point /1000.
			lum := clampByte((int(src[x*4+ri])*299 + int(src[x*4+1])*587 + int(src[x*4+bi])*114) / 1000)
			dst[x*4+0] = lum
			dst[x*4+1] = lum
			dst[x*4+2] = lum
			dst[x*4+3] = src[x*4+3]
		}
	}
	return out
}

func clampByte(v int) byte {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return byte(v)
}

package mediabox

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// Photo is one captured still image, JPEG-encoded.
type Photo struct {
	ID          string
	Data        []byte
	Desc        FormatDescriptor
	TimestampNs int64
}

// PhotoCapturerConfig configures a PhotoCapturer.
type PhotoCapturerConfig struct {
	Distributor *FrameDistributor // Frame source (required)
	Quality     int               // JPEG quality 1-100 (default: 92)
	Logger      zerolog.Logger
}

// PhotoCapturer grabs single frames off the distributor and encodes them as
// JPEG stills. Each capture uses a short-lived on-demand subscription, so an
// idle capturer costs the pipeline nothing.
type PhotoCapturer struct {
	dist    *FrameDistributor
	quality int
	log     zerolog.Logger
}

// NewPhotoCapturer creates a photo capturer over the given distributor.
func NewPhotoCapturer(cfg PhotoCapturerConfig) (*PhotoCapturer, error) {
	if cfg.Distributor == nil {
		return nil, fmt.Errorf("mediabox: photo capturer requires a distributor")
	}
	quality := cfg.Quality
	if quality <= 0 || quality > 100 {
		quality = 92
	}
	return &PhotoCapturer{
		dist:    cfg.Distributor,
		quality: quality,
		log:     cfg.Logger,
	}, nil
}

// Capture waits for the next distributed frame and returns it as a JPEG
// photo. The returned photo carries the frame's own capture timestamp. The
// context bounds the wait; an empty pipeline never produces a frame.
func (p *PhotoCapturer) Capture(ctx context.Context) (*Photo, error) {
	sub, err := p.dist.Subscribe(SubscribeOptions{Mode: DeliverOnDemand})
	if err != nil {
		return nil, err
	}
	defer sub.Cancel()
	sub.Request(1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case tex, ok := <-sub.Frames():
		if !ok {
			return nil, ErrDistributorClosed
		}
		return p.encode(tex)
	}
}

func (p *PhotoCapturer) encode(tex FrameTexture) (*Photo, error) {
	img := tex.ToImage()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("mediabox: photo encode: %w", err)
	}

	photo := &Photo{
		ID:          xid.New().String(),
		Data:        buf.Bytes(),
		Desc:        tex.Descriptor(),
		TimestampNs: tex.Timestamp,
	}
	p.log.Debug().
		Str("photo_id", photo.ID).
		Int("bytes", len(photo.Data)).
		Msg("photo captured")
	return photo, nil
}

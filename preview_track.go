package mediabox

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// DefaultMTU is the assumed path MTU for RTP packetization.
const DefaultMTU = 1200

// jpegHeaderSize is the RFC 2435 main JPEG header size.
const jpegHeaderSize = 8

// JPEGPayloader fragments a JPEG scan into RFC 2435 payloads. Width, height
// and Q must be set before each frame; the receiver regenerates quantization
// tables from Q, so the scan should be encoded against the RFC Annex A
// tables for exact reconstruction (close-enough tables give a usable
// preview).
type JPEGPayloader struct {
	Width  int // Frame width in pixels (multiple of 8)
	Height int // Frame height in pixels (multiple of 8)
	Q      int // Quantization factor 1-99
}

// Payload fragments scan data into RTP payloads of at most mtu bytes each,
// every one prefixed with the 8-byte JPEG header carrying the fragment
// offset.
func (p *JPEGPayloader) Payload(mtu uint16, scan []byte) [][]byte {
	if len(scan) == 0 || int(mtu) <= jpegHeaderSize {
		return nil
	}
	maxFragment := int(mtu) - jpegHeaderSize

	var payloads [][]byte
	for offset := 0; offset < len(scan); offset += maxFragment {
		end := offset + maxFragment
		if end > len(scan) {
			end = len(scan)
		}

		out := make([]byte, jpegHeaderSize+end-offset)
		// Type-specific (0) + 24-bit fragment offset.
		out[0] = 0
		out[1] = byte(offset >> 16)
		out[2] = byte(offset >> 8)
		out[3] = byte(offset)
		out[4] = 1 // Type 1: YUV 4:2:0, no restart markers
		out[5] = byte(p.Q)
		out[6] = byte(p.Width / 8)
		out[7] = byte(p.Height / 8)
		copy(out[jpegHeaderSize:], scan[offset:end])
		payloads = append(payloads, out)
	}
	return payloads
}

// jpegScanData returns the entropy-coded scan of a JFIF stream: everything
// after the SOS marker segment, with the trailing EOI stripped. RFC 2435
// transmits only the scan; tables and dimensions travel in the RTP header.
func jpegScanData(jfif []byte) ([]byte, error) {
	i := 0
	for i+3 < len(jfif) {
		if jfif[i] != 0xFF {
			return nil, fmt.Errorf("mediabox: malformed JPEG at offset %d", i)
		}
		marker := jfif[i+1]
		switch {
		case marker == 0xD8: // SOI
			i += 2
		case marker == 0xDA: // SOS: skip the segment, rest is scan data
			segLen := int(jfif[i+2])<<8 | int(jfif[i+3])
			scan := jfif[i+2+segLen:]
			if n := len(scan); n >= 2 && scan[n-2] == 0xFF && scan[n-1] == 0xD9 {
				scan = scan[:n-2]
			}
			return scan, nil
		default:
			segLen := int(jfif[i+2])<<8 | int(jfif[i+3])
			i += 2 + segLen
		}
	}
	return nil, fmt.Errorf("mediabox: JPEG stream has no scan")
}

// PreviewTrackConfig configures a PreviewTrack.
type PreviewTrackConfig struct {
	ID       string // Track identifier (default: generated)
	StreamID string // Owning stream identifier (default: "mediabox")
	MTU      int    // RTP packetization MTU (default: DefaultMTU)
	Quality  int    // JPEG quality 1-99 (default: 70)
	Logger   zerolog.Logger
}

// PreviewTrackStats counts frames and packets through the track.
type PreviewTrackStats struct {
	Frames  uint64
	Packets uint64
}

// PreviewTrack is a webrtc.TrackLocal that serves the filtered capture stream
// as RTP/JPEG. It subscribes to a FrameDistributor in drop-oldest mode, so a
// congested peer connection sees the newest frames and never stalls capture.
type PreviewTrack struct {
	id       string
	streamID string
	codec    webrtc.RTPCodecCapability
	mtu      int
	quality  int
	log      zerolog.Logger

	bindMu   sync.RWMutex
	bindings []previewBinding

	sequencer   rtp.Sequencer
	payloader   JPEGPayloader
	payloadType uint8

	subMu sync.Mutex
	sub   *Subscription
	wg    sync.WaitGroup

	frames  atomic.Uint64
	packets atomic.Uint64
}

// NewPreviewTrack creates an unbound preview track.
func NewPreviewTrack(cfg PreviewTrackConfig) *PreviewTrack {
	if cfg.ID == "" {
		cfg.ID = xid.New().String()
	}
	if cfg.StreamID == "" {
		cfg.StreamID = "mediabox"
	}
	if cfg.MTU <= jpegHeaderSize+12 {
		cfg.MTU = DefaultMTU
	}
	quality := cfg.Quality
	if quality <= 0 || quality > 99 {
		quality = 70
	}
	return &PreviewTrack{
		id:       cfg.ID,
		streamID: cfg.StreamID,
		codec: webrtc.RTPCodecCapability{
			MimeType:  "video/JPEG",
			ClockRate: 90000,
		},
		mtu:         cfg.MTU,
		quality:     quality,
		log:         cfg.Logger,
		sequencer:   rtp.NewRandomSequencer(),
		payloadType: 26, // Static JPEG payload type
	}
}

// ID implements webrtc.TrackLocal.
func (t *PreviewTrack) ID() string { return t.id }

// StreamID implements webrtc.TrackLocal.
func (t *PreviewTrack) StreamID() string { return t.streamID }

// RID implements webrtc.TrackLocal.
func (t *PreviewTrack) RID() string { return "" }

// Kind implements webrtc.TrackLocal.
func (t *PreviewTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

// Codec returns the codec capability.
func (t *PreviewTrack) Codec() webrtc.RTPCodecCapability { return t.codec }

// previewBinding carries the negotiated RTP parameters of one peer binding.
// Each binding keeps its own SSRC and payload type; the sequencer and
// timestamps are shared across bindings.
type previewBinding struct {
	id          string
	ssrc        uint32
	payloadType uint8
	writer      webrtc.TrackLocalWriter
}

// Bind implements webrtc.TrackLocal.
func (t *PreviewTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	binding := previewBinding{
		id:          ctx.ID(),
		ssrc:        uint32(ctx.SSRC()),
		payloadType: t.payloadType,
		writer:      ctx.WriteStream(),
	}
	params := webrtc.RTPCodecParameters{
		RTPCodecCapability: t.codec,
		PayloadType:        webrtc.PayloadType(t.payloadType),
	}
	for _, p := range ctx.CodecParameters() {
		if strings.EqualFold(p.MimeType, t.codec.MimeType) {
			binding.payloadType = uint8(p.PayloadType)
			params = p
			break
		}
	}
	t.bindings = append(t.bindings, binding)
	return params, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *PreviewTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			break
		}
	}
	return nil
}

// AttachTo subscribes the track to a distributor and starts serving frames.
func (t *PreviewTrack) AttachTo(d *FrameDistributor) error {
	sub, err := d.Subscribe(SubscribeOptions{Mode: DeliverDropOldest, QueueLen: 2})
	if err != nil {
		return err
	}
	t.subMu.Lock()
	t.sub = sub
	t.subMu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for tex := range sub.Frames() {
			if err := t.writeFrame(tex); err != nil {
				t.log.Warn().Err(err).Msg("preview frame dropped")
			}
		}
	}()
	return nil
}

// Detach cancels the distributor subscription and waits for the serving
// goroutine to drain. Idempotent.
func (t *PreviewTrack) Detach() {
	t.subMu.Lock()
	sub := t.sub
	t.sub = nil
	t.subMu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	t.wg.Wait()
}

// Stats returns frame and packet counters.
func (t *PreviewTrack) Stats() PreviewTrackStats {
	return PreviewTrackStats{
		Frames:  t.frames.Load(),
		Packets: t.packets.Load(),
	}
}

func (t *PreviewTrack) writeFrame(tex FrameTexture) error {
	packets, err := t.packetize(tex)
	if err != nil {
		return err
	}
	t.frames.Add(1)

	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	var firstErr error
	for _, pkt := range packets {
		t.packets.Add(1)
		for _, b := range t.bindings {
			// One failing binding must not starve the others.
			hdr := pkt.Header
			hdr.SSRC = b.ssrc
			hdr.PayloadType = b.payloadType
			if _, err := b.writer.WriteRTP(&hdr, pkt.Payload); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// packetize encodes one texture as JPEG and fragments it into RTP packets
// with a shared 90 kHz timestamp, marker set on the final fragment. SSRC and
// payload type are stamped per binding at write time.
func (t *PreviewTrack) packetize(tex FrameTexture) ([]*rtp.Packet, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, tex.ToImage(), &jpeg.Options{Quality: t.quality}); err != nil {
		return nil, fmt.Errorf("mediabox: preview encode: %w", err)
	}
	scan, err := jpegScanData(buf.Bytes())
	if err != nil {
		return nil, err
	}

	t.payloader.Width = tex.Width
	t.payloader.Height = tex.Height
	t.payloader.Q = t.quality
	payloads := t.payloader.Payload(uint16(t.mtu-12), scan)
	if len(payloads) == 0 {
		return nil, nil
	}

	// 90 kHz RTP clock; split the conversion so wall-clock nanosecond
	// timestamps cannot overflow, RTP timestamps wrap modulo 2^32 anyway.
	secs := tex.Timestamp / 1e9
	rem := tex.Timestamp % 1e9
	ts := uint32(secs*90000 + rem*90000/1e9)
	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    t.payloadType,
				SequenceNumber: t.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
			},
			Payload: payload,
		}
	}
	return packets, nil
}

var _ webrtc.TrackLocal = (*PreviewTrack)(nil)

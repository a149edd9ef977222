package mediabox

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

func TestJPEGPayloaderFragmentsWithOffsets(t *testing.T) {
	p := &JPEGPayloader{Width: 640, Height: 480, Q: 70}
	scan := make([]byte, 3000)
	for i := range scan {
		scan[i] = byte(i)
	}

	const mtu = 1008 // 1000-byte fragments after the 8-byte header
	payloads := p.Payload(mtu, scan)
	if len(payloads) != 3 {
		t.Fatalf("got %d fragments, want 3", len(payloads))
	}

	var rebuilt []byte
	wantOffset := 0
	for i, payload := range payloads {
		if len(payload) > mtu {
			t.Fatalf("fragment %d is %d bytes, exceeds mtu %d", i, len(payload), mtu)
		}
		offset := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
		if offset != wantOffset {
			t.Fatalf("fragment %d offset %d, want %d", i, offset, wantOffset)
		}
		if payload[4] != 1 {
			t.Fatalf("fragment %d type %d, want 1", i, payload[4])
		}
		if payload[5] != 70 {
			t.Fatalf("fragment %d Q %d, want 70", i, payload[5])
		}
		if payload[6] != 640/8 || payload[7] != 480/8 {
			t.Fatalf("fragment %d dimensions %dx%d blocks", i, payload[6], payload[7])
		}
		rebuilt = append(rebuilt, payload[8:]...)
		wantOffset += len(payload) - 8
	}
	if !bytes.Equal(rebuilt, scan) {
		t.Fatal("reassembled scan differs from input")
	}
}

func TestJPEGPayloaderEmptyInput(t *testing.T) {
	p := &JPEGPayloader{Width: 64, Height: 64, Q: 50}
	if got := p.Payload(1200, nil); got != nil {
		t.Fatalf("payloads for empty scan: %d", len(got))
	}
	if got := p.Payload(8, []byte{1, 2, 3}); got != nil {
		t.Fatal("payloads for mtu smaller than header")
	}
}

func TestJPEGScanDataExtraction(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		t.Fatal(err)
	}

	scan, err := jpegScanData(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(scan) == 0 {
		t.Fatal("empty scan")
	}
	// The EOI marker must have been stripped.
	if n := len(scan); scan[n-2] == 0xFF && scan[n-1] == 0xD9 {
		t.Fatal("scan still carries EOI")
	}
}

func TestJPEGScanDataRejectsGarbage(t *testing.T) {
	if _, err := jpegScanData([]byte{0x00, 0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for non-JPEG input")
	}
	if _, err := jpegScanData([]byte{0xFF, 0xD8}); err == nil {
		t.Fatal("expected error for JPEG with no scan")
	}
}

func TestPreviewTrackPacketize(t *testing.T) {
	track := NewPreviewTrack(PreviewTrackConfig{MTU: 600})

	desc := FormatDescriptor{Width: 64, Height: 64, Format: PixelFormatBGRA32}
	tex := NewFrameTexture(make([]byte, desc.FrameSize()), desc, 1_000_000_000)

	packets, err := track.packetize(tex)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) == 0 {
		t.Fatal("no packets")
	}

	wantTS := uint32(90000) // 1s on the 90 kHz clock
	var lastSeq uint16
	for i, pkt := range packets {
		if pkt.Header.Version != 2 {
			t.Fatalf("packet %d version %d", i, pkt.Header.Version)
		}
		if pkt.Header.Timestamp != wantTS {
			t.Fatalf("packet %d timestamp %d, want %d", i, pkt.Header.Timestamp, wantTS)
		}
		if marker := pkt.Header.Marker; marker != (i == len(packets)-1) {
			t.Fatalf("packet %d marker %v", i, marker)
		}
		if i > 0 && pkt.Header.SequenceNumber != lastSeq+1 {
			t.Fatalf("packet %d sequence %d after %d", i, pkt.Header.SequenceNumber, lastSeq)
		}
		lastSeq = pkt.Header.SequenceNumber
	}
}

func TestPreviewTrackAttachAndDetach(t *testing.T) {
	ctx, err := NewRenderContext(PixelFormatBGRA32)
	if err != nil {
		t.Fatal(err)
	}
	d := NewFrameDistributor(FrameDistributorConfig{Context: ctx})
	defer d.Close()

	track := NewPreviewTrack(PreviewTrackConfig{})
	if err := track.AttachTo(d); err != nil {
		t.Fatal(err)
	}

	desc := FormatDescriptor{Width: 32, Height: 32, Format: PixelFormatBGRA32}
	deadline := time.Now().Add(2 * time.Second)
	var ts int64
	for track.Stats().Frames == 0 {
		if time.Now().After(deadline) {
			t.Fatal("track never consumed a frame")
		}
		ts += 33_333_333
		d.OnRawFrame(RawFrame{Data: make([]byte, desc.FrameSize()), Desc: desc, TimestampNs: ts})
		time.Sleep(time.Millisecond)
	}

	stats := track.Stats()
	if stats.Packets < stats.Frames {
		t.Fatalf("stats %+v: fewer packets than frames", stats)
	}

	track.Detach()
	track.Detach() // Idempotent.
}

type recordingTrackWriter struct {
	mu      sync.Mutex
	headers []rtp.Header
	err     error
}

func (w *recordingTrackWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.headers = append(w.headers, *header)
	return len(payload), nil
}

func (w *recordingTrackWriter) Write(b []byte) (int, error) { return len(b), nil }

type fakeBindingContext struct {
	id     string
	ssrc   webrtc.SSRC
	writer webrtc.TrackLocalWriter
}

func (c *fakeBindingContext) CodecParameters() []webrtc.RTPCodecParameters { return nil }
func (c *fakeBindingContext) HeaderExtensions() []webrtc.RTPHeaderExtensionParameter {
	return nil
}
func (c *fakeBindingContext) SSRC() webrtc.SSRC                       { return c.ssrc }
func (c *fakeBindingContext) SSRCRetransmission() webrtc.SSRC         { return 0 }
func (c *fakeBindingContext) SSRCForwardErrorCorrection() webrtc.SSRC { return 0 }
func (c *fakeBindingContext) WriteStream() webrtc.TrackLocalWriter    { return c.writer }
func (c *fakeBindingContext) ID() string                              { return c.id }
func (c *fakeBindingContext) RTCPReader() interceptor.RTCPReader      { return nil }

func TestPreviewTrackPerBindingWrites(t *testing.T) {
	track := NewPreviewTrack(PreviewTrackConfig{MTU: 600})

	broken := &recordingTrackWriter{err: errors.New("peer gone")}
	healthy := &recordingTrackWriter{}
	brokenCtx := &fakeBindingContext{id: "a", ssrc: 1111, writer: broken}
	healthyCtx := &fakeBindingContext{id: "b", ssrc: 2222, writer: healthy}

	if _, err := track.Bind(brokenCtx); err != nil {
		t.Fatal(err)
	}
	if _, err := track.Bind(healthyCtx); err != nil {
		t.Fatal(err)
	}

	desc := FormatDescriptor{Width: 64, Height: 64, Format: PixelFormatBGRA32}
	tex := NewFrameTexture(make([]byte, desc.FrameSize()), desc, 100_000_000)

	// One failing binding must not stop delivery to the others.
	if err := track.writeFrame(tex); err == nil {
		t.Fatal("broken binding's write error not reported")
	}
	if len(healthy.headers) == 0 {
		t.Fatal("healthy binding received nothing alongside a broken one")
	}
	for i, hdr := range healthy.headers {
		if hdr.SSRC != 2222 {
			t.Fatalf("packet %d SSRC %d, want the binding's own 2222", i, hdr.SSRC)
		}
	}

	if err := track.Unbind(brokenCtx); err != nil {
		t.Fatal(err)
	}
	if err := track.writeFrame(tex); err != nil {
		t.Fatalf("write after unbinding broken peer: %v", err)
	}
}

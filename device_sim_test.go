package mediabox

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSimulatedSessionGeneratesFrames(t *testing.T) {
	session := NewSimulatedSession(SimulatedSessionConfig{FPS: 60})
	camera := NewSimulatedCamera(SimulatedCameraConfig{Position: PositionFront})

	input, err := session.NewInput(camera)
	if err != nil {
		t.Fatal(err)
	}
	if err := session.AddInput(input); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var frames []RawFrame
	output := session.NewFrameOutput()
	output.SetPixelFormat(PixelFormatBGRA32)
	output.SetDelegate(func(f RawFrame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})
	if err := session.AddOutput(output); err != nil {
		t.Fatal(err)
	}

	session.Start()
	defer session.Stop()
	if !session.Running() {
		t.Fatal("session not running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames generated", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	session.Stop()

	mu.Lock()
	defer mu.Unlock()
	width, height := session.Dimensions()
	for i, f := range frames {
		if f.Desc.Format != PixelFormatBGRA32 {
			t.Fatalf("frame %d format %v", i, f.Desc.Format)
		}
		if f.Desc.Width != width || f.Desc.Height != height {
			t.Fatalf("frame %d is %dx%d, want %dx%d", i, f.Desc.Width, f.Desc.Height, width, height)
		}
		if len(f.Data) != f.Desc.FrameSize() {
			t.Fatalf("frame %d size %d, want %d", i, len(f.Data), f.Desc.FrameSize())
		}
		if i > 0 && f.TimestampNs <= frames[i-1].TimestampNs {
			t.Fatalf("frame %d timestamp %d not after %d", i, f.TimestampNs, frames[i-1].TimestampNs)
		}
	}
}

func TestSimulatedSessionIdleWithoutVideoInput(t *testing.T) {
	session := NewSimulatedSession(SimulatedSessionConfig{FPS: 120})

	got := make(chan RawFrame, 1)
	output := session.NewFrameOutput()
	output.SetPixelFormat(PixelFormatBGRA32)
	output.SetDelegate(func(f RawFrame) {
		select {
		case got <- f:
		default:
		}
	})
	if err := session.AddOutput(output); err != nil {
		t.Fatal(err)
	}

	session.Start()
	defer session.Stop()

	select {
	case <-got:
		t.Fatal("frame generated with no video input attached")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSimulatedSessionPresetSelectsDimensions(t *testing.T) {
	session := NewSimulatedSession(SimulatedSessionConfig{})

	session.SetPreset(PresetPhoto)
	if w, h := session.Dimensions(); w != 480 || h != 640 {
		t.Fatalf("photo dimensions %dx%d, want 480x640", w, h)
	}
	session.SetPreset(PresetHD720)
	if w, h := session.Dimensions(); w != 1280 || h != 720 {
		t.Fatalf("hd720 dimensions %dx%d, want 1280x720", w, h)
	}
}

func TestSimulatedSessionRefusesInputsWhenConfigured(t *testing.T) {
	session := NewSimulatedSession(SimulatedSessionConfig{RefuseInputs: true})
	camera := NewSimulatedCamera(SimulatedCameraConfig{Position: PositionFront})

	input, err := session.NewInput(camera)
	if err != nil {
		t.Fatal(err)
	}
	if session.CanAddInput(input) {
		t.Fatal("CanAddInput true with RefuseInputs set")
	}
	var attachErr *InputAttachError
	if err := session.AddInput(input); !errors.As(err, &attachErr) {
		t.Fatalf("err = %v, want InputAttachError", err)
	}
}

func TestSimulatedCameraAreaChangeGatedByMonitoring(t *testing.T) {
	camera := NewSimulatedCamera(SimulatedCameraConfig{Position: PositionFront})

	fired := 0
	camera.OnAreaChange(func() { fired++ })

	camera.TriggerAreaChange() // monitoring off
	if fired != 0 {
		t.Fatal("callback fired with monitoring disabled")
	}

	camera.SetAreaChangeMonitoring(true)
	camera.TriggerAreaChange()
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}
}

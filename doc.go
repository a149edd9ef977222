// Package mediabox provides a real-time camera capture pipeline in Go.
//
// Key pieces include:
//   - SessionController: capture-session lifecycle and serialized reconfiguration
//   - TaskQueue/TaskLoop: bounded, blocking producer/consumer task dispatch
//   - FrameDistributor and Filter: per-frame filtering and multi-subscriber fan-out
//   - PixelBufferPool and MovieWriter: pooled buffers muxed into a container file
//   - PreviewTrack: filtered live preview as a WebRTC track (RTP/JPEG)
//
// # Architecture
//
//	CaptureSession (hardware or simulated)
//	    -> SessionController (frame-available events, serialized commands)
//	    -> FrameDistributor (filter applied, republished per subscriber)
//	    -> { PreviewTrack, MovieWriter, PhotoCapturer }
//
// All session mutation is serialized through a private TaskLoop, so
// configuration transactions never interleave. Frame delivery happens on a
// dedicated loop, never on the capture backend's own callback path.
//
// # Backends
//
// The capture hardware is abstracted behind the CaptureSession and
// CaptureDevice interfaces. SimulatedCamera/SimulatedSession provide an
// in-process backend generating animated test-pattern frames, used by the
// examples and the test suite.
//
// # Recording
//
// MovieWriter appends pooled frames to a ContainerSink. FFmpegSink pipes raw
// BGRA frames into an ffmpeg process writing an MP4 file; tests use an
// in-memory sink.
package mediabox

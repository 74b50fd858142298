// Package audio defines the contract between the duplex link engine and the
// platform audio I/O provider.
//
// The two primary abstractions are:
//
//   - [Device]: opens callback-driven input and output streams.
//   - [Stream]: one open stream, reporting what the hardware negotiated and
//     exposing start/stop/close.
//
// Input and output use two distinct callback types so that an implementation
// never has to branch on stream identity. Callbacks run on the provider's
// real-time thread: they must not block, and the slices passed to them are
// only valid for the duration of the call.
//
// Implementations live in adapter packages (audio/miniaudio, audio/portaudio) and
// in audio/mock for tests. This package lives under pkg/ because external
// code is expected to implement [Device] for other platforms.
package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is returned by [Stream] methods after Close.
	ErrStreamClosed = errors.New("audio: stream closed")

	// ErrUnsupported is returned when a backend cannot honour a request,
	// such as resizing a buffer that is fixed at open time.
	ErrUnsupported = errors.New("audio: operation not supported by backend")
)

// PerformanceMode hints how aggressively a backend should trade robustness
// for latency.
type PerformanceMode int

const (
	// PerformanceDefault leaves buffering to the backend.
	PerformanceDefault PerformanceMode = iota

	// PerformanceLowLatency requests the smallest buffers the backend offers.
	PerformanceLowLatency
)

// String returns the human-readable name of the mode.
func (m PerformanceMode) String() string {
	switch m {
	case PerformanceDefault:
		return "default"
	case PerformanceLowLatency:
		return "low-latency"
	default:
		return "unknown"
	}
}

// StreamSpec is what a caller asks for when opening a stream. The backend may
// negotiate different values; callers must check the opened [Stream].
type StreamSpec struct {
	// Channels is the requested channel count.
	Channels int

	// SampleRate is the requested rate in Hz. Zero selects the device default.
	SampleRate int

	// FramesPerBuffer is the requested callback size in frames. Zero lets the
	// backend choose.
	FramesPerBuffer int

	// Performance selects the latency profile.
	Performance PerformanceMode
}

// MonoLowLatency is the stream spec used for both directions of the link: one
// 16-bit channel at the device rate with the smallest buffers available.
func MonoLowLatency(framesPerBuffer int) StreamSpec {
	return StreamSpec{
		Channels:        1,
		FramesPerBuffer: framesPerBuffer,
		Performance:     PerformanceLowLatency,
	}
}

// String implements [fmt.Stringer].
func (s StreamSpec) String() string {
	return fmt.Sprintf("%dch@%dHz/%d %s", s.Channels, s.SampleRate, s.FramesPerBuffer, s.Performance)
}

// InputFunc receives captured samples. The slice is reused by the backend
// after the call returns.
type InputFunc func(samples []int16)

// OutputFunc fills out with samples to play. Every element must be written;
// the backend does not clear the buffer beforehand.
type OutputFunc func(out []int16)

// Stream is an open audio stream. Implementations must be safe for concurrent
// use, and RequestStop and Close must not return while a callback is still
// running.
type Stream interface {
	// SampleRate returns the negotiated rate in Hz.
	SampleRate() int

	// ChannelCount returns the negotiated channel count.
	ChannelCount() int

	// FramesPerBurst returns the smallest callback size the stream delivers.
	FramesPerBurst() int

	// SetBufferSizeInFrames asks the backend to size its buffer to n frames.
	SetBufferSizeInFrames(n int) error

	// RequestStart begins invoking the stream callback.
	RequestStart() error

	// RequestStop stops invoking the stream callback.
	RequestStop() error

	// Close releases the stream. It is safe to call more than once.
	Close() error
}

// Device opens streams on one audio endpoint pair.
type Device interface {
	// OpenInput opens a capture stream that delivers samples to fn.
	OpenInput(spec StreamSpec, fn InputFunc) (Stream, error)

	// OpenOutput opens a playback stream that asks fn for samples.
	OpenOutput(spec StreamSpec, fn OutputFunc) (Stream, error)
}

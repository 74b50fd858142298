// Package mock provides an in-memory implementation of [audio.Device] whose
// streams are driven synchronously by the test instead of a hardware clock.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control negotiated formats and returned errors.
//
// Typical usage:
//
//	dev := &mock.Device{InputRate: 16000, OutputRate: 16000}
//	eng := engine.New(cfg, dev)
//	_ = eng.Start(ctx)
//	dev.Output().Pull(192) // run one output callback
//	dev.Input().Feed(samples) // run one input callback
package mock

import (
	"sync"

	"github.com/digibattleapp/Digi-Battle/pkg/audio"
)

// Default negotiated values used when the corresponding [Device] field is zero.
const (
	DefaultSampleRate     = 48000
	DefaultFramesPerBurst = 192
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
// Set the exported error fields before use; inspect the Call* fields after.
type Stream struct {
	mu sync.Mutex

	rate     int
	channels int
	burst    int

	input  audio.InputFunc
	output audio.OutputFunc

	started bool
	closed  bool

	// BufferSize holds the last value passed to SetBufferSizeInFrames.
	BufferSize int

	// SetBufferSizeError is returned by [Stream.SetBufferSizeInFrames].
	SetBufferSizeError error

	// StartError is returned by [Stream.RequestStart].
	StartError error

	// StopError is returned by [Stream.RequestStop].
	StopError error

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountStart records how many times RequestStart was called.
	CallCountStart int

	// CallCountStop records how many times RequestStop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CallCountCallback records how many callbacks were delivered.
	CallCountCallback int
}

// SampleRate implements [audio.Stream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// ChannelCount implements [audio.Stream].
func (s *Stream) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

// FramesPerBurst implements [audio.Stream].
func (s *Stream) FramesPerBurst() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burst
}

// SetBufferSizeInFrames implements [audio.Stream]. Records n in BufferSize.
func (s *Stream) SetBufferSizeInFrames(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	s.BufferSize = n
	return s.SetBufferSizeError
}

// RequestStart implements [audio.Stream]. Returns StartError; the stream only
// delivers callbacks after a successful start.
func (s *Stream) RequestStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.closed {
		return audio.ErrStreamClosed
	}
	if s.StartError != nil {
		return s.StartError
	}
	s.started = true
	return nil
}

// RequestStop implements [audio.Stream]. Returns StopError.
func (s *Stream) RequestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.started = false
	return s.StopError
}

// Close implements [audio.Stream]. Returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.started = false
	s.closed = true
	return s.CloseError
}

// Started reports whether the stream is currently delivering callbacks.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Feed delivers samples to the input callback, as a capture device would.
// It reports false without calling anything when the stream is not an
// input stream or is not started.
func (s *Stream) Feed(samples []int16) bool {
	s.mu.Lock()
	fn := s.input
	ok := s.started && fn != nil
	if ok {
		s.CallCountCallback++
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	fn(samples)
	return true
}

// Pull asks the output callback for n samples, as a playback device would,
// and returns them. The buffer is pre-filled with a non-zero pattern so that
// tests catch callbacks that leave samples unwritten. It returns nil when
// the stream is not an output stream or is not started.
func (s *Stream) Pull(n int) []int16 {
	s.mu.Lock()
	fn := s.output
	ok := s.started && fn != nil
	if ok {
		s.CallCountCallback++
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = 0x5a5a
	}
	fn(out)
	return out
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
// Zero-valued format fields fall back to mono at [DefaultSampleRate] with
// [DefaultFramesPerBurst].
type Device struct {
	mu sync.Mutex

	// InputRate and OutputRate are the negotiated sample rates.
	InputRate  int
	OutputRate int

	// InputChannels and OutputChannels are the negotiated channel counts.
	InputChannels  int
	OutputChannels int

	// FramesPerBurst is the burst size reported by both streams.
	FramesPerBurst int

	// OpenInputError is returned by [Device.OpenInput].
	OpenInputError error

	// OpenOutputError is returned by [Device.OpenOutput].
	OpenOutputError error

	// InputStartError and OutputStartError are copied into the StartError
	// field of the corresponding stream when it is opened.
	InputStartError  error
	OutputStartError error

	// InputStopError and OutputStopError are copied into StopError.
	InputStopError  error
	OutputStopError error

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// CloseError is returned by [Device.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Specs records every spec passed to OpenInput or OpenOutput, in order.
	Specs []audio.StreamSpec

	input  *Stream
	output *Stream
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(spec audio.StreamSpec, fn audio.InputFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	d.Specs = append(d.Specs, spec)
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	s := d.newStream(d.InputRate, d.InputChannels)
	s.input = fn
	s.StartError = d.InputStartError
	s.StopError = d.InputStopError
	d.input = s
	return s, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(spec audio.StreamSpec, fn audio.OutputFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenOutput++
	d.Specs = append(d.Specs, spec)
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	s := d.newStream(d.OutputRate, d.OutputChannels)
	s.output = fn
	s.StartError = d.OutputStartError
	s.StopError = d.OutputStopError
	d.output = s
	return s, nil
}

// Close releases the device. Returns CloseError.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseError
}

// Input returns the most recently opened input stream, or nil.
func (d *Device) Input() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.input
}

// Output returns the most recently opened output stream, or nil.
func (d *Device) Output() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

func (d *Device) newStream(rate, channels int) *Stream {
	if rate == 0 {
		rate = DefaultSampleRate
	}
	if channels == 0 {
		channels = 1
	}
	burst := d.FramesPerBurst
	if burst == 0 {
		burst = DefaultFramesPerBurst
	}
	return &Stream{rate: rate, channels: channels, burst: burst}
}

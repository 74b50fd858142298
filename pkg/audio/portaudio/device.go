//go:build portaudio

// Package portaudio implements [audio.Device] with PortAudio callback
// streams. Build with -tags portaudio; without the tag, [New] reports that
// the backend is unavailable.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/digibattleapp/Digi-Battle/pkg/audio"
)

// Available reports whether this build includes PortAudio support.
const Available = true

// Device initialises PortAudio for its lifetime and opens streams on the
// default host devices.
type Device struct {
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a [Device].
type Option func(*Device)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// New initialises PortAudio.
func New(opts ...Option) (*Device, error) {
	d := &Device{log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return d, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(spec audio.StreamSpec, fn audio.InputFunc) (audio.Stream, error) {
	info, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default input device: %w", err)
	}
	p := parameters(spec, info, nil)
	p.Input.Channels = max(spec.Channels, 1)

	var mono []int16
	channels := p.Input.Channels
	return d.open("input", p, channels, func(in []int16) {
		if channels > 1 {
			mono = audio.Downmix(mono, in, channels)
			fn(mono)
			return
		}
		fn(in)
	})
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(spec audio.StreamSpec, fn audio.OutputFunc) (audio.Stream, error) {
	info, err := pa.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default output device: %w", err)
	}
	p := parameters(spec, nil, info)
	p.Output.Channels = max(spec.Channels, 1)

	var buf []int16
	channels := p.Output.Channels
	return d.open("output", p, channels, func(out []int16) {
		if channels == 1 {
			fn(out)
			return
		}
		n := len(out) / channels
		if cap(buf) < n {
			buf = make([]int16, n)
		}
		buf = buf[:n]
		fn(buf)
		for i, v := range buf {
			for c := range channels {
				out[i*channels+c] = v
			}
		}
	})
}

func parameters(spec audio.StreamSpec, in, out *pa.DeviceInfo) pa.StreamParameters {
	var p pa.StreamParameters
	if spec.Performance == audio.PerformanceLowLatency {
		p = pa.LowLatencyParameters(in, out)
	} else {
		p = pa.HighLatencyParameters(in, out)
	}
	if spec.SampleRate > 0 {
		p.SampleRate = float64(spec.SampleRate)
	}
	p.FramesPerBuffer = spec.FramesPerBuffer
	return p
}

func (d *Device) open(dir string, p pa.StreamParameters, channels int, callback any) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("portaudio: open %s: device closed", dir)
	}
	st, err := pa.OpenStream(p, callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %s stream: %w", dir, err)
	}
	s := &stream{
		dir:      dir,
		st:       st,
		rate:     int(st.Info().SampleRate),
		channels: channels,
		burst:    p.FramesPerBuffer,
	}
	if s.burst == pa.FramesPerBufferUnspecified {
		// The host picks a variable size; report the latency-derived size.
		lat := p.Output.Latency
		if dir == "input" {
			lat = p.Input.Latency
		}
		s.burst = max(int(lat.Seconds()*float64(s.rate)), 1)
	}
	d.log.Debug("portaudio: stream opened",
		"direction", dir,
		"sample_rate", s.rate,
		"channels", s.channels,
		"burst", s.burst,
	)
	return s, nil
}

// stream adapts a PortAudio stream to [audio.Stream].
type stream struct {
	dir      string
	st       *pa.Stream
	rate     int
	channels int
	burst    int

	mu      sync.Mutex
	started bool
	closed  bool
}

func (s *stream) SampleRate() int     { return s.rate }
func (s *stream) ChannelCount() int   { return s.channels }
func (s *stream) FramesPerBurst() int { return s.burst }

// SetBufferSizeInFrames accepts only the size fixed at open time.
func (s *stream) SetBufferSizeInFrames(n int) error {
	if n == s.burst {
		return nil
	}
	return fmt.Errorf("portaudio: resize %s buffer to %d frames: %w", s.dir, n, audio.ErrUnsupported)
}

func (s *stream) RequestStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	if s.started {
		return nil
	}
	if err := s.st.Start(); err != nil {
		return fmt.Errorf("portaudio: start %s stream: %w", s.dir, err)
	}
	s.started = true
	return nil
}

func (s *stream) RequestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	if !s.started {
		return nil
	}
	s.started = false
	if err := s.st.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop %s stream: %w", s.dir, err)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.st.Close(); err != nil {
		return fmt.Errorf("portaudio: close %s stream: %w", s.dir, err)
	}
	return nil
}

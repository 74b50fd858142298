// Package miniaudio implements [audio.Device] on top of miniaudio through the
// malgo bindings. Capture and playback are separate malgo devices, each with
// its own data callback, sharing one malgo context.
package miniaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/digibattleapp/Digi-Battle/pkg/audio"
)

// errDeviceClosed is returned when opening a stream on a closed [Device].
var errDeviceClosed = errors.New("miniaudio: device closed")

// Device owns a malgo context and opens streams on the default endpoints.
type Device struct {
	log      *slog.Logger
	backends []malgo.Backend

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// Option configures a [Device].
type Option func(*Device)

// WithLogger routes miniaudio's own log lines and adapter errors to l.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithBackends restricts the miniaudio backends tried, in order.
func WithBackends(b ...malgo.Backend) Option {
	return func(d *Device) { d.backends = b }
}

// New initialises a malgo context.
func New(opts ...Option) (*Device, error) {
	d := &Device{log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	ctx, err := malgo.InitContext(d.backends, malgo.ContextConfig{}, func(message string) {
		d.log.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	d.ctx = ctx
	return d, nil
}

// Close releases the malgo context. Streams must be closed first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.ctx.Uninit()
	d.ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(spec audio.StreamSpec, fn audio.InputFunc) (audio.Stream, error) {
	s := &stream{dir: "capture"}
	var scratch, mono []int16
	cb := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * s.channels * 2
			if n == 0 || len(in) < n {
				return
			}
			scratch = audio.DecodePCM16(scratch, in[:n])
			if s.channels > 1 {
				mono = audio.Downmix(mono, scratch, s.channels)
				fn(mono)
				return
			}
			fn(scratch)
		},
	}
	if err := d.open(s, malgo.Capture, spec, cb); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenOutput implements [audio.Device]. Each mono sample produced by fn is
// copied to every negotiated channel.
func (d *Device) OpenOutput(spec audio.StreamSpec, fn audio.OutputFunc) (audio.Stream, error) {
	s := &stream{dir: "playback"}
	var buf []int16
	cb := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := int(frameCount)
			if n == 0 || len(out) < n*s.channels*2 {
				return
			}
			if cap(buf) < n {
				buf = make([]int16, n)
			}
			buf = buf[:n]
			fn(buf)
			if s.channels == 1 {
				audio.EncodePCM16(out, buf)
				return
			}
			for i, v := range buf {
				for c := range s.channels {
					j := (i*s.channels + c) * 2
					out[j] = byte(v)
					out[j+1] = byte(v >> 8)
				}
			}
		},
	}
	if err := d.open(s, malgo.Playback, spec, cb); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Device) open(s *stream, kind malgo.DeviceType, spec audio.StreamSpec, cb malgo.DeviceCallbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}

	cfg := malgo.DefaultDeviceConfig(kind)
	channels := uint32(max(spec.Channels, 1))
	if kind == malgo.Capture {
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = channels
	} else {
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = channels
	}
	if spec.SampleRate > 0 {
		cfg.SampleRate = uint32(spec.SampleRate)
	}
	if spec.FramesPerBuffer > 0 {
		cfg.PeriodSizeInFrames = uint32(spec.FramesPerBuffer)
	}
	if spec.Performance == audio.PerformanceLowLatency {
		cfg.PerformanceProfile = malgo.LowLatency
	}
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, cb)
	if err != nil {
		return fmt.Errorf("miniaudio: init %s device: %w", s.dir, err)
	}

	s.dev = dev
	s.rate = int(dev.SampleRate())
	if kind == malgo.Capture {
		s.channels = int(dev.CaptureChannels())
	} else {
		s.channels = int(dev.PlaybackChannels())
	}
	s.burst = int(cfg.PeriodSizeInFrames)
	if s.burst == 0 {
		// miniaudio sizes the period from PeriodSizeInMilliseconds.
		s.burst = s.rate * int(max(cfg.PeriodSizeInMilliseconds, 10)) / 1000
	}
	d.log.Debug("miniaudio: stream opened",
		"direction", s.dir,
		"sample_rate", s.rate,
		"channels", s.channels,
		"burst", s.burst,
	)
	return nil
}

// stream adapts one malgo device to [audio.Stream].
type stream struct {
	dir string

	// Set before the device starts and read-only afterwards.
	dev      *malgo.Device
	rate     int
	channels int
	burst    int

	mu     sync.Mutex
	closed bool
}

func (s *stream) SampleRate() int     { return s.rate }
func (s *stream) ChannelCount() int   { return s.channels }
func (s *stream) FramesPerBurst() int { return s.burst }

// SetBufferSizeInFrames accepts only the period negotiated at open time;
// malgo cannot resize a running device.
func (s *stream) SetBufferSizeInFrames(n int) error {
	if n == s.burst {
		return nil
	}
	return fmt.Errorf("miniaudio: resize %s buffer to %d frames: %w", s.dir, n, audio.ErrUnsupported)
}

func (s *stream) RequestStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	if s.dev.IsStarted() {
		return nil
	}
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("miniaudio: start %s device: %w", s.dir, err)
	}
	return nil
}

func (s *stream) RequestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	if !s.dev.IsStarted() {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("miniaudio: stop %s device: %w", s.dir, err)
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
	s.dev.Uninit()
	return nil
}

//go:build !portaudio

// Package portaudio implements [audio.Device] with PortAudio callback
// streams. Build with -tags portaudio; without the tag, [New] reports that
// the backend is unavailable.
package portaudio

import (
	"errors"
	"log/slog"

	"github.com/digibattleapp/Digi-Battle/pkg/audio"
)

// Available reports whether this build includes PortAudio support.
const Available = false

// ErrNotBuilt is returned by [New] when the binary was built without the
// portaudio tag.
var ErrNotBuilt = errors.New("portaudio: support not enabled (build with -tags portaudio)")

// Device is a placeholder that cannot be constructed in this build.
type Device struct{}

// Option configures a [Device].
type Option func(*Device)

// WithLogger is accepted for signature compatibility.
func WithLogger(*slog.Logger) Option { return func(*Device) {} }

// New always fails with [ErrNotBuilt].
func New(...Option) (*Device, error) { return nil, ErrNotBuilt }

// Close is a no-op.
func (*Device) Close() error { return nil }

// OpenInput implements [audio.Device].
func (*Device) OpenInput(audio.StreamSpec, audio.InputFunc) (audio.Stream, error) {
	return nil, ErrNotBuilt
}

// OpenOutput implements [audio.Device].
func (*Device) OpenOutput(audio.StreamSpec, audio.OutputFunc) (audio.Stream, error) {
	return nil, ErrNotBuilt
}

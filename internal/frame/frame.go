// Package frame prepares pre-rendered PCM16 frames for playback at the rate
// an output device actually negotiated.
//
// Frames are short synchronization tones, so conversion uses a one-time
// nearest-neighbour mapping rather than an interpolating resampler. Square
// edges survive unchanged, which the envelope detector on the far side
// depends on.
package frame

import (
	"errors"
	"fmt"
)

// ErrInvalidRate is returned by [Prepare] and [Resample] when either sample
// rate is not positive.
var ErrInvalidRate = errors.New("frame: invalid sample rate")

// Frame is an owned buffer of mono PCM16 samples.
type Frame []int16

// Len returns the number of samples in f.
func (f Frame) Len() int { return len(f) }

// Clone returns a copy of f that shares no memory with it.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// ResampledLen returns the length of an n-sample frame converted from rate
// from to rate to, rounded to the nearest sample.
func ResampledLen(n, from, to int) int {
	if from <= 0 || to <= 0 {
		return 0
	}
	return int((int64(n)*int64(to) + int64(from)/2) / int64(from))
}

// Scale converts a sample count measured at rate from into the equivalent
// count at rate to, truncating. It is used for thresholds and lengths that
// are not frames themselves.
func Scale(n, from, to int) int {
	if from <= 0 {
		return 0
	}
	return int(int64(n) * int64(to) / int64(from))
}

// Resample converts f from rate from to rate to. Equal rates return a
// verbatim copy. Otherwise output sample j takes the source sample at
// floor(j × from / to).
func Resample(f Frame, from, to int) (Frame, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d Hz", ErrInvalidRate, from, to)
	}
	if from == to {
		return f.Clone(), nil
	}

	n := ResampledLen(len(f), from, to)
	out := make(Frame, n)
	if len(f) == 0 {
		return out, nil
	}
	last := int64(len(f) - 1)
	for j := range out {
		src := int64(j) * int64(from) / int64(to)
		out[j] = f[min(src, last)]
	}
	return out, nil
}

// Prepare resamples every authored frame from authoredRate to outputRate.
// The result always has the same number of frames as authored, and never
// aliases the authored buffers.
func Prepare(authored []Frame, authoredRate, outputRate int) ([]Frame, error) {
	out := make([]Frame, len(authored))
	for i, f := range authored {
		r, err := Resample(f, authoredRate, outputRate)
		if err != nil {
			return nil, fmt.Errorf("frame: prepare frame %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

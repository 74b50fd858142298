// Package signal converts between the analog samples carried over the audio
// link and the digital line levels the toys speak.
//
// The receive side uses [Digitize] on a finished recording; the send side
// uses a [Synthesizer] to turn encoded bit cells into playable frames.
package signal

import (
	"math"

	"github.com/digibattleapp/Digi-Battle/internal/frame"
)

// Defaults for [Synthesizer], matching the usual transistor-driven cable.
const (
	DefaultInitRatio = 0.7
	DefaultRampDelta = 50
)

// DefaultThreshold is the sample-to-sample delta treated as a level change.
const DefaultThreshold = 10000

// Digitize converts samples into line levels. A level flips high when the
// next sample rises by more than threshold, low when it falls by more than
// threshold, and holds otherwise. initial is the level of the first sample.
// It returns nil for an empty input.
func Digitize(samples []int16, threshold int, initial bool) []bool {
	if len(samples) == 0 {
		return nil
	}
	out := make([]bool, len(samples))
	out[0] = initial
	for i := 1; i < len(samples); i++ {
		d := int(samples[i]) - int(samples[i-1])
		switch {
		case d > threshold:
			out[i] = true
		case d < -threshold:
			out[i] = false
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// DigitizeGuess is [Digitize] with the initial level guessed from the first
// sample exceeding threshold.
func DigitizeGuess(samples []int16, threshold int) []bool {
	if len(samples) == 0 {
		return nil
	}
	return Digitize(samples, threshold, int(samples[0]) > threshold)
}

// Slice returns a copy of bits[start..end], both ends inclusive. Bounds are
// clamped to bits; an empty range yields an empty, non-nil slice.
func Slice(bits []bool, start, end int) []bool {
	start = max(start, 0)
	end = min(end, len(bits)-1)
	if start > end {
		return []bool{}
	}
	return append([]bool(nil), bits[start:end+1]...)
}

// Synthesizer renders line levels as analog samples.
//
// A cable with a transistor inverts the line, so Inverted maps high to the
// most negative sample. Each level starts at InitRatio of its extreme and
// then ramps towards the extreme by RampDelta per sample, which keeps the
// speaker output from sagging back towards zero during long runs.
type Synthesizer struct {
	Inverted  bool
	InitRatio float64
	RampDelta int
}

// DefaultSynthesizer returns the synthesizer for an inverting cable.
func DefaultSynthesizer() Synthesizer {
	return Synthesizer{
		Inverted:  true,
		InitRatio: DefaultInitRatio,
		RampDelta: DefaultRampDelta,
	}
}

func (s Synthesizer) extreme(level bool) int16 {
	if level != s.Inverted {
		return math.MaxInt16
	}
	return math.MinInt16
}

// Synthesize renders bits as one frame.
func (s Synthesizer) Synthesize(bits []bool) frame.Frame {
	out := make(frame.Frame, len(bits))
	delta := s.RampDelta
	for i, b := range bits {
		target := s.extreme(b)
		if i == 0 || bits[i-1] != b {
			out[i] = int16(float64(target) * s.InitRatio)
			continue
		}
		prev := int(out[i-1])
		switch {
		case target < 0 && prev > math.MinInt16+delta:
			out[i] = int16(prev - delta)
		case target > 0 && prev < math.MaxInt16-delta:
			out[i] = int16(prev + delta)
		default:
			out[i] = int16(prev)
		}
	}
	return out
}

// SynthesizeAll renders one frame per bit sequence.
func (s Synthesizer) SynthesizeAll(seqs [][]bool) []frame.Frame {
	out := make([]frame.Frame, len(seqs))
	for i, bits := range seqs {
		out[i] = s.Synthesize(bits)
	}
	return out
}

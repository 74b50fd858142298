// Package codec encodes 16-bit link messages as line-level bit cells and
// decodes them from a digitized recording.
//
// A message is written as four hex digits. On the wire it becomes a
// handshake of low samples, a start marker, then one fixed-size cell per bit,
// least significant bit first. A one cell holds the line high longer than a
// zero cell, so each bit is read by sampling a single position a fixed
// offset into its cell.
package codec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// BitsPerMessage is the number of cells in one message.
const BitsPerMessage = 16

var (
	// ErrInvalidMessage is returned for text that is not a 16-bit hex value.
	ErrInvalidMessage = errors.New("codec: invalid message")

	// ErrInvalidSize is returned by [Codec.Hex] for a bit slice that is not
	// exactly [BitsPerMessage] long.
	ErrInvalidSize = errors.New("codec: invalid size")

	// ErrUnknownPreset is returned by [Lookup].
	ErrUnknownPreset = errors.New("codec: unknown preset")
)

// Codec describes one cell layout at its authored sample rate.
type Codec struct {
	Name            string
	Rate            int
	CellSize        int
	MarkerOffset    int
	HandshakeLength int
	One             []bool
	Zero            []bool
	StartMarker     []bool
}

func run(high, low int) []bool {
	out := make([]bool, high+low)
	for i := range high {
		out[i] = true
	}
	return out
}

// Original returns the layout used by the original 20th anniversary toys:
// 4800 Hz, 20-sample cells read 8 samples in, and a 287-sample handshake.
func Original() *Codec {
	return &Codec{
		Name:            "original",
		Rate:            4800,
		CellSize:        20,
		MarkerOffset:    8,
		HandshakeLength: 287,
		One:             run(13, 7),
		Zero:            run(5, 15),
		StartMarker:     run(10, 4),
	}
}

var presets = map[string]func() *Codec{
	"original": Original,
}

// Presets returns the names accepted by [Lookup], sorted.
func Presets() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Lookup returns the named preset.
func Lookup(name string) (*Codec, error) {
	f, ok := presets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return f(), nil
}

// ParseMessage parses one to four hex digits. Shorter messages are
// zero-extended to 16 bits.
func ParseMessage(hex string) (uint16, error) {
	v, err := strconv.ParseUint(hex, 16, BitsPerMessage)
	if err != nil || hex == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMessage, hex)
	}
	return uint16(v), nil
}

// Handshake returns the low run that precedes every frame.
func (c *Codec) Handshake() []bool {
	return make([]bool, c.HandshakeLength)
}

// Encode returns the bit cells of hex, least significant bit first.
func (c *Codec) Encode(hex string) ([]bool, error) {
	v, err := ParseMessage(hex)
	if err != nil {
		return nil, err
	}
	out := make([]bool, 0, BitsPerMessage*c.CellSize)
	for i := range BitsPerMessage {
		if v&(1<<i) != 0 {
			out = append(out, c.One...)
		} else {
			out = append(out, c.Zero...)
		}
	}
	return out, nil
}

// Frame returns the full transmission for hex: handshake, start marker, then
// the encoded cells.
func (c *Codec) Frame(hex string) ([]bool, error) {
	cells, err := c.Encode(hex)
	if err != nil {
		return nil, err
	}
	out := make([]bool, 0, c.HandshakeLength+len(c.StartMarker)+len(cells))
	out = append(out, c.Handshake()...)
	out = append(out, c.StartMarker...)
	return append(out, cells...), nil
}

// Frames encodes every message.
func (c *Codec) Frames(messages []string) ([][]bool, error) {
	out := make([][]bool, len(messages))
	for i, m := range messages {
		f, err := c.Frame(m)
		if err != nil {
			return nil, fmt.Errorf("codec: message %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// firstMarker returns the position of the first bit sample and the cell
// interval for a recording at inputRate.
func (c *Codec) firstMarker(inputRate int) (float64, float64) {
	start := len(c.StartMarker) * inputRate / c.Rate
	marker := c.MarkerOffset * inputRate / c.Rate
	interval := float64(c.CellSize) * float64(inputRate) / float64(c.Rate)
	return float64(start + marker), interval
}

// Decode samples the payload of one partition, recorded at inputRate and
// starting at the start marker, at each bit's marker position. Positions past
// the end of bits read as low.
func (c *Codec) Decode(inputRate int, bits []bool) []bool {
	out := make([]bool, BitsPerMessage)
	pos, interval := c.firstMarker(inputRate)
	for i := 0; i < BitsPerMessage && pos < float64(len(bits)); i++ {
		out[i] = bits[int(pos)]
		pos += interval
	}
	return out
}

// MarkerPositions returns the sample index read for each bit at inputRate.
func (c *Codec) MarkerPositions(inputRate int) []int {
	out := make([]int, BitsPerMessage)
	pos, interval := c.firstMarker(inputRate)
	for i := range out {
		out[i] = int(pos)
		pos += interval
	}
	return out
}

// Hex formats decoded bits, least significant first, as four lowercase hex
// digits.
func (c *Codec) Hex(bits []bool) (string, error) {
	if len(bits) != BitsPerMessage {
		return "", fmt.Errorf("%w: %d bits", ErrInvalidSize, len(bits))
	}
	var v uint16
	for i, b := range bits {
		if b {
			v |= 1 << i
		}
	}
	return fmt.Sprintf("%04x", v), nil
}

// MessageMillis is the length of the start marker and payload in
// milliseconds, without the handshake.
func (c *Codec) MessageMillis() int {
	return (c.CellSize*BitsPerMessage + len(c.StartMarker)) * 1000 / c.Rate
}

// Checksum20th returns the check digit expected in the first position of the
// tenth message of a 20th anniversary battle: the value that brings the sum
// of every other digit of the first ten messages to a multiple of 16.
func Checksum20th(messages []string) (byte, error) {
	if len(messages) < 10 {
		return 0, fmt.Errorf("%w: checksum needs 10 messages, got %d", ErrInvalidMessage, len(messages))
	}
	total := 0
	for i, m := range messages[:10] {
		if len(m) != 4 {
			return 0, fmt.Errorf("%w: message %d %q is not 4 digits", ErrInvalidMessage, i, m)
		}
		for j := range 4 {
			if i == 9 && j == 0 {
				continue
			}
			d, err := strconv.ParseUint(m[j:j+1], 16, 8)
			if err != nil {
				return 0, fmt.Errorf("%w: message %d %q", ErrInvalidMessage, i, m)
			}
			total += int(d)
		}
	}
	return "0123456789abcdef"[(16-total%16)%16], nil
}

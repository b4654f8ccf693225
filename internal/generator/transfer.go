package generator

import (
	"fmt"
	"math"
)

// Transfer maps one scalar sample to an RGBA pixel. Implementations must be pure.
type Transfer func(v uint8) [4]uint8

// DefaultTransfer yields (v, 3v mod 256, 25v mod 256, 255).
func DefaultTransfer() Transfer {
	return NewChannelTransfer(nil)
}

// NewChannelTransfer applies shape (identity when nil) and spreads the result over
// the colour channels with factors 1, 3 and 25 modulo 256.
func NewChannelTransfer(shape func(uint8) uint8) Transfer {
	return func(v uint8) [4]uint8 {
		f := v
		if shape != nil {
			f = shape(v)
		}
		return [4]uint8{f, f * 3, f * 25, 255}
	}
}

// DefaultPalette is a blue to orange colour ramp.
var DefaultPalette = [][3]uint8{
	{0, 7, 100},
	{32, 107, 203},
	{237, 255, 255},
	{255, 170, 0},
	{106, 53, 3},
}

// NewPaletteTransfer interpolates linearly between the entries of palette.
func NewPaletteTransfer(palette [][3]uint8) (Transfer, error) {
	if len(palette) < 2 {
		return nil, fmt.Errorf("palette needs at least 2 colours, got %d", len(palette))
	}
	colors := make([][3]uint8, len(palette))
	copy(colors, palette)

	return func(v uint8) [4]uint8 {
		pos := float64(v) / 255 * float64(len(colors)-1)
		lo := math.Floor(pos)
		alpha := pos - lo
		a := colors[int(lo)]
		b := colors[int(math.Ceil(pos))]

		var out [4]uint8
		for c := 0; c < 3; c++ {
			out[c] = uint8((1-alpha)*float64(a[c]) + alpha*float64(b[c]))
		}
		out[3] = 255
		return out
	}, nil
}

// Apply writes len(samples) RGBA pixels into dst.
func (t Transfer) Apply(samples, dst []byte) error {
	if len(dst) < len(samples)*4 {
		return fmt.Errorf("destination holds %d bytes, need %d", len(dst), len(samples)*4)
	}
	for i, v := range samples {
		px := t(v)
		copy(dst[i*4:i*4+4], px[:])
	}
	return nil
}

// Package generatortest provides a deterministic generator for tests.
package generatortest

import (
	"errors"

	"gigatile/internal/generator"
)

var ErrInjected = errors.New("injected generator failure")

// Fake produces sample (OffsetX+x) + 3*(OffsetY+y) + FullResWidth, truncated to a
// byte, for output pixel (x, y).
type Fake struct {
	// FailCompute makes every Compute call return ErrInjected.
	FailCompute bool

	Configured []generator.Params
	Computes   int

	params generator.Params
	output []byte
}

func (f *Fake) Configure(p generator.Params) error {
	f.params = p
	f.Configured = append(f.Configured, p)
	return nil
}

func (f *Fake) Compute() error {
	f.Computes++
	if f.FailCompute {
		return ErrInjected
	}
	p := f.params
	w, h := int(p.OutputWidth), int(p.OutputHeight)
	f.output = make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.output[y*w+x] = Sample(p, x, y)
		}
	}
	return nil
}

func (f *Fake) ReadOutput() ([]byte, error) {
	if f.output == nil {
		return nil, errors.New("not computed")
	}
	return f.output, nil
}

// Sample is the value Fake produces at output pixel (x, y) under p.
func Sample(p generator.Params, x, y int) byte {
	return byte(p.OffsetX + int64(x) + 3*(p.OffsetY+int64(y)) + int64(p.FullResWidth))
}

// Package generator defines the procedural tile backend and the transfer
// functions that turn its scalar samples into RGBA pixels.
package generator

import "fmt"

// Params positions the output window inside a virtual image of FullResWidth x
// FullResHeight samples. Offsets may be negative for border pixels of edge tiles.
type Params struct {
	OutputWidth   uint32
	OutputHeight  uint32
	FullResWidth  uint32
	FullResHeight uint32
	OffsetX       int64
	OffsetY       int64
}

func (p Params) validate() error {
	if p.OutputWidth == 0 || p.OutputHeight == 0 {
		return fmt.Errorf("output size %dx%d must be positive", p.OutputWidth, p.OutputHeight)
	}
	if p.FullResWidth == 0 || p.FullResHeight == 0 {
		return fmt.Errorf("full resolution %dx%d must be positive", p.FullResWidth, p.FullResHeight)
	}
	return nil
}

// Generator computes OutputWidth x OutputHeight scalar samples per call sequence
// Configure, Compute, ReadOutput. Implementations are not reentrant.
type Generator interface {
	Configure(p Params) error
	Compute() error
	// ReadOutput returns the samples of the last Compute in row-major order.
	// The slice may be reused by the next Compute.
	ReadOutput() ([]byte, error)
}

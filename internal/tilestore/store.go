// Package tilestore fetches raw RGBA tile payloads, either verbatim from a
// backing store or synthesized by a procedural generator.
package tilestore

import (
	"fmt"
	"io"

	"gigatile/internal/generator"
	"gigatile/internal/pyramid"
	"gigatile/internal/tile"
	"gigatile/internal/tileindex"
)

// Store is not safe for concurrent use: reads move the shared file cursor and the
// generator is not reentrant.
type Store struct {
	file     io.ReadSeeker
	layout   *pyramid.Layout
	index    *tileindex.Index
	gen      generator.Generator
	transfer generator.Transfer
}

// New creates a store. gen may be nil, in which case procedural fetches fail
// with tile.ErrGeneratorFailure. A nil transfer selects generator.DefaultTransfer.
func New(file io.ReadSeeker, layout *pyramid.Layout, index *tileindex.Index, gen generator.Generator, transfer generator.Transfer) *Store {
	if transfer == nil {
		transfer = generator.DefaultTransfer()
	}
	return &Store{
		file:     file,
		layout:   layout,
		index:    index,
		gen:      gen,
		transfer: transfer,
	}
}

// Fetch writes the payload of c into dst, which must hold layout.TileBytes().
// The coordinate is assumed to be inside the layout.
func (s *Store) Fetch(c tile.Coordinate, mode Mode, dst []byte) error {
	if len(dst) < s.layout.TileBytes() {
		return fmt.Errorf("destination holds %d bytes, need %d", len(dst), s.layout.TileBytes())
	}
	dst = dst[:s.layout.TileBytes()]

	switch mode {
	case Precomputed:
		return s.readPrecomputed(c, dst)
	case Procedural:
		return RenderProcedural(s.gen, s.transfer, s.layout, c, dst)
	default:
		return fmt.Errorf("unknown mode %s", mode)
	}
}

func (s *Store) readPrecomputed(c tile.Coordinate, dst []byte) error {
	offset, ok := s.index.Lookup(c)
	if !ok {
		return fmt.Errorf("tile %s: %w", c, tile.ErrMissingIndexEntry)
	}
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek tile %s to %d: %v: %w", c, offset, err, tile.ErrTileRead)
	}
	if _, err := io.ReadFull(s.file, dst); err != nil {
		return fmt.Errorf("read tile %s at %d: %v: %w", c, offset, err, tile.ErrTileRead)
	}
	return nil
}

// RenderProcedural computes the tile at c with gen and maps the samples through
// transfer into dst. The window starts one overlap before the tile's interior, at
// the resolution of c's level.
func RenderProcedural(gen generator.Generator, transfer generator.Transfer, layout *pyramid.Layout, c tile.Coordinate, dst []byte) error {
	if gen == nil {
		return fmt.Errorf("tile %s: no generator configured: %w", c, tile.ErrGeneratorFailure)
	}

	realTileDim := layout.RealTileDim()
	levelRes := layout.LevelResolution(c.Level)
	params := generator.Params{
		OutputWidth:   realTileDim,
		OutputHeight:  realTileDim,
		FullResWidth:  levelRes,
		FullResHeight: levelRes,
		OffsetX:       int64(c.X)*int64(layout.TileDim()) - int64(layout.Overlap()),
		OffsetY:       int64(c.Y)*int64(layout.TileDim()) - int64(layout.Overlap()),
	}

	if err := gen.Configure(params); err != nil {
		return fmt.Errorf("configure generator for %s: %w: %w", c, tile.ErrGeneratorFailure, err)
	}
	if err := gen.Compute(); err != nil {
		return fmt.Errorf("compute %s: %w: %w", c, tile.ErrGeneratorFailure, err)
	}
	samples, err := gen.ReadOutput()
	if err != nil {
		return fmt.Errorf("read generator output for %s: %w: %w", c, tile.ErrGeneratorFailure, err)
	}
	if want := int(realTileDim) * int(realTileDim); len(samples) != want {
		return fmt.Errorf("generator returned %d samples for %s, want %d: %w", len(samples), c, want, tile.ErrGeneratorFailure)
	}

	return transfer.Apply(samples, dst)
}

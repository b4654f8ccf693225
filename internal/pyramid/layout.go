package pyramid

import (
	"fmt"

	"gigatile/internal/tile"
)

const (
	// BytesPerPixel is the channel count of every stored tile (RGBA).
	BytesPerPixel = 4

	// MaxRealTileDim bounds the stored edge length of a tile, border included.
	MaxRealTileDim = 1 << 16
)

// Layout describes the level-of-detail hierarchy of a square image.
// Level 0 is the finest level; every following level halves the sampling density.
type Layout struct {
	inputDim    uint32
	tileDim     uint32
	overlap     uint32
	levelLayout []uint32
}

func New(inputDim, tileDim, overlap uint32) (*Layout, error) {
	if tileDim == 0 {
		return nil, fmt.Errorf("tile dimension must be positive")
	}
	if inputDim < tileDim {
		return nil, fmt.Errorf("input dimension %d is smaller than tile dimension %d", inputDim, tileDim)
	}
	if dim := uint64(tileDim) + 2*uint64(overlap); dim > MaxRealTileDim {
		return nil, fmt.Errorf("tile dimension %d with overlap %d exceeds %d pixels", tileDim, overlap, MaxRealTileDim)
	}

	var levels []uint32
	for levelDim := inputDim; levelDim >= tileDim; levelDim /= 2 {
		levels = append(levels, levelDim/tileDim)
	}

	return &Layout{
		inputDim:    inputDim,
		tileDim:     tileDim,
		overlap:     overlap,
		levelLayout: levels,
	}, nil
}

func (l *Layout) InputDim() uint32 { return l.inputDim }
func (l *Layout) TileDim() uint32  { return l.tileDim }
func (l *Layout) Overlap() uint32  { return l.overlap }

// RealTileDim is the stored edge length of a tile including the border on both sides.
func (l *Layout) RealTileDim() uint32 { return l.tileDim + 2*l.overlap }

// TileBytes is the size of one stored RGBA tile payload.
func (l *Layout) TileBytes() int {
	d := int(l.RealTileDim())
	return d * d * BytesPerPixel
}

func (l *Layout) LevelCount() int { return len(l.levelLayout) }

// LevelTiles returns the number of tiles per row at the given level.
func (l *Layout) LevelTiles(level int) (int, error) {
	if level < 0 || level >= len(l.levelLayout) {
		return 0, fmt.Errorf("level %d of %d: %w", level, len(l.levelLayout), tile.ErrOutOfRange)
	}
	return int(l.levelLayout[level]), nil
}

// Levels returns a copy of the tiles-per-row sequence, finest level first.
func (l *Layout) Levels() []uint32 {
	out := make([]uint32, len(l.levelLayout))
	copy(out, l.levelLayout)
	return out
}

// LevelResolution is the logical image edge length at the given level.
func (l *Layout) LevelResolution(level uint32) uint32 {
	return l.inputDim >> level
}

// Check reports an ErrOutOfRange error if c does not address a tile of this layout.
func (l *Layout) Check(c tile.Coordinate) error {
	n, err := l.LevelTiles(int(c.Level))
	if err != nil {
		return fmt.Errorf("tile %s: %w", c, err)
	}
	if c.X >= uint32(n) || c.Y >= uint32(n) {
		return fmt.Errorf("tile %s outside %dx%d grid: %w", c, n, n, tile.ErrOutOfRange)
	}
	return nil
}

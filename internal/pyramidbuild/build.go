// Package pyramidbuild writes complete backing stores: level 0 comes from a
// Source, every coarser level is a 2x2 box filter of the level below.
package pyramidbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gigatile/internal/backingstore"
	"gigatile/internal/cache"
	"gigatile/internal/pyramid"
	"gigatile/internal/tile"
)

// Source renders finest level tiles, border included, as RGBA.
type Source interface {
	RenderTile(c tile.Coordinate, dst []byte) error
}

// Build writes a full pyramid for layout into f.
func Build(ctx context.Context, f io.ReadWriteSeeker, layout *pyramid.Layout, src Source, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := backingstore.NewWriter(f, layout.InputDim(), layout.TileDim(), layout.Overlap())
	if err != nil {
		return err
	}

	if err := buildBaseLevel(ctx, w, layout, src, logger); err != nil {
		return err
	}
	for level := 1; level < layout.LevelCount(); level++ {
		if err := buildLevel(ctx, w, layout, uint32(level), logger); err != nil {
			return err
		}
	}

	if err := w.Finish(); err != nil {
		return err
	}
	logger.Info("Pyramid complete", zap.Int("tiles", w.TileCount()), zap.Int("levels", layout.LevelCount()))
	return nil
}

// BuildFile builds into a temporary file next to path and moves it into place
// only after the store is complete.
func BuildFile(ctx context.Context, path string, layout *pyramid.Layout, src Source, logger *zap.Logger) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	buildErr := Build(ctx, tmp, layout, src, logger)
	if err = multierr.Append(buildErr, tmp.Close()); err != nil {
		return err
	}

	if err = atomic.ReplaceFile(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move store into place: %w", err)
	}
	return nil
}

func buildBaseLevel(ctx context.Context, w *backingstore.Writer, layout *pyramid.Layout, src Source, logger *zap.Logger) error {
	n, err := layout.LevelTiles(0)
	if err != nil {
		return err
	}

	start := time.Now()
	buf := make([]byte, layout.TileBytes())
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := tile.Coordinate{X: uint32(x), Y: uint32(y), Level: 0}
			if err := src.RenderTile(c, buf); err != nil {
				return fmt.Errorf("render tile %s: %w", c, err)
			}
			if err := w.WriteTile(c, buf); err != nil {
				return err
			}
		}
		logger.Debug("Base level row done", zap.Int("row", y+1), zap.Int("rows", n))
	}

	logger.Info("Level built", zap.Int("level", 0), zap.Int("tiles_per_row", n), zap.Duration("took", time.Since(start)))
	return nil
}

func buildLevel(ctx context.Context, w *backingstore.Writer, layout *pyramid.Layout, level uint32, logger *zap.Logger) error {
	n, err := layout.LevelTiles(int(level))
	if err != nil {
		return err
	}
	finer, err := layout.LevelTiles(int(level) - 1)
	if err != nil {
		return err
	}

	start := time.Now()
	r, err := newLevelReader(w, layout, level-1, finer)
	if err != nil {
		return err
	}

	target := make([]byte, layout.TileBytes())
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := tile.Coordinate{X: uint32(x), Y: uint32(y), Level: level}
			if err := downsample(r, layout, c, target); err != nil {
				return fmt.Errorf("downsample tile %s: %w", c, err)
			}
			if err := w.WriteTile(c, target); err != nil {
				return err
			}
		}
	}

	logger.Info("Level built", zap.Uint32("level", level), zap.Int("tiles_per_row", n), zap.Duration("took", time.Since(start)))
	return nil
}

// downsample fills every pixel of c, border included, with the mean of the 2x2
// block below it. Samples beyond the finer level's extent are clamped to its edge.
func downsample(r *levelReader, layout *pyramid.Layout, c tile.Coordinate, dst []byte) error {
	realDim := int(layout.RealTileDim())
	tileDim := int(layout.TileDim())
	overlap := int(layout.Overlap())

	var px [4][pyramid.BytesPerPixel]byte
	for py := 0; py < realDim; py++ {
		gy := int(c.Y)*tileDim + py - overlap
		for pxl := 0; pxl < realDim; pxl++ {
			gx := int(c.X)*tileDim + pxl - overlap

			for i, d := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
				p, err := r.pixel(2*gx+d[0], 2*gy+d[1])
				if err != nil {
					return err
				}
				px[i] = p
			}

			out := dst[(py*realDim+pxl)*pyramid.BytesPerPixel:]
			for ch := 0; ch < pyramid.BytesPerPixel; ch++ {
				sum := uint16(px[0][ch]) + uint16(px[1][ch]) + uint16(px[2][ch]) + uint16(px[3][ch])
				out[ch] = uint8(sum / 4)
			}
		}
	}
	return nil
}

// levelReader samples interior pixels of one level by global position. Tiles are
// kept in a small LRU so neighbouring targets reuse reads.
type levelReader struct {
	w       *backingstore.Writer
	level   uint32
	tileDim int
	overlap int
	realDim int
	extent  int
	tiles   *cache.Cache
	free    [][]byte
}

// readerTiles covers the 4x4 block of finer tiles one target tile can touch.
const readerTiles = 16

func newLevelReader(w *backingstore.Writer, layout *pyramid.Layout, level uint32, tilesPerRow int) (*levelReader, error) {
	r := &levelReader{
		w:       w,
		level:   level,
		tileDim: int(layout.TileDim()),
		overlap: int(layout.Overlap()),
		realDim: int(layout.RealTileDim()),
		extent:  tilesPerRow * int(layout.TileDim()),
	}
	tiles, err := cache.New(readerTiles, func(t *cache.Tile, _ cache.Reason) {
		r.free = append(r.free, t.Pixels)
	})
	if err != nil {
		return nil, err
	}
	r.tiles = tiles
	return r, nil
}

func (r *levelReader) pixel(gx, gy int) ([pyramid.BytesPerPixel]byte, error) {
	gx = clamp(gx, 0, r.extent-1)
	gy = clamp(gy, 0, r.extent-1)

	c := tile.Coordinate{X: uint32(gx / r.tileDim), Y: uint32(gy / r.tileDim), Level: r.level}
	t, ok := r.tiles.Get(c)
	if !ok {
		buf := r.buffer()
		if err := r.w.ReadTile(c, buf); err != nil {
			return [pyramid.BytesPerPixel]byte{}, err
		}
		t = r.tiles.Put(c, buf)
	}

	lx := gx%r.tileDim + r.overlap
	ly := gy%r.tileDim + r.overlap
	off := (ly*r.realDim + lx) * pyramid.BytesPerPixel

	var p [pyramid.BytesPerPixel]byte
	copy(p[:], t.Pixels[off:off+pyramid.BytesPerPixel])
	return p, nil
}

func (r *levelReader) buffer() []byte {
	if n := len(r.free); n > 0 {
		buf := r.free[n-1]
		r.free = r.free[:n-1]
		return buf
	}
	return make([]byte, r.realDim*r.realDim*pyramid.BytesPerPixel)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

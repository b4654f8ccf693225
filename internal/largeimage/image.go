// Package largeimage serves fixed-size tiles of a multi-resolution image from a
// bounded cache, filling misses from the backing store or a procedural generator.
package largeimage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gigatile/internal/backingstore"
	"gigatile/internal/cache"
	"gigatile/internal/generator"
	"gigatile/internal/metrics"
	"gigatile/internal/pyramid"
	"gigatile/internal/tile"
	"gigatile/internal/tileindex"
	"gigatile/internal/tilestore"
)

// Image is not safe for concurrent use. Callers sharing one Image across
// goroutines must serialize every method call.
type Image struct {
	id        string
	file      io.ReadSeekCloser
	layout    *pyramid.Layout
	index     *tileindex.Index
	store     *tilestore.Store
	cache     *cache.Cache
	gen       generator.Generator
	mode      tilestore.Mode
	scratch   []byte
	logger    *zap.Logger
	metrics   *metrics.Metrics
	userEvict cache.EvictFunc
}

// Open opens the backing store at path. The returned Image owns the file.
func Open(path string, capacity int, opts ...Option) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open large image: %v: %w", err, tile.ErrFatalLoad)
	}

	img, err := New(f, capacity, opts...)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	return img, nil
}

// New reads the header and index of file and prepares an empty cache. On success
// the Image owns file and closes it in Close.
func New(file io.ReadSeekCloser, capacity int, opts ...Option) (*Image, error) {
	o := options{
		logger: zap.NewNop(),
		mode:   tilestore.Precomputed,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}
	if o.gen == nil {
		o.gen = generator.NewMandelbrot(generator.DefaultMaxIterations, runtime.NumCPU())
	}

	header, err := backingstore.ReadHeader(file)
	if err != nil {
		return nil, err
	}

	layout, err := pyramid.New(header.InputDim, header.TileDim, header.Overlap)
	if err != nil {
		return nil, fmt.Errorf("invalid layout: %v: %w", err, tile.ErrFatalLoad)
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("determine store size: %v: %w", err, tile.ErrFatalLoad)
	}

	index, err := tileindex.Load(file, header.IndexOffset, size)
	if err != nil {
		return nil, err
	}

	img := &Image{
		id:        o.id,
		file:      file,
		layout:    layout,
		index:     index,
		store:     tilestore.New(file, layout, index, o.gen, o.transfer),
		gen:       o.gen,
		mode:      o.mode,
		scratch:   make([]byte, layout.TileBytes()),
		logger:    o.logger.With(zap.String("image", o.id)),
		metrics:   o.metrics,
		userEvict: o.onEvict,
	}

	img.cache, err = cache.New(capacity, img.evicted)
	if err != nil {
		return nil, err
	}

	img.logger.Info("Large image loaded",
		zap.Uint32("input_dim", layout.InputDim()),
		zap.Uint32("tile_dim", layout.TileDim()),
		zap.Uint32("overlap", layout.Overlap()),
		zap.Int("levels", layout.LevelCount()),
		zap.Int("indexed_tiles", index.Len()),
		zap.Int("cache_tiles", capacity),
		zap.String("mode", o.mode.String()),
	)

	return img, nil
}

// GetTile returns the tile at c from the cache, fetching it in the current mode on
// a miss. A failed fetch leaves the cache untouched.
func (i *Image) GetTile(c tile.Coordinate) (*cache.Tile, error) {
	if err := i.layout.Check(c); err != nil {
		return nil, err
	}

	if t, ok := i.cache.Get(c); ok {
		i.metrics.CacheHit(i.id)
		return t, nil
	}
	i.metrics.CacheMiss(i.id)

	start := time.Now()
	if err := i.store.Fetch(c, i.mode, i.scratch); err != nil {
		i.metrics.TileError(i.id, ErrorKind(err))
		i.logger.Debug("Tile fetch failed",
			zap.Uint32("level", c.Level), zap.Uint32("x", c.X), zap.Uint32("y", c.Y),
			zap.String("mode", i.mode.String()), zap.Error(err))
		return nil, err
	}
	i.metrics.ObserveFetch(i.id, i.mode.String(), time.Since(start))

	pixels := make([]byte, len(i.scratch))
	copy(pixels, i.scratch)
	return i.cache.Put(c, pixels), nil
}

// SetComputeMode switches the fetch mode. Any actual change flushes the cache so
// that precomputed and procedural tiles never coexist.
func (i *Image) SetComputeMode(mode tilestore.Mode) {
	if mode == i.mode {
		return
	}

	flushed := i.cache.Len()
	i.cache.Clear()
	i.mode = mode
	i.metrics.ModeSwitch(i.id)
	i.logger.Info("Compute mode changed", zap.String("mode", mode.String()), zap.Int("flushed", flushed))
}

func (i *Image) ComputeMode() tilestore.Mode {
	return i.mode
}

// ClearCache drops all resident tiles.
func (i *Image) ClearCache() {
	i.cache.Clear()
}

func (i *Image) evicted(t *cache.Tile, reason cache.Reason) {
	i.metrics.Eviction(i.id, reason.String())
	if i.userEvict != nil {
		i.userEvict(t, reason)
	}
}

// Close releases every cached tile, the generator if it holds resources, and the
// backing store.
func (i *Image) Close() error {
	i.cache.Clear()

	var err error
	if closer, ok := i.gen.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	err = multierr.Append(err, i.file.Close())
	return err
}

func (i *Image) ID() string                { return i.id }
func (i *Image) Layout() *pyramid.Layout   { return i.layout }
func (i *Image) LevelCount() int           { return i.layout.LevelCount() }
func (i *Image) InputDim() uint32          { return i.layout.InputDim() }
func (i *Image) TileDim() uint32           { return i.layout.TileDim() }
func (i *Image) Overlap() uint32           { return i.layout.Overlap() }
func (i *Image) RealTileDim() uint32       { return i.layout.RealTileDim() }
func (i *Image) IndexedTiles() int         { return i.index.Len() }
func (i *Image) CacheLen() int             { return i.cache.Len() }
func (i *Image) CacheCapacity() int        { return i.cache.Capacity() }
func (i *Image) Cached() []tile.Coordinate { return i.cache.Coordinates() }

func (i *Image) LevelTiles(level int) (int, error) {
	return i.layout.LevelTiles(level)
}

// ErrorKind classifies a GetTile error for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, tile.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, tile.ErrMissingIndexEntry):
		return "missing_index_entry"
	case errors.Is(err, tile.ErrGeneratorFailure):
		return "generator_failure"
	case errors.Is(err, tile.ErrTileRead):
		return "tile_read"
	case errors.Is(err, tile.ErrFatalLoad):
		return "fatal_load"
	default:
		return "other"
	}
}

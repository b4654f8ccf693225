// Package catalog keeps one independently owned large image per backing store
// found in a data directory.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gigatile/internal/generator"
	"gigatile/internal/largeimage"
	"gigatile/internal/metrics"
	"gigatile/internal/tilestore"
)

// StoreExt is the file extension of backing stores.
const StoreExt = ".gtl"

type ImageInfo struct {
	ID           string   `json:"id"`
	Filename     string   `json:"filename"`
	Bytes        int64    `json:"bytes"`
	InputDim     uint32   `json:"input_dim"`
	TileDim      uint32   `json:"tile_dim"`
	Overlap      uint32   `json:"overlap"`
	RealTileDim  uint32   `json:"real_tile_dim"`
	LevelCount   int      `json:"level_count"`
	Levels       []uint32 `json:"levels"`
	IndexedTiles int      `json:"indexed_tiles"`
	CachedTiles  int      `json:"cached_tiles"`
	CacheTiles   int      `json:"cache_capacity"`
	Mode         string   `json:"mode"`
}

type Options struct {
	// Capacity is the tile cache size of every image.
	Capacity int
	Mode     tilestore.Mode
	// NewGenerator creates the procedural backend of one image. Generators are
	// never shared between images.
	NewGenerator func() generator.Generator
	Transfer     generator.Transfer
	Metrics      *metrics.Metrics
}

// Entry serializes access to one image.
type Entry struct {
	mu       sync.Mutex
	image    *largeimage.Image
	filename string
	bytes    int64
}

// Do runs fn while holding the image's lock.
func (e *Entry) Do(fn func(img *largeimage.Image) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.image)
}

func (e *Entry) Info() ImageInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	img := e.image
	return ImageInfo{
		ID:           img.ID(),
		Filename:     e.filename,
		Bytes:        e.bytes,
		InputDim:     img.InputDim(),
		TileDim:      img.TileDim(),
		Overlap:      img.Overlap(),
		RealTileDim:  img.RealTileDim(),
		LevelCount:   img.LevelCount(),
		Levels:       img.Layout().Levels(),
		IndexedTiles: img.IndexedTiles(),
		CachedTiles:  img.CacheLen(),
		CacheTiles:   img.CacheCapacity(),
		Mode:         img.ComputeMode().String(),
	}
}

type Catalog struct {
	dataDir string
	logger  *zap.Logger
	opts    Options

	mu      sync.RWMutex
	entries map[string]*Entry
}

func New(dataDir string, opts Options, logger *zap.Logger) *Catalog {
	return &Catalog{
		dataDir: dataDir,
		logger:  logger,
		opts:    opts,
		entries: make(map[string]*Entry),
	}
}

// Scan opens stores that appeared since the last scan and closes images whose
// store file is gone. A store that fails to load is logged and skipped.
func (c *Catalog) Scan() error {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	found := make(map[string]os.DirEntry)
	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != StoreExt {
			continue
		}
		found[strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))] = entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var closeErr error
	for id, e := range c.entries {
		if _, ok := found[id]; ok {
			continue
		}
		delete(c.entries, id)
		closeErr = multierr.Append(closeErr, e.Do(func(img *largeimage.Image) error { return img.Close() }))
		c.logger.Info("Removed image", zap.String("id", id))
	}

	for id, dirEntry := range found {
		if _, ok := c.entries[id]; ok {
			continue
		}

		path := filepath.Join(c.dataDir, dirEntry.Name())
		info, err := dirEntry.Info()
		if err != nil {
			c.logger.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			continue
		}

		img, err := c.open(id, path)
		if err != nil {
			c.logger.Warn("Failed to load image, skipping", zap.String("path", path), zap.Error(err))
			continue
		}

		c.entries[id] = &Entry{
			image:    img,
			filename: dirEntry.Name(),
			bytes:    info.Size(),
		}
		c.logger.Info("Loaded image", zap.String("id", id), zap.String("path", path))
	}

	return closeErr
}

func (c *Catalog) open(id, path string) (*largeimage.Image, error) {
	opts := []largeimage.Option{
		largeimage.WithID(id),
		largeimage.WithLogger(c.logger),
		largeimage.WithComputeMode(c.opts.Mode),
		largeimage.WithMetrics(c.opts.Metrics),
	}
	if c.opts.NewGenerator != nil {
		opts = append(opts, largeimage.WithGenerator(c.opts.NewGenerator()))
	}
	if c.opts.Transfer != nil {
		opts = append(opts, largeimage.WithTransfer(c.opts.Transfer))
	}
	return largeimage.Open(path, c.opts.Capacity, opts...)
}

// GetImages lists all images sorted by id.
func (c *Catalog) GetImages() []ImageInfo {
	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	images := make([]ImageInfo, 0, len(entries))
	for _, e := range entries {
		images = append(images, e.Info())
	}
	sort.Slice(images, func(i, j int) bool { return images[i].ID < images[j].ID })
	return images
}

// GetImageByID returns nil for unknown ids.
func (c *Catalog) GetImageByID(id string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// Close closes every image.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for id, e := range c.entries {
		err = multierr.Append(err, e.Do(func(img *largeimage.Image) error { return img.Close() }))
		delete(c.entries, id)
	}
	return err
}

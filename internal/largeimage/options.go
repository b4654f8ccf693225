package largeimage

import (
	"go.uber.org/zap"

	"gigatile/internal/cache"
	"gigatile/internal/generator"
	"gigatile/internal/metrics"
	"gigatile/internal/tilestore"
)

type options struct {
	id       string
	logger   *zap.Logger
	gen      generator.Generator
	transfer generator.Transfer
	onEvict  cache.EvictFunc
	metrics  *metrics.Metrics
	mode     tilestore.Mode
}

type Option func(*options)

// WithID names the image in logs and metrics.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGenerator replaces the default Mandelbrot backend used in procedural mode.
func WithGenerator(gen generator.Generator) Option {
	return func(o *options) { o.gen = gen }
}

func WithTransfer(transfer generator.Transfer) Option {
	return func(o *options) { o.transfer = transfer }
}

// WithOnEvict registers a callback that runs when a tile leaves the cache,
// through eviction, a mode switch, ClearCache or Close.
func WithOnEvict(fn cache.EvictFunc) Option {
	return func(o *options) { o.onEvict = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithComputeMode sets the initial fetch mode. The default is precomputed.
func WithComputeMode(mode tilestore.Mode) Option {
	return func(o *options) { o.mode = mode }
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gigatile/internal/generator"
	"gigatile/internal/logger"
	"gigatile/internal/pyramid"
	"gigatile/internal/pyramidbuild"
)

type options struct {
	output        string
	source        string
	inputDim      uint32
	tileDim       uint32
	overlap       uint32
	maxIterations int
	workers       int
	palette       bool
	logLevel      string
}

func main() {
	var opts options

	flags := pflag.NewFlagSet("tilegen", pflag.ExitOnError)
	flags.StringVarP(&opts.output, "output", "o", "", "path of the tile store to write (required)")
	flags.StringVarP(&opts.source, "source", "s", "", "raster image to tile instead of the Mandelbrot set")
	flags.Uint32Var(&opts.inputDim, "input-dim", 4096, "edge length of the finest level in pixels (ignored with --source)")
	flags.Uint32Var(&opts.tileDim, "tile-dim", 256, "tile edge length in pixels without overlap")
	flags.Uint32Var(&opts.overlap, "overlap", 1, "overlap border on each tile side in pixels")
	flags.IntVar(&opts.maxIterations, "max-iterations", generator.DefaultMaxIterations, "Mandelbrot escape iteration limit")
	flags.IntVarP(&opts.workers, "workers", "w", runtime.NumCPU(), "Mandelbrot row workers")
	flags.BoolVar(&opts.palette, "palette", false, "color samples with the default palette instead of the channel transfer")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	if opts.output == "" {
		fmt.Fprintln(os.Stderr, "tilegen: --output is required")
		flags.Usage()
		os.Exit(2)
	}

	log, err := logger.NewConsole(opts.logLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error("Build failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *zap.Logger) error {
	var (
		layout *pyramid.Layout
		src    pyramidbuild.Source
		err    error
	)

	if opts.source != "" {
		vips.Startup(&vips.Config{
			ConcurrencyLevel: runtime.NumCPU(),
			MaxCacheFiles:    0, // Disable disk cache
			MaxCacheSize:     0, // Disable disk cache
			VectorEnabled:    true,
		})
		defer vips.Shutdown()

		w, h, err := pyramidbuild.ImageDim(opts.source)
		if err != nil {
			return err
		}
		layout, err = pyramid.New(fitDim(w, h, opts.tileDim), opts.tileDim, opts.overlap)
		if err != nil {
			return err
		}
		if src, err = pyramidbuild.NewImageSource(opts.source, layout); err != nil {
			return err
		}
		log.Info("Tiling image", zap.String("source", opts.source), zap.Int("width", w), zap.Int("height", h))
	} else {
		layout, err = pyramid.New(opts.inputDim, opts.tileDim, opts.overlap)
		if err != nil {
			return err
		}

		transfer := generator.DefaultTransfer()
		if opts.palette {
			if transfer, err = generator.NewPaletteTransfer(generator.DefaultPalette); err != nil {
				return err
			}
		}
		gen := generator.NewMandelbrot(opts.maxIterations, opts.workers)
		src = pyramidbuild.NewProceduralSource(gen, transfer, layout)
		log.Info("Rendering Mandelbrot set", zap.Int("max_iterations", opts.maxIterations), zap.Int("workers", opts.workers))
	}

	log.Info("Building tile store",
		zap.String("output", opts.output),
		zap.Uint32("input_dim", layout.InputDim()),
		zap.Uint32("tile_dim", layout.TileDim()),
		zap.Uint32("overlap", layout.Overlap()),
		zap.Uint32s("levels", layout.Levels()),
	)

	start := time.Now()
	if err := pyramidbuild.BuildFile(ctx, opts.output, layout, src, log); err != nil {
		return err
	}

	log.Info("Tile store written", zap.String("output", opts.output), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// fitDim returns the smallest multiple of tileDim covering both image sides.
func fitDim(w, h int, tileDim uint32) uint32 {
	side := uint32(max(w, h))
	if tileDim == 0 {
		return side
	}
	return (side + tileDim - 1) / tileDim * tileDim
}

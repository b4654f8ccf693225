package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gigatile/internal/catalog"
	"gigatile/internal/config"
	"gigatile/internal/encoding"
	"gigatile/internal/generator"
	httphandlers "gigatile/internal/http"
	"gigatile/internal/largeimage"
	"gigatile/internal/logger"
	"gigatile/internal/metrics"
	"gigatile/internal/tile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	mode, err := cfg.Mode()
	if err != nil {
		log.Fatal("Invalid compute mode", zap.Error(err))
	}

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Map vips log levels to zap levels
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("Starting Gigatile server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("cache_tiles", cfg.CacheMemoryTiles),
		zap.String("mode", mode.String()),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	images := catalog.New(cfg.DataDir, catalog.Options{
		Capacity: cfg.CacheMemoryTiles,
		Mode:     mode,
		NewGenerator: func() generator.Generator {
			return generator.NewMandelbrot(cfg.MaxIterations, runtime.NumCPU())
		},
		Metrics: metrics.New(registry),
	}, log)
	if err := images.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}
	defer func() {
		if err := images.Close(); err != nil {
			log.Error("Failed to close images", zap.Error(err))
		}
	}()

	handlers := httphandlers.New(cfg, log, images, encoding.VipsEncoder{JPEGQuality: cfg.JPEGQuality})

	mux := http.NewServeMux()

	mux.HandleFunc("/api/images", handlers.HandleImages)
	mux.HandleFunc("/api/images/", handlers.HandleImageRoutes)
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	if cfg.WarmupLevels > 0 {
		go warmupTiles(cfg.WarmupLevels, cfg.WarmupWorkers, images, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

// warmupTiles loads the coarsest levels of every image. Levels that would not
// fit the image's cache are skipped.
func warmupTiles(levels int, workerLimit int, images *catalog.Catalog, log *zap.Logger) {
	infos := images.GetImages()
	if len(infos) == 0 {
		return
	}

	log.Info("Starting tile warmup", zap.Int("levels", levels), zap.Int("images", len(infos)))

	// Worker pool size configured via env (defaults to 1)
	if workerLimit <= 0 {
		workerLimit = 1
	}

	workerChan := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup

	for _, info := range infos {
		entry := images.GetImageByID(info.ID)
		if entry == nil {
			continue
		}

		wg.Add(1)
		workerChan <- struct{}{} // Acquire worker slot

		go func(entry *catalog.Entry) {
			defer wg.Done()
			defer func() { <-workerChan }() // Release worker slot

			err := entry.Do(func(img *largeimage.Image) error {
				return warmupImage(img, levels, log)
			})
			if err != nil {
				log.Warn("Warmup failed", zap.String("image", info.ID), zap.Error(err))
			}
		}(entry)
	}

	wg.Wait()
	log.Info("Tile warmup completed")
}

// warmupImage keeps going past tile failures and returns the first one.
func warmupImage(img *largeimage.Image, levels int, log *zap.Logger) error {
	budget := img.CacheCapacity()
	coarsest := img.LevelCount() - 1

	var firstErr error
	for l := coarsest; l >= 0 && l > coarsest-levels; l-- {
		n, err := img.LevelTiles(l)
		if err != nil {
			return err
		}
		if n*n > budget {
			break
		}
		budget -= n * n

		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				c := tile.Coordinate{X: uint32(x), Y: uint32(y), Level: uint32(l)}
				if _, err := img.GetTile(c); err != nil {
					log.Debug("Warmup tile failed", zap.String("image", img.ID()), zap.Stringer("tile", c), zap.Error(err))
					if firstErr == nil {
						firstErr = err
					}
				}
			}
		}
	}
	return firstErr
}

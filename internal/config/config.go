package config

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"gigatile/internal/tilestore"
)

type Config struct {
	Port             int    `env:"PORT" envDefault:"8080"`
	DataDir          string `env:"DATA_DIR" envDefault:"/data"`
	WarmupLevels     int    `env:"WARMUP_LEVELS" envDefault:"1"`
	WarmupWorkers    int    `env:"WARMUP_WORKERS" envDefault:"1"`
	CacheMemoryTiles int    `env:"CACHE_MEMORY_TILES" envDefault:"256"`
	ComputeMode      string `env:"COMPUTE_MODE" envDefault:"precomputed"`
	MaxIterations    int    `env:"MAX_ITERATIONS" envDefault:"256"`
	VipsMaxCacheMB   int    `env:"VIPS_MAX_CACHE_MB" envDefault:"256"`
	VipsConcurrency  int    `env:"VIPS_CONCURRENCY" envDefault:"1"`
	JPEGQuality      int    `env:"JPEG_QUALITY" envDefault:"82"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigin    string `env:"ALLOWED_ORIGIN" envDefault:""`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Mode parses ComputeMode.
func (c *Config) Mode() (tilestore.Mode, error) {
	return tilestore.ParseMode(c.ComputeMode)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigatile/internal/tilestore"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 256, cfg.CacheMemoryTiles)
	assert.Equal(t, "info", cfg.LogLevel)

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, tilestore.Precomputed, mode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_MEMORY_TILES", "32")
	t.Setenv("COMPUTE_MODE", "procedural")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 32, cfg.CacheMemoryTiles)

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, tilestore.Procedural, mode)
}

func TestLoadRejectsMalformedNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "eighty")

	_, err := Load()
	assert.Error(t, err)
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gigatile/internal/backingstore"
	"gigatile/internal/largeimage"
	"gigatile/internal/tile"
)

// openWarmupImage opens an 8x8 store with 4x4 tiles and a 1 pixel border that
// holds every tile except the ones in missing.
func openWarmupImage(t *testing.T, capacity int, missing ...tile.Coordinate) *largeimage.Image {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warmup.gtl")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := backingstore.NewWriter(f, 8, 4, 1)
	require.NoError(t, err)
	all := []tile.Coordinate{
		{X: 0, Y: 0, Level: 0}, {X: 1, Y: 0, Level: 0},
		{X: 0, Y: 1, Level: 0}, {X: 1, Y: 1, Level: 0},
		{X: 0, Y: 0, Level: 1},
	}
	for _, c := range all {
		if contains(missing, c) {
			continue
		}
		require.NoError(t, w.WriteTile(c, make([]byte, 6*6*4)))
	}
	require.NoError(t, w.Finish())
	require.NoError(t, f.Close())

	img, err := largeimage.Open(path, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func contains(coords []tile.Coordinate, c tile.Coordinate) bool {
	for _, other := range coords {
		if other == c {
			return true
		}
	}
	return false
}

func TestWarmupImage(t *testing.T) {
	img := openWarmupImage(t, 8)

	require.NoError(t, warmupImage(img, 2, zaptest.NewLogger(t)))
	assert.Equal(t, 5, img.CacheLen())
}

func TestWarmupImageStopsAtCapacity(t *testing.T) {
	img := openWarmupImage(t, 2)

	// Level 1 fits, the four tiles of level 0 do not.
	require.NoError(t, warmupImage(img, 2, zaptest.NewLogger(t)))
	assert.Equal(t, []tile.Coordinate{{X: 0, Y: 0, Level: 1}}, img.Cached())
}

func TestWarmupImageReportsFirstFailure(t *testing.T) {
	missing := tile.Coordinate{X: 1, Y: 0, Level: 0}
	img := openWarmupImage(t, 8, missing)

	err := warmupImage(img, 2, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, tile.ErrMissingIndexEntry)
	assert.Equal(t, 4, img.CacheLen(), "remaining tiles are still warmed")
	assert.NotContains(t, img.Cached(), missing)
}

package pyramid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigatile/internal/tile"
)

func TestLevelLayout(t *testing.T) {
	l, err := New(4096, 512, 1)
	require.NoError(t, err)

	assert.Equal(t, []uint32{8, 4, 2, 1}, l.Levels())
	assert.Equal(t, 4, l.LevelCount())

	n, err := l.LevelTiles(0)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	n, err = l.LevelTiles(3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, uint32(514), l.RealTileDim())
	assert.Equal(t, 514*514*4, l.TileBytes())
}

func TestLevelTilesOutOfRange(t *testing.T) {
	l, err := New(4096, 512, 0)
	require.NoError(t, err)

	_, err = l.LevelTiles(4)
	assert.ErrorIs(t, err, tile.ErrOutOfRange)

	_, err = l.LevelTiles(-1)
	assert.ErrorIs(t, err, tile.ErrOutOfRange)
}

func TestLevelLayoutNonPowerOfTwo(t *testing.T) {
	l, err := New(3000, 512, 0)
	require.NoError(t, err)

	// 3000, 1500, 750 remain >= 512; 375 does not.
	assert.Equal(t, []uint32{5, 2, 1}, l.Levels())
}

func TestLayoutStrictlyDecreasing(t *testing.T) {
	l, err := New(1<<20, 256, 2)
	require.NoError(t, err)

	levels := l.Levels()
	for i := 1; i < len(levels); i++ {
		assert.Less(t, levels[i], levels[i-1])
	}
}

func TestNewRejectsBadDimensions(t *testing.T) {
	_, err := New(256, 0, 0)
	assert.Error(t, err)

	_, err = New(100, 256, 0)
	assert.Error(t, err)
}

func TestNewRejectsOversizedTiles(t *testing.T) {
	for _, tc := range []struct {
		name     string
		inputDim uint32
		tileDim  uint32
		overlap  uint32
	}{
		{"overlap wraps uint32", 4, 2, 0x7FFFFFFF},
		{"overlap too large", 4, 2, 1 << 23},
		{"tile too large", 1 << 20, MaxRealTileDim + 2, 0},
		{"border pushes past limit", 1 << 20, MaxRealTileDim, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.inputDim, tc.tileDim, tc.overlap)
			assert.Error(t, err)
		})
	}

	l, err := New(1<<20, MaxRealTileDim-2, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxRealTileDim), l.RealTileDim())
}

func TestCheck(t *testing.T) {
	l, err := New(1024, 256, 1)
	require.NoError(t, err)

	assert.NoError(t, l.Check(tile.Coordinate{X: 3, Y: 3, Level: 0}))
	assert.NoError(t, l.Check(tile.Coordinate{X: 0, Y: 0, Level: 2}))
	assert.ErrorIs(t, l.Check(tile.Coordinate{X: 4, Y: 0, Level: 0}), tile.ErrOutOfRange)
	assert.ErrorIs(t, l.Check(tile.Coordinate{X: 0, Y: 2, Level: 1}), tile.ErrOutOfRange)
	assert.ErrorIs(t, l.Check(tile.Coordinate{X: 0, Y: 0, Level: 3}), tile.ErrOutOfRange)
}

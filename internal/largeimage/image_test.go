package largeimage

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gigatile/internal/backingstore"
	"gigatile/internal/cache"
	"gigatile/internal/generator/generatortest"
	"gigatile/internal/tile"
	"gigatile/internal/tilestore"
)

const testTileBytes = 6 * 6 * 4

var (
	tileA = tile.Coordinate{X: 0, Y: 0, Level: 0}
	tileB = tile.Coordinate{X: 1, Y: 0, Level: 0}
	tileC = tile.Coordinate{X: 0, Y: 1, Level: 0}
	tileD = tile.Coordinate{X: 1, Y: 1, Level: 0}
	tileT = tile.Coordinate{X: 0, Y: 0, Level: 1}
)

func payloadFor(c tile.Coordinate) []byte {
	p := make([]byte, testTileBytes)
	for i := range p {
		p[i] = byte(int(c.X)*31 + int(c.Y)*17 + int(c.Level)*101 + i)
	}
	return p
}

// writeStore creates an 8x8 image with 4x4 tiles and a 1 pixel border holding
// payloads for coords.
func writeStore(t *testing.T, coords ...tile.Coordinate) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.gtl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := backingstore.NewWriter(f, 8, 4, 1)
	require.NoError(t, err)
	for _, c := range coords {
		require.NoError(t, w.WriteTile(c, payloadFor(c)))
	}
	require.NoError(t, w.Finish())
	return path
}

// writeRawStore lays a store out by hand: header, body, then a footer holding
// records. The index pointer is set to follow body.
func writeRawStore(t *testing.T, h backingstore.Header, body []byte, records ...backingstore.Record) string {
	t.Helper()

	var buf bytes.Buffer
	h.IndexOffset = uint64(backingstore.HeaderSize + len(body))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, h))
	buf.Write(body)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(records))))
	for _, rec := range records {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, rec))
	}

	path := filepath.Join(t.TempDir(), "raw.gtl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func openImage(t *testing.T, capacity int, opts ...Option) *Image {
	t.Helper()
	path := writeStore(t, tileA, tileB, tileC, tileD, tileT)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	img, err := Open(path, capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestOpenAccessors(t *testing.T) {
	img := openImage(t, 4, WithID("sample"))

	assert.Equal(t, "sample", img.ID())
	assert.Equal(t, 2, img.LevelCount())
	assert.Equal(t, uint32(8), img.InputDim())
	assert.Equal(t, uint32(4), img.TileDim())
	assert.Equal(t, uint32(1), img.Overlap())
	assert.Equal(t, uint32(6), img.RealTileDim())
	assert.Equal(t, 5, img.IndexedTiles())
	assert.Equal(t, tilestore.Precomputed, img.ComputeMode())

	n, err := img.LevelTiles(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = img.LevelTiles(2)
	assert.ErrorIs(t, err, tile.ErrOutOfRange)
}

func TestOpenGeneratesID(t *testing.T) {
	a := openImage(t, 1)
	b := openImage(t, 1)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestOpenIncompleteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.gtl")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := backingstore.NewWriter(f, 8, 4, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteTile(tileA, payloadFor(tileA)))
	require.NoError(t, f.Close())

	_, err = Open(path, 4)
	assert.ErrorIs(t, err, tile.ErrFatalLoad)
}

func TestOpenRejectsOversizedTiles(t *testing.T) {
	for _, overlap := range []uint32{0x7FFFFFFF, 1 << 23} {
		path := writeRawStore(t, backingstore.Header{InputDim: 4, TileDim: 2, Overlap: overlap}, nil)
		_, err := Open(path, 2)
		assert.ErrorIs(t, err, tile.ErrFatalLoad, "overlap %d", overlap)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.gtl"), 4)
	assert.ErrorIs(t, err, tile.ErrFatalLoad)
}

func TestOpenRejectsZeroCapacity(t *testing.T) {
	path := writeStore(t, tileA)
	_, err := Open(path, 0)
	assert.Error(t, err)
}

func TestGetTilePrecomputedRoundTrip(t *testing.T) {
	img := openImage(t, 4)

	for _, c := range []tile.Coordinate{tileA, tileD, tileT} {
		got, err := img.GetTile(c)
		require.NoError(t, err)
		assert.Equal(t, c, got.Coord)
		assert.Equal(t, payloadFor(c), got.Pixels)
	}
}

func TestGetTileBuffersAreIndependent(t *testing.T) {
	img := openImage(t, 4)

	first, err := img.GetTile(tileA)
	require.NoError(t, err)
	_, err = img.GetTile(tileB)
	require.NoError(t, err)

	assert.Equal(t, payloadFor(tileA), first.Pixels)
	assert.Len(t, first.Pixels, int(img.RealTileDim()*img.RealTileDim()*4))
}

func TestGetTileOutOfRange(t *testing.T) {
	img := openImage(t, 4)

	for _, c := range []tile.Coordinate{
		{X: 2, Y: 0, Level: 0},
		{X: 0, Y: 2, Level: 0},
		{X: 1, Y: 0, Level: 1},
		{X: 0, Y: 0, Level: 2},
	} {
		_, err := img.GetTile(c)
		assert.ErrorIs(t, err, tile.ErrOutOfRange, "coordinate %s", c)
	}
	assert.Equal(t, 0, img.CacheLen())
}

func TestGetTileMissingIndexEntry(t *testing.T) {
	path := writeStore(t, tileA, tileT)
	img, err := Open(path, 4)
	require.NoError(t, err)
	defer img.Close()

	_, err = img.GetTile(tileA)
	require.NoError(t, err)

	_, err = img.GetTile(tileB)
	assert.ErrorIs(t, err, tile.ErrMissingIndexEntry)
	assert.Equal(t, "missing_index_entry", ErrorKind(err))
	assert.Equal(t, []tile.Coordinate{tileA}, img.Cached(), "failed fetch must not touch the cache")

	// The session keeps working after a per-tile failure.
	got, err := img.GetTile(tileT)
	require.NoError(t, err)
	assert.Equal(t, payloadFor(tileT), got.Pixels)
}

func TestGetTileReadFailure(t *testing.T) {
	body := append(payloadFor(tileA), payloadFor(tileD)...)
	footer := int64(backingstore.HeaderSize + len(body))
	path := writeRawStore(t, backingstore.Header{InputDim: 8, TileDim: 4, Overlap: 1}, body,
		backingstore.Record{Coord: tileA, Offset: backingstore.HeaderSize},
		backingstore.Record{Coord: tileB, Offset: 1 << 20},
		backingstore.Record{Coord: tileC, Offset: footer},
		backingstore.Record{Coord: tileD, Offset: backingstore.HeaderSize + testTileBytes},
	)

	img, err := Open(path, 4)
	require.NoError(t, err)
	defer img.Close()

	_, err = img.GetTile(tileA)
	require.NoError(t, err)

	// tileB points past the end of the file, tileC into the short footer.
	for _, c := range []tile.Coordinate{tileB, tileC} {
		_, err = img.GetTile(c)
		assert.ErrorIs(t, err, tile.ErrTileRead, "coordinate %s", c)
		assert.Equal(t, "tile_read", ErrorKind(err))
	}
	assert.Equal(t, []tile.Coordinate{tileA}, img.Cached(), "failed reads must not touch the cache")

	got, err := img.GetTile(tileD)
	require.NoError(t, err)
	assert.Equal(t, payloadFor(tileD), got.Pixels)
	assert.Equal(t, 2, img.CacheLen())
}

func TestGetTileLRUSequence(t *testing.T) {
	var evicted []tile.Coordinate
	img := openImage(t, 2, WithOnEvict(func(tl *cache.Tile, reason cache.Reason) {
		if reason == cache.ReasonCapacity {
			evicted = append(evicted, tl.Coord)
		}
	}))

	for _, c := range []tile.Coordinate{tileA, tileB} {
		_, err := img.GetTile(c)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []tile.Coordinate{tileA, tileB}, img.Cached())

	_, err := img.GetTile(tileC)
	require.NoError(t, err)
	assert.ElementsMatch(t, []tile.Coordinate{tileB, tileC}, img.Cached())

	_, err = img.GetTile(tileA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []tile.Coordinate{tileC, tileA}, img.Cached())
	assert.Equal(t, []tile.Coordinate{tileA, tileB}, evicted)
}

func TestGetTileRepeatIsHit(t *testing.T) {
	gen := &generatortest.Fake{}
	img := openImage(t, 2, WithGenerator(gen), WithComputeMode(tilestore.Procedural))

	first, err := img.GetTile(tileA)
	require.NoError(t, err)
	second, err := img.GetTile(tileA)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, gen.Computes, "second request must be served from the cache")
}

func TestSetComputeModeFlushes(t *testing.T) {
	gen := &generatortest.Fake{}
	var cleared int
	img := openImage(t, 4, WithGenerator(gen), WithOnEvict(func(_ *cache.Tile, reason cache.Reason) {
		if reason == cache.ReasonClear {
			cleared++
		}
	}))

	for _, c := range []tile.Coordinate{tileA, tileB, tileT} {
		_, err := img.GetTile(c)
		require.NoError(t, err)
	}
	require.Equal(t, 3, img.CacheLen())
	require.Zero(t, gen.Computes)

	img.SetComputeMode(tilestore.Procedural)
	assert.Equal(t, tilestore.Procedural, img.ComputeMode())
	assert.Equal(t, 0, img.CacheLen())
	assert.Equal(t, 3, cleared)

	got, err := img.GetTile(tileA)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.Computes, "previously cached tile is a fresh procedural miss")
	assert.NotEqual(t, payloadFor(tileA), got.Pixels)
}

func TestSetComputeModeSameModeKeepsCache(t *testing.T) {
	img := openImage(t, 4)

	_, err := img.GetTile(tileA)
	require.NoError(t, err)

	img.SetComputeMode(tilestore.Precomputed)
	assert.Equal(t, 1, img.CacheLen())
}

func TestProceduralDeterministic(t *testing.T) {
	img := openImage(t, 1, WithGenerator(&generatortest.Fake{}), WithComputeMode(tilestore.Procedural))

	first, err := img.GetTile(tileD)
	require.NoError(t, err)
	want := append([]byte(nil), first.Pixels...)

	// Evict tileD, then fetch it again.
	_, err = img.GetTile(tileA)
	require.NoError(t, err)
	again, err := img.GetTile(tileD)
	require.NoError(t, err)

	assert.Equal(t, want, again.Pixels)
}

func TestGeneratorFailureDoesNotCache(t *testing.T) {
	gen := &generatortest.Fake{FailCompute: true}
	img := openImage(t, 4, WithGenerator(gen), WithComputeMode(tilestore.Procedural))

	_, err := img.GetTile(tileA)
	assert.ErrorIs(t, err, tile.ErrGeneratorFailure)
	assert.ErrorIs(t, err, generatortest.ErrInjected)
	assert.Equal(t, 0, img.CacheLen())

	gen.FailCompute = false
	_, err = img.GetTile(tileA)
	require.NoError(t, err)
	assert.Equal(t, 1, img.CacheLen())
}

func TestIndependentInstances(t *testing.T) {
	a := openImage(t, 2)
	b := openImage(t, 2, WithGenerator(&generatortest.Fake{}))

	_, err := a.GetTile(tileA)
	require.NoError(t, err)
	b.SetComputeMode(tilestore.Procedural)
	_, err = b.GetTile(tileB)
	require.NoError(t, err)

	assert.Equal(t, []tile.Coordinate{tileA}, a.Cached())
	assert.Equal(t, tilestore.Precomputed, a.ComputeMode())
	assert.Equal(t, []tile.Coordinate{tileB}, b.Cached())
}

func TestCloseReleasesTiles(t *testing.T) {
	path := writeStore(t, tileA, tileB)
	var released []tile.Coordinate
	img, err := Open(path, 4, WithOnEvict(func(tl *cache.Tile, _ cache.Reason) {
		released = append(released, tl.Coord)
	}))
	require.NoError(t, err)

	_, err = img.GetTile(tileB)
	require.NoError(t, err)
	_, err = img.GetTile(tileA)
	require.NoError(t, err)

	require.NoError(t, img.Close())
	assert.Equal(t, []tile.Coordinate{tileA, tileB}, released)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "out_of_range", ErrorKind(tile.ErrOutOfRange))
	assert.Equal(t, "generator_failure", ErrorKind(tile.ErrGeneratorFailure))
	assert.Equal(t, "tile_read", ErrorKind(tile.ErrTileRead))
	assert.Equal(t, "fatal_load", ErrorKind(tile.ErrFatalLoad))
	assert.Equal(t, "other", ErrorKind(os.ErrClosed))
}

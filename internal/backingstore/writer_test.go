package backingstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigatile/internal/tile"
)

func createStore(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "image.gtl"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func payload(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

func TestWriterRoundTrip(t *testing.T) {
	f := createStore(t)

	w, err := NewWriter(f, 8, 4, 1)
	require.NoError(t, err)

	tileBytes := 6 * 6 * 4
	a := tile.Coordinate{X: 1, Y: 0, Level: 0}
	b := tile.Coordinate{X: 0, Y: 0, Level: 1}
	require.NoError(t, w.WriteTile(b, payload(tileBytes, 7)))
	require.NoError(t, w.WriteTile(a, payload(tileBytes, 3)))
	require.NoError(t, w.Finish())

	h, err := ReadHeader(f)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), h.InputDim)
	assert.Equal(t, uint32(4), h.TileDim)
	assert.Equal(t, uint32(1), h.Overlap)

	info, err := f.Stat()
	require.NoError(t, err)

	records, err := ReadIndex(f, h.IndexOffset, info.Size())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, a, records[0].Coord, "records are stored in coordinate order")
	assert.Equal(t, b, records[1].Coord)

	got := make([]byte, tileBytes)
	_, err = f.Seek(records[0].Offset, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(f, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload(tileBytes, 3), got))
}

func TestUnfinishedStoreIsIncomplete(t *testing.T) {
	f := createStore(t)

	w, err := NewWriter(f, 8, 4, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteTile(tile.Coordinate{}, payload(4*4*4, 0)))

	_, err = ReadHeader(f)
	assert.ErrorIs(t, err, tile.ErrFatalLoad)
}

func TestReadHeaderTruncated(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, tile.ErrFatalLoad)
}

func TestReadIndexRejectsOversizedCount(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, Header{InputDim: 8, TileDim: 4, IndexOffset: HeaderSize}))
	require.NoError(t, writeIndex(&buf, nil))

	data := buf.Bytes()
	// Claim a thousand records with none present.
	byteOrder.PutUint64(data[HeaderSize:], 1000)

	_, err := ReadIndex(bytes.NewReader(data), HeaderSize, int64(len(data)))
	assert.ErrorIs(t, err, tile.ErrFatalLoad)
}

func TestReadIndexOffsetOutsideStore(t *testing.T) {
	data := make([]byte, HeaderSize)
	_, err := ReadIndex(bytes.NewReader(data), 4096, int64(len(data)))
	assert.ErrorIs(t, err, tile.ErrFatalLoad)
}

func TestWriterRejectsWrongPayloadSize(t *testing.T) {
	f := createStore(t)

	w, err := NewWriter(f, 8, 4, 0)
	require.NoError(t, err)
	assert.Error(t, w.WriteTile(tile.Coordinate{}, make([]byte, 3)))
}

func TestWriterReadTile(t *testing.T) {
	f := createStore(t)

	w, err := NewWriter(f, 8, 4, 0)
	require.NoError(t, err)
	c := tile.Coordinate{X: 1, Y: 1}
	require.NoError(t, w.WriteTile(c, payload(64, 9)))

	got := make([]byte, 64)
	require.NoError(t, w.ReadTile(c, got))
	assert.Equal(t, payload(64, 9), got)

	err = w.ReadTile(tile.Coordinate{X: 0, Y: 1}, got)
	assert.ErrorIs(t, err, tile.ErrMissingIndexEntry)
	assert.Equal(t, 1, w.TileCount())
}

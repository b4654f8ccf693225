package backingstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"gigatile/internal/tile"
)

// Writer appends tile payloads to a new store and finalizes it with the index
// footer. Until Finish succeeds the header carries a zero index pointer, so an
// interrupted write is never mistaken for a complete store.
type Writer struct {
	f         io.ReadWriteSeeker
	tileBytes int
	offsets   map[tile.Coordinate]int64
	finished  bool
}

func NewWriter(f io.ReadWriteSeeker, inputDim, tileDim, overlap uint32) (*Writer, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start: %w", err)
	}
	h := Header{InputDim: inputDim, TileDim: tileDim, Overlap: overlap}
	if err := writeHeader(f, h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	realTileDim := int(tileDim + 2*overlap)
	return &Writer{
		f:         f,
		tileBytes: realTileDim * realTileDim * 4,
		offsets:   make(map[tile.Coordinate]int64),
	}, nil
}

// WriteTile appends payload for c. Writing the same coordinate twice keeps the
// most recent payload.
func (w *Writer) WriteTile(c tile.Coordinate, payload []byte) error {
	if w.finished {
		return fmt.Errorf("writer already finished")
	}
	if len(payload) != w.tileBytes {
		return fmt.Errorf("tile %s has %d bytes, want %d", c, len(payload), w.tileBytes)
	}

	pos, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	if _, err := w.f.Write(payload); err != nil {
		return fmt.Errorf("write tile %s: %w", c, err)
	}
	w.offsets[c] = pos
	return nil
}

// ReadTile reads back a payload written earlier into dst.
func (w *Writer) ReadTile(c tile.Coordinate, dst []byte) error {
	pos, ok := w.offsets[c]
	if !ok {
		return fmt.Errorf("tile %s: %w", c, tile.ErrMissingIndexEntry)
	}
	if _, err := w.f.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek tile %s: %w", c, err)
	}
	if _, err := io.ReadFull(w.f, dst[:w.tileBytes]); err != nil {
		return fmt.Errorf("read tile %s: %w", c, err)
	}
	return nil
}

// Finish writes the index footer and patches the header pointer.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}

	records := make([]Record, 0, len(w.offsets))
	for c, off := range w.offsets {
		records = append(records, Record{Coord: c, Offset: off})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Coord.Less(records[j].Coord) })

	indexOffset, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	if err := writeIndex(w.f, records); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	if _, err := w.f.Seek(indexOffsetPos, io.SeekStart); err != nil {
		return fmt.Errorf("seek index pointer: %w", err)
	}
	if err := binary.Write(w.f, byteOrder, uint64(indexOffset)); err != nil {
		return fmt.Errorf("patch index pointer: %w", err)
	}

	w.finished = true
	return nil
}

// TileCount is the number of distinct coordinates written so far.
func (w *Writer) TileCount() int {
	return len(w.offsets)
}

// Package backingstore reads and writes the on-disk layout of a large image:
// a fixed header, raw tile payloads, and an index footer located by the header.
// All integers are little endian.
package backingstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"gigatile/internal/tile"
)

const (
	// HeaderSize is inputDim:u32, tileDim:u32, overlap:u32, indexOffset:u64.
	HeaderSize = 4 + 4 + 4 + 8

	// RecordSize is x:u32, y:u32, level:u32, offset:i64.
	RecordSize = 4 + 4 + 4 + 8

	// indexOffsetPos is the position of the index pointer within the header.
	indexOffsetPos = 12
)

var byteOrder = binary.LittleEndian

type Header struct {
	InputDim    uint32
	TileDim     uint32
	Overlap     uint32
	IndexOffset uint64
}

// Record maps one tile coordinate to the byte offset of its payload.
type Record struct {
	Coord  tile.Coordinate
	Offset int64
}

type rawRecord struct {
	X, Y, Level uint32
	Offset      int64
}

// ReadHeader reads the header from the start of r. A zero index pointer means the
// store was never finalized and is reported as tile.ErrFatalLoad.
func ReadHeader(r io.ReadSeeker) (Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("seek header: %v: %w", err, tile.ErrFatalLoad)
	}

	var h Header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return Header{}, fmt.Errorf("read header: %v: %w", err, tile.ErrFatalLoad)
	}
	if h.IndexOffset == 0 {
		return Header{}, fmt.Errorf("incomplete store, index pointer is zero: %w", tile.ErrFatalLoad)
	}
	return h, nil
}

func writeHeader(w io.Writer, h Header) error {
	return binary.Write(w, byteOrder, &h)
}

// ReadIndex reads the footer at offset. size is the total length of the store and
// bounds the record count so a corrupt count cannot trigger a huge allocation.
func ReadIndex(r io.ReadSeeker, offset uint64, size int64) ([]Record, error) {
	if offset < HeaderSize || int64(offset)+8 > size {
		return nil, fmt.Errorf("index offset %d outside store of %d bytes: %w", offset, size, tile.ErrFatalLoad)
	}
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek index: %v: %w", err, tile.ErrFatalLoad)
	}

	var count uint64
	if err := binary.Read(r, byteOrder, &count); err != nil {
		return nil, fmt.Errorf("read tile count: %v: %w", err, tile.ErrFatalLoad)
	}
	available := uint64(size-int64(offset)-8) / RecordSize
	if count > available {
		return nil, fmt.Errorf("index declares %d tiles but only %d fit: %w", count, available, tile.ErrFatalLoad)
	}

	raw := make([]rawRecord, count)
	if err := binary.Read(r, byteOrder, raw); err != nil {
		return nil, fmt.Errorf("read index records: %v: %w", err, tile.ErrFatalLoad)
	}

	records := make([]Record, len(raw))
	for i, rr := range raw {
		records[i] = Record{
			Coord:  tile.Coordinate{X: rr.X, Y: rr.Y, Level: rr.Level},
			Offset: rr.Offset,
		}
	}
	return records, nil
}

func writeIndex(w io.Writer, records []Record) error {
	if err := binary.Write(w, byteOrder, uint64(len(records))); err != nil {
		return err
	}
	raw := make([]rawRecord, len(records))
	for i, rec := range records {
		raw[i] = rawRecord{X: rec.Coord.X, Y: rec.Coord.Y, Level: rec.Coord.Level, Offset: rec.Offset}
	}
	return binary.Write(w, byteOrder, raw)
}

// Package tileindex maps tile coordinates to payload offsets in a backing store.
package tileindex

import (
	"io"

	"gigatile/internal/backingstore"
	"gigatile/internal/tile"
)

// Index is immutable after construction.
type Index struct {
	offsets map[tile.Coordinate]int64
}

// Load reads the footer at indexOffset. size is the total byte length of the store.
func Load(r io.ReadSeeker, indexOffset uint64, size int64) (*Index, error) {
	records, err := backingstore.ReadIndex(r, indexOffset, size)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// FromRecords builds an index from records. A coordinate listed twice keeps its
// last offset.
func FromRecords(records []backingstore.Record) *Index {
	offsets := make(map[tile.Coordinate]int64, len(records))
	for _, rec := range records {
		offsets[rec.Coord] = rec.Offset
	}
	return &Index{offsets: offsets}
}

// Lookup returns the payload offset of c and whether the index contains it.
func (i *Index) Lookup(c tile.Coordinate) (int64, bool) {
	off, ok := i.offsets[c]
	return off, ok
}

func (i *Index) Len() int {
	return len(i.offsets)
}

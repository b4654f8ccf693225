// Package cache holds decoded tiles under a fixed capacity with least recently
// used eviction driven by a logical clock.
package cache

import (
	"fmt"
	"sort"

	"gigatile/internal/tile"
)

// Tile is one resident RGBA payload.
type Tile struct {
	Coord  tile.Coordinate
	Pixels []byte

	recency uint64
}

// Recency is the clock value of the last Get or Put that touched the tile.
func (t *Tile) Recency() uint64 {
	return t.recency
}

type Reason int

const (
	// ReasonCapacity marks a tile removed to make room for a new one.
	ReasonCapacity Reason = iota
	// ReasonClear marks a tile removed by Clear.
	ReasonClear
)

func (r Reason) String() string {
	if r == ReasonClear {
		return "clear"
	}
	return "capacity"
}

// EvictFunc releases resources tied to a tile leaving the cache.
type EvictFunc func(t *Tile, reason Reason)

// Cache is not safe for concurrent use. Every Get and Put advances the clock, so
// recency stamps are unique and eviction order depends only on the request order.
type Cache struct {
	capacity int
	clock    uint64
	items    map[tile.Coordinate]*Tile
	onEvict  EvictFunc
}

func New(capacity int, onEvict EvictFunc) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[tile.Coordinate]*Tile, capacity),
		onEvict:  onEvict,
	}, nil
}

func (c *Cache) Get(coord tile.Coordinate) (*Tile, bool) {
	c.clock++
	t, ok := c.items[coord]
	if !ok {
		return nil, false
	}
	t.recency = c.clock
	return t, true
}

// Put inserts pixels for coord, evicting the least recently used tile first when
// the cache is full. Replacing a resident coordinate never evicts.
func (c *Cache) Put(coord tile.Coordinate, pixels []byte) *Tile {
	c.clock++

	if t, ok := c.items[coord]; ok {
		t.Pixels = pixels
		t.recency = c.clock
		return t
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	t := &Tile{Coord: coord, Pixels: pixels, recency: c.clock}
	c.items[coord] = t
	return t
}

// evictOldest removes the tile with the smallest recency. Ties go to the smallest
// coordinate in level, row, column order.
func (c *Cache) evictOldest() {
	var oldest *Tile
	for _, t := range c.items {
		if oldest == nil ||
			t.recency < oldest.recency ||
			(t.recency == oldest.recency && t.Coord.Less(oldest.Coord)) {
			oldest = t
		}
	}
	if oldest == nil {
		return
	}

	delete(c.items, oldest.Coord)
	if c.onEvict != nil {
		c.onEvict(oldest, ReasonCapacity)
	}
}

// Clear drops every tile and resets the clock.
func (c *Cache) Clear() {
	if c.onEvict != nil {
		for _, coord := range c.Coordinates() {
			c.onEvict(c.items[coord], ReasonClear)
		}
	}
	c.items = make(map[tile.Coordinate]*Tile, c.capacity)
	c.clock = 0
}

func (c *Cache) Has(coord tile.Coordinate) bool {
	_, ok := c.items[coord]
	return ok
}

func (c *Cache) Len() int {
	return len(c.items)
}

func (c *Cache) Capacity() int {
	return c.capacity
}

// Clock is the current logical time.
func (c *Cache) Clock() uint64 {
	return c.clock
}

// Coordinates lists resident tiles in level, row, column order.
func (c *Cache) Coordinates() []tile.Coordinate {
	out := make([]tile.Coordinate, 0, len(c.items))
	for coord := range c.items {
		out = append(out, coord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

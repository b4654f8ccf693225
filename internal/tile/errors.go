package tile

import "errors"

var (
	// ErrFatalLoad means the backing store is missing, truncated or incomplete.
	ErrFatalLoad = errors.New("fatal load")

	// ErrOutOfRange means a coordinate lies outside the pyramid layout.
	ErrOutOfRange = errors.New("tile coordinate out of range")

	// ErrMissingIndexEntry means the backing store has no payload for a coordinate.
	ErrMissingIndexEntry = errors.New("missing index entry")

	// ErrGeneratorFailure wraps errors reported by a procedural generator.
	ErrGeneratorFailure = errors.New("generator failure")

	// ErrTileRead means a precomputed payload could not be read in full.
	ErrTileRead = errors.New("tile read failed")
)

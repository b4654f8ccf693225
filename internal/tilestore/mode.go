package tilestore

import (
	"fmt"
	"strings"
)

// Mode selects where tile pixels come from.
type Mode int

const (
	// Precomputed reads payloads from the backing store.
	Precomputed Mode = iota
	// Procedural synthesizes payloads with a generator.
	Procedural
)

func (m Mode) String() string {
	switch m {
	case Precomputed:
		return "precomputed"
	case Procedural:
		return "procedural"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "precomputed", "":
		return Precomputed, nil
	case "procedural":
		return Procedural, nil
	default:
		return 0, fmt.Errorf("unknown compute mode: %s (supported: precomputed, procedural)", s)
	}
}

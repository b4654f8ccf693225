package tile

import "fmt"

// Coordinate addresses one tile of the pyramid. Level 0 is the finest level.
type Coordinate struct {
	X     uint32
	Y     uint32
	Level uint32
}

// Less orders coordinates level-major, then by row, then by column.
func (c Coordinate) Less(other Coordinate) bool {
	if c.Level != other.Level {
		return c.Level < other.Level
	}
	if c.Y != other.Y {
		return c.Y < other.Y
	}
	return c.X < other.X
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Level, c.X, c.Y)
}

// Package quadtree provides the quadtree primitives of the terrain
// hierarchy: node locations, dense per-level arrays, level-major iterators
// and a handle-addressed node arena.
package quadtree

import "fmt"

// Child slots. A node's children are always created and destroyed together.
const (
	LB = iota // left bottom
	RB        // right bottom
	LT        // left top
	RT        // right top
)

// Location identifies a node in a complete quadtree.
type Location struct {
	Level int
	Horz  int
	Vert  int
}

// Root is the location of the root node.
var Root = Location{}

// Child returns the location of the child in the given slot.
func (l Location) Child(slot int) Location {
	return Location{
		Level: l.Level + 1,
		Horz:  l.Horz*2 + (slot & 1),
		Vert:  l.Vert*2 + (slot >> 1),
	}
}

// Parent returns the location of the parent node. The root is its own
// parent.
func (l Location) Parent() Location {
	if l.Level == 0 {
		return l
	}
	return Location{Level: l.Level - 1, Horz: l.Horz >> 1, Vert: l.Vert >> 1}
}

// Slot returns the slot this node occupies in its parent.
func (l Location) Slot() int {
	return (l.Horz & 1) | (l.Vert&1)<<1
}

// IsValid reports whether the location lies within a hierarchy of
// numLevels levels.
func (l Location) IsValid(numLevels int) bool {
	if l.Level < 0 || l.Level >= numLevels {
		return false
	}
	n := 1 << l.Level
	return l.Horz >= 0 && l.Horz < n && l.Vert >= 0 && l.Vert < n
}

func (l Location) String() string {
	return fmt.Sprintf("(%d, %d, %d)", l.Level, l.Horz, l.Vert)
}

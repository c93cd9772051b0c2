package quadtree

// HierarchyArray stores one value per node of a complete quadtree.
// Level l holds (1<<l)² values in row-major order.
type HierarchyArray[T any] struct {
	levels [][]T
}

// NewHierarchyArray allocates storage for numLevels levels.
func NewHierarchyArray[T any](numLevels int) *HierarchyArray[T] {
	a := &HierarchyArray[T]{levels: make([][]T, numLevels)}
	for level := range a.levels {
		n := 1 << level
		a.levels[level] = make([]T, n*n)
	}
	return a
}

// Levels returns the number of levels.
func (a *HierarchyArray[T]) Levels() int {
	return len(a.levels)
}

// At returns a pointer to the value for loc. It panics if loc is outside
// the hierarchy.
func (a *HierarchyArray[T]) At(loc Location) *T {
	return &a.levels[loc.Level][loc.Horz+loc.Vert<<loc.Level]
}

// Get returns the value for loc.
func (a *HierarchyArray[T]) Get(loc Location) T {
	return *a.At(loc)
}

// Set stores v for loc.
func (a *HierarchyArray[T]) Set(loc Location, v T) {
	*a.At(loc) = v
}

// Iterator visits every node of a hierarchy level by level, starting at
// the root. Within a level nodes are visited row by row.
type Iterator struct {
	loc       Location
	numLevels int
}

// NewIterator returns an iterator over a hierarchy of numLevels levels.
func NewIterator(numLevels int) *Iterator {
	return &Iterator{numLevels: numLevels}
}

// Valid reports whether the iterator points at a node.
func (it *Iterator) Valid() bool {
	return it.loc.Level < it.numLevels
}

// Location returns the current node.
func (it *Iterator) Location() Location {
	return it.loc
}

// Next advances to the following node.
func (it *Iterator) Next() {
	it.loc.Horz++
	if it.loc.Horz < 1<<it.loc.Level {
		return
	}
	it.loc.Horz = 0
	it.loc.Vert++
	if it.loc.Vert < 1<<it.loc.Level {
		return
	}
	it.loc.Vert = 0
	it.loc.Level++
}

// ReverseIterator visits levels from numLevels-1 up to the root, so every
// node is visited after all nodes of the finer levels.
type ReverseIterator struct {
	loc Location
}

// NewReverseIterator returns an iterator over levels numLevels-1 down to 0.
func NewReverseIterator(numLevels int) *ReverseIterator {
	return &ReverseIterator{loc: Location{Level: numLevels - 1}}
}

// Valid reports whether the iterator points at a node.
func (it *ReverseIterator) Valid() bool {
	return it.loc.Level >= 0
}

// Location returns the current node.
func (it *ReverseIterator) Location() Location {
	return it.loc
}

// Next advances to the following node.
func (it *ReverseIterator) Next() {
	it.loc.Horz++
	if it.loc.Horz < 1<<it.loc.Level {
		return
	}
	it.loc.Horz = 0
	it.loc.Vert++
	if it.loc.Vert < 1<<it.loc.Level {
		return
	}
	it.loc.Vert = 0
	it.loc.Level--
}

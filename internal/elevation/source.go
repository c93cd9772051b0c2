// Package elevation owns the master height field of the terrain and
// derives per-patch height windows, min/max elevations and approximation
// error bounds from it.
package elevation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// ErrPatchSizeNotPowerOfTwo is returned for patch sizes that are not 2^n.
var ErrPatchSizeNotPowerOfTwo = errors.New("patch size is not a power of two")

// MinMax holds the elevation range of one patch.
type MinMax struct {
	Min uint16
	Max uint16
}

// Source is a read-only elevation hierarchy. It is safe for concurrent use.
type Source struct {
	patchSize int
	numLevels int
	numCols   int
	numRows   int
	heights   []uint16

	minMax      *quadtree.HierarchyArray[MinMax]
	errorBounds *quadtree.HierarchyArray[uint16]

	leftExt, bottomExt, rightExt, topExt int
	highResBias                          int

	log *zap.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Source) { s.log = l }
}

// WithBoundaryExtensions sets the extensions ElevData adds around every
// window. Left and bottom are raised to at least 1, right and top to at
// least 2, which is what triangulation and normal generation read.
func WithBoundaryExtensions(left, bottom, right, top int) Option {
	return func(s *Source) {
		s.leftExt = max(left, 1)
		s.bottomExt = max(bottom, 1)
		s.rightExt = max(right, 2)
		s.topExt = max(top, 2)
	}
}

// WithHighResLODBias makes ElevData also fill a window that many levels
// finer than the patch level.
func WithHighResLODBias(bias int) Option {
	return func(s *Source) { s.highResBias = max(bias, 0) }
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// New builds the elevation hierarchy for hf. The raster is padded to
// 2^k+1 samples per side by repeating its last column and row.
func New(hf *HeightField, patchSize int, opts ...Option) (*Source, error) {
	if !IsPowerOfTwo(patchSize) {
		return nil, fmt.Errorf("%w: %d", ErrPatchSizeNotPowerOfTwo, patchSize)
	}
	if err := hf.validate(); err != nil {
		return nil, err
	}

	s := &Source{
		patchSize: patchSize,
		leftExt:   1,
		bottomExt: 1,
		rightExt:  2,
		topExt:    2,
		log:       logger.For("elevation"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.numCols, s.numRows = 1, 1
	for s.numCols+1 < hf.Width || s.numRows+1 < hf.Height {
		s.numCols *= 2
		s.numRows *= 2
	}
	s.numLevels = 1
	for patchSize<<(s.numLevels-1) < s.numCols || patchSize<<(s.numLevels-1) < s.numRows {
		s.numLevels++
	}
	s.numCols++
	s.numRows++

	s.heights = make([]uint16, s.numCols*s.numRows)
	for row := 0; row < s.numRows; row++ {
		srcRow := min(row, hf.Height-1)
		for col := 0; col < s.numCols; col++ {
			srcCol := min(col, hf.Width-1)
			s.heights[col+row*s.numCols] = hf.Samples[srcCol+srcRow*hf.Width]
		}
	}

	start := time.Now()
	s.minMax = quadtree.NewHierarchyArray[MinMax](s.numLevels)
	s.computeMinMax()
	s.errorBounds = quadtree.NewHierarchyArray[uint16](s.numLevels - 1)
	s.computeErrorBounds()

	s.log.Info("elevation hierarchy ready",
		zap.Int("width", hf.Width),
		zap.Int("height", hf.Height),
		zap.Int("cols", s.numCols),
		zap.Int("rows", s.numRows),
		zap.Int("levels", s.numLevels),
		zap.Int("patchSize", s.patchSize),
		zap.Duration("took", time.Since(start)))
	return s, nil
}

// NumLevels returns the depth of the patch quadtree.
func (s *Source) NumLevels() int { return s.numLevels }

// PatchSize returns the number of cells along a patch side.
func (s *Source) PatchSize() int { return s.patchSize }

// NumCols returns the padded grid width.
func (s *Source) NumCols() int { return s.numCols }

// NumRows returns the padded grid height.
func (s *Source) NumRows() int { return s.numRows }

// Sample returns the padded grid value at (col, row), clamped to the grid.
func (s *Source) Sample(col, row int) uint16 {
	col = min(max(col, 0), s.numCols-1)
	row = min(max(row, 0), s.numRows-1)
	return s.heights[col+row*s.numCols]
}

// MinMaxElevation returns the elevation range of the patch at loc.
func (s *Source) MinMaxElevation(loc quadtree.Location) MinMax {
	return s.minMax.Get(loc)
}

// GlobalMinElevation returns the lowest sample of the terrain.
func (s *Source) GlobalMinElevation() uint16 {
	return s.minMax.Get(quadtree.Root).Min
}

// GlobalMaxElevation returns the highest sample of the terrain.
func (s *Source) GlobalMaxElevation() uint16 {
	return s.minMax.Get(quadtree.Root).Max
}

// ErrorBound returns the maximum deviation between the patch at loc and
// the full resolution data. It is 0 at the finest level.
func (s *Source) ErrorBound(loc quadtree.Location) uint16 {
	if loc.Level >= s.numLevels-1 {
		return 0
	}
	return s.errorBounds.Get(loc)
}

// fill copies grid samples [startCol,endCol)x[startRow,endRow), taken
// every step samples, into dst.
func (s *Source) fill(dst []uint16, pitch, startCol, endCol, startRow, endRow, step int) {
	for row := startRow; row < endRow; row++ {
		srcRow := min(max(row*step, 0), s.numRows-1)
		out := dst[(row-startRow)*pitch:]
		for col := startCol; col < endCol; col++ {
			srcCol := min(max(col*step, 0), s.numCols-1)
			out[col-startCol] = s.heights[srcCol+srcRow*s.numCols]
		}
	}
}

// fillPatch copies the window of loc, grown by the given extensions and
// sampled lodBias levels finer than loc.
func (s *Source) fillPatch(loc quadtree.Location, dst []uint16, pitch, left, bottom, right, top, lodBias int) {
	step := 1 << (s.numLevels - 1 - loc.Level)
	startCol := loc.Horz*s.patchSize - left
	endCol := (loc.Horz+1)*s.patchSize + right
	startRow := loc.Vert*s.patchSize - bottom
	endRow := (loc.Vert+1)*s.patchSize + top
	s.fill(dst, pitch, startCol<<lodBias, endCol<<lodBias, startRow<<lodBias, endRow<<lodBias, step>>lodBias)
}

func (s *Source) computeMinMax() {
	finest := s.numLevels - 1
	n := 1 << finest
	for vert := 0; vert < n; vert++ {
		for horz := 0; horz < n; horz++ {
			startCol, startRow := horz*s.patchSize, vert*s.patchSize
			mm := MinMax{Min: math.MaxUint16}
			for row := startRow; row <= startRow+s.patchSize; row++ {
				for col := startCol; col <= startCol+s.patchSize; col++ {
					h := s.Sample(col, row)
					mm.Min = min(mm.Min, h)
					mm.Max = max(mm.Max, h)
				}
			}
			s.minMax.Set(quadtree.Location{Level: finest, Horz: horz, Vert: vert}, mm)
		}
	}

	for it := quadtree.NewReverseIterator(s.numLevels - 1); it.Valid(); it.Next() {
		loc := it.Location()
		mm := MinMax{Min: math.MaxUint16}
		for slot := range 4 {
			c := s.minMax.Get(loc.Child(slot))
			mm.Min = min(mm.Min, c.Min)
			mm.Max = max(mm.Max, c.Max)
		}
		s.minMax.Set(loc, mm)
	}
}

// computeErrorBounds measures, for every non-finest node, how far the
// bilinear interpolation of its samples strays from the samples one level
// finer, and folds in the bounds of its children.
func (s *Source) computeErrorBounds() {
	ps := s.patchSize
	parentPitch := ps + 1
	childPitch := 2*ps + 1
	parent := make([]uint16, parentPitch*parentPitch)
	children := make([]uint16, childPitch*childPitch)

	for it := quadtree.NewReverseIterator(s.numLevels - 1); it.Valid(); it.Next() {
		loc := it.Location()
		s.fillPatch(loc, parent, parentPitch, 0, 0, 1, 1, 0)

		step := 1 << (s.numLevels - 1 - (loc.Level + 1))
		startCol, startRow := loc.Horz*2*ps, loc.Vert*2*ps
		s.fill(children, childPitch, startCol, startCol+childPitch, startRow, startRow+childPitch, step)

		var interp float32
		for row := 0; row < 2*ps; row++ {
			srcRow := row / 2
			vw := float32(row)/2 - float32(srcRow)
			for col := 0; col < 2*ps; col++ {
				srcCol := col / 2
				hw := float32(col)/2 - float32(srcCol)
				e00 := float32(parent[srcCol+srcRow*parentPitch])
				e10 := float32(parent[srcCol+1+srcRow*parentPitch])
				e01 := float32(parent[srcCol+(srcRow+1)*parentPitch])
				e11 := float32(parent[srcCol+1+(srcRow+1)*parentPitch])
				z := (e00*(1-hw)+e10*hw)*(1-vw) + (e01*(1-hw)+e11*hw)*vw
				fine := float32(children[col+row*childPitch])
				interp = max(interp, abs32(fine-z))
			}
		}

		bound := interp
		if loc.Level < s.numLevels-2 {
			for slot := range 4 {
				bound = max(bound, float32(s.errorBounds.Get(loc.Child(slot))))
			}
		}
		s.errorBounds.Set(loc, uint16(min(max(int(bound), 0), math.MaxUint16)))
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

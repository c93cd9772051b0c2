package elevation

import "github.com/Faultbox/midgard-terrain/pkg/quadtree"

// PatchElevation is a bordered height window of one patch. Samples are
// stored row by row, data[x + y*pitch], with x and y counted from the
// lower-left corner of the extended window.
type PatchElevation struct {
	loc        quadtree.Location
	patchSize  int
	errorBound uint16

	left, bottom, right, top int

	pitch   int
	heights []uint16

	highResBias  int
	highResPitch int
	highRes      []uint16
}

// ElevData materializes the window of loc with the configured boundary
// extensions and high-res bias.
func (s *Source) ElevData(loc quadtree.Location) *PatchElevation {
	return s.MaterializeWindow(loc, s.leftExt, s.bottomExt, s.rightExt, s.topExt, s.highResBias)
}

// MaterializeWindow builds the window of loc grown by the given
// extensions. A positive highResBias also fills a window sampled that many
// levels finer, clamped to the finest level.
func (s *Source) MaterializeWindow(loc quadtree.Location, left, bottom, right, top, highResBias int) *PatchElevation {
	ps := s.patchSize
	p := &PatchElevation{
		loc:        loc,
		patchSize:  ps,
		errorBound: s.ErrorBound(loc),
		left:       left,
		bottom:     bottom,
		right:      right,
		top:        top,
		pitch:      ps + left + right,
	}
	rows := ps + bottom + top
	p.heights = make([]uint16, p.pitch*rows)
	s.fillPatch(loc, p.heights, p.pitch, left, bottom, right, top, 0)

	p.highResBias = min(max(highResBias, 0), s.numLevels-1-loc.Level)
	if p.highResBias > 0 {
		p.highResPitch = p.pitch << p.highResBias
		p.highRes = make([]uint16, p.highResPitch*(rows<<p.highResBias))
		s.fillPatch(loc, p.highRes, p.highResPitch, left, bottom, right, top, p.highResBias)
	}
	return p
}

// Location returns the patch location.
func (p *PatchElevation) Location() quadtree.Location { return p.loc }

// PatchSize returns the number of cells along the patch side.
func (p *PatchElevation) PatchSize() int { return p.patchSize }

// ErrorBound returns the elevation error bound of the patch.
func (p *PatchElevation) ErrorBound() uint16 { return p.errorBound }

// Pitch returns the row stride of the window.
func (p *PatchElevation) Pitch() int { return p.pitch }

// Extensions returns the boundary extensions the window was built with.
func (p *PatchElevation) Extensions() (left, bottom, right, top int) {
	return p.left, p.bottom, p.right, p.top
}

// Data returns the window starting left columns and bottom rows outside
// the patch origin. Both must not exceed the window's own extensions.
func (p *PatchElevation) Data(left, bottom int) []uint16 {
	return p.heights[(p.left-left)+(p.bottom-bottom)*p.pitch:]
}

// At returns the sample at patch-relative (x, y). Negative coordinates
// reach into the left and bottom extensions.
func (p *PatchElevation) At(x, y int) uint16 {
	return p.heights[(x+p.left)+(y+p.bottom)*p.pitch]
}

// HighResBias returns the effective high-res bias, 0 if none was filled.
func (p *PatchElevation) HighResBias() int { return p.highResBias }

// HighResPitch returns the row stride of the high-res window.
func (p *PatchElevation) HighResPitch() int { return p.highResPitch }

// HighResData is Data for the high-res window. left and bottom are given
// in high-res samples. It returns nil when no high-res window was filled.
func (p *PatchElevation) HighResData(left, bottom int) []uint16 {
	if p.highRes == nil {
		return nil
	}
	l := p.left << p.highResBias
	b := p.bottom << p.highResBias
	return p.highRes[(l-left)+(b-bottom)*p.highResPitch:]
}

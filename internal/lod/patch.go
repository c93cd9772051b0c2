package lod

import (
	"fmt"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/rqt"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// Patch is the materialized content of one quadtree node: its height
// window and the index buffer of its triangulation. Indices address the
// window returned by Elevation().Data(left, bottom) with the window's own
// left and bottom extensions.
type Patch struct {
	loc       quadtree.Location
	elev      *elevation.PatchElevation
	indices   []uint32
	triangles int
}

// Location returns the node the patch belongs to.
func (p *Patch) Location() quadtree.Location { return p.loc }

// Elevation returns the height window of the patch.
func (p *Patch) Elevation() *elevation.PatchElevation { return p.elev }

// Indices returns the packed triangle indices.
func (p *Patch) Indices() []uint32 { return p.indices }

// Triangles returns the number of triangles, flanges included.
func (p *Patch) Triangles() int { return p.triangles }

// PatchFactory creates the content of a node. Implementations are called
// from task runtime workers and must be safe for concurrent use.
type PatchFactory interface {
	CreatePatch(elev *elevation.PatchElevation, tri *rqt.Triangulation) (*Patch, error)
}

// PatchFactoryFunc adapts a function to PatchFactory.
type PatchFactoryFunc func(elev *elevation.PatchElevation, tri *rqt.Triangulation) (*Patch, error)

// CreatePatch calls f.
func (f PatchFactoryFunc) CreatePatch(elev *elevation.PatchElevation, tri *rqt.Triangulation) (*Patch, error) {
	return f(elev, tri)
}

// NewPatch generates the index buffer of tri against elev.
func NewPatch(elev *elevation.PatchElevation, tri *rqt.Triangulation) (*Patch, error) {
	left, _, _, _ := elev.Extensions()
	indices, err := tri.GenerateIndices(left, make([]uint32, 0, 96))
	if err != nil {
		return nil, fmt.Errorf("generating indices of %v: %w", elev.Location(), err)
	}
	return &Patch{
		loc:       elev.Location(),
		elev:      elev,
		indices:   indices,
		triangles: len(indices) / 3,
	}, nil
}

// DefaultPatchFactory builds patches with NewPatch.
var DefaultPatchFactory PatchFactory = PatchFactoryFunc(NewPatch)

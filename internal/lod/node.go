package lod

import (
	"fmt"
	"math"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/rqt"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// Label is the refinement state of a node.
type Label int

const (
	// TooCoarse nodes have children; the node alone is not detailed enough.
	TooCoarse Label = iota
	// Optimal nodes are rendered themselves.
	Optimal
	// TooDetailed is reserved and never assigned.
	TooDetailed
)

func (l Label) String() string {
	switch l {
	case TooCoarse:
		return "too-coarse"
	case Optimal:
		return "optimal"
	case TooDetailed:
		return "too-detailed"
	}
	return fmt.Sprintf("Label(%d)", int(l))
}

// UpAxis selects the world axis elevation is mapped to.
type UpAxis int

const (
	UpAxisZ UpAxis = iota
	UpAxisY
)

// unboundedError marks nodes that must always be refined.
const unboundedError = math.MaxFloat32 / 2

// PatchNodeData is the payload of every node of the model tree.
type PatchNodeData struct {
	Label                Label
	GuaranteedErrorBound float32
	DistanceToCamera     float32
	ScreenSpaceError     float32
	BoundingBox          tmath.AABB
	BoxValid             bool

	Patch         *Patch
	Elevation     *elevation.PatchElevation
	Triangulation *rqt.Triangulation

	increase *IncreaseLODTask
	decrease *DecreaseLODTask

	// Consecutive failed refinements, and the frame before which the
	// node is not refined again.
	refineFailures int
	retryFrame     uint64
}

// PendingIncrease returns the refinement task of the node, if any.
func (d *PatchNodeData) PendingIncrease() *IncreaseLODTask { return d.increase }

// PendingDecrease returns the coarsening task of the node, if any.
func (d *PatchNodeData) PendingDecrease() *DecreaseLODTask { return d.decrease }

// geometry maps quadtree locations to world space.
type geometry struct {
	elev             *elevation.Source
	numLevels        int
	patchSize        int
	samplingInterval float32
	elevationScale   float32
	upAxis           UpAxis
}

// boundingBox returns the world space box of the patch at loc.
func (g *geometry) boundingBox(loc quadtree.Location) tmath.AABB {
	span := float32(g.patchSize<<(g.numLevels-1-loc.Level)) * g.samplingInterval
	mm := g.elev.MinMaxElevation(loc)
	b := tmath.AABB{
		Min: [3]float32{float32(loc.Horz) * span, float32(loc.Vert) * span, float32(mm.Min) * g.elevationScale},
		Max: [3]float32{float32(loc.Horz+1) * span, float32(loc.Vert+1) * span, float32(mm.Max) * g.elevationScale},
	}
	if g.upAxis == UpAxisY {
		b = b.SwapYZ()
	}
	return b
}

// toZUp converts a world space vector to the Z-up frame the boxes are
// computed in.
func (g *geometry) toZUp(v tmath.Vec3) tmath.Vec3 {
	if g.upAxis == UpAxisY {
		return v.SwapYZ()
	}
	return v
}

// zUpBox returns b in the Z-up frame.
func (g *geometry) zUpBox(b tmath.AABB) tmath.AABB {
	if g.upAxis == UpAxisY {
		return b.SwapYZ()
	}
	return b
}

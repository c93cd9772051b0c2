package lod

import (
	"math"
	"slices"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

type rayFrame struct {
	node        quadtree.Handle
	enter, exit float32
}

// RayCast intersects the ray origin + t*dir with the current model and
// returns the parameter t of the nearest hit. Nodes are visited nearest
// box first; optimal nodes are tested against their height grid.
func (m *Model) RayCast(origin, dir tmath.Vec3) (float32, bool) {
	o := m.geo.toZUp(origin)
	d := m.geo.toZUp(dir)

	root := m.tree.Root()
	enter, exit, ok := tmath.IntersectRayAABB(o, d, m.geo.zUpBox(m.tree.Data(root).BoundingBox))
	if !ok {
		return 0, false
	}

	stack := []rayFrame{{node: root, enter: enter, exit: exit}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := m.tree.Data(f.node)

		if nd.Label == TooCoarse {
			children, ok := m.tree.Children(f.node)
			if !ok {
				continue
			}
			hits := make([]rayFrame, 0, 4)
			for _, c := range children {
				cd := m.tree.Data(c)
				if !cd.BoxValid {
					continue
				}
				if en, ex, ok := tmath.IntersectRayAABB(o, d, m.geo.zUpBox(cd.BoundingBox)); ok {
					hits = append(hits, rayFrame{node: c, enter: en, exit: ex})
				}
			}
			// Farthest first, so the nearest child is popped next.
			slices.SortFunc(hits, func(a, b rayFrame) int {
				switch {
				case a.enter > b.enter:
					return -1
				case a.enter < b.enter:
					return 1
				}
				return 0
			})
			stack = append(stack, hits...)
			continue
		}

		if nd.Elevation == nil {
			return max(f.enter, 0), true
		}
		if t, ok := m.intersectPatch(nd, o, d, max(f.enter, 0), f.exit); ok {
			return t, true
		}
	}
	return 0, false
}

// intersectPatch walks the cells of the patch crossed by the ray between
// t0 and t1 and tests the two triangles of each cell.
func (m *Model) intersectPatch(nd *PatchNodeData, o, d tmath.Vec3, t0, t1 float32) (float32, bool) {
	ps := m.geo.patchSize
	scale := m.geo.elevationScale
	elev := nd.Elevation
	box := m.geo.zUpBox(nd.BoundingBox)
	cx := (box.Max[0] - box.Min[0]) / float32(ps)
	cy := (box.Max[1] - box.Min[1]) / float32(ps)

	p := o.Add(d.Scale(t0))
	i := clampCell(int(math.Floor(float64((p.X-box.Min[0])/cx))), ps)
	j := clampCell(int(math.Floor(float64((p.Y-box.Min[1])/cy))), ps)

	stepI, nextX, deltaX := ddaAxis(o.X, d.X, box.Min[0], cx, i)
	stepJ, nextY, deltaY := ddaAxis(o.Y, d.Y, box.Min[1], cy, j)

	vertex := func(x, y int) tmath.Vec3 {
		return tmath.Vec3{
			X: box.Min[0] + float32(x)*cx,
			Y: box.Min[1] + float32(y)*cy,
			Z: float32(elev.At(x, y)) * scale,
		}
	}

	for {
		v00, v10 := vertex(i, j), vertex(i+1, j)
		v01, v11 := vertex(i, j+1), vertex(i+1, j+1)
		best := float32(math.MaxFloat32)
		if t, ok := tmath.IntersectRayTriangle(o, d, v10, v01, v00); ok && t >= 0 {
			best = min(best, t)
		}
		if t, ok := tmath.IntersectRayTriangle(o, d, v10, v01, v11); ok && t >= 0 {
			best = min(best, t)
		}
		if best < math.MaxFloat32 {
			return best, true
		}

		if nextX < nextY {
			if nextX > t1 {
				return 0, false
			}
			i += stepI
			nextX += deltaX
		} else {
			if nextY > t1 {
				return 0, false
			}
			j += stepJ
			nextY += deltaY
		}
		if i < 0 || i >= ps || j < 0 || j >= ps {
			return 0, false
		}
	}
}

// ddaAxis returns the cell step, the ray parameter of the first cell
// boundary and the parameter distance between boundaries along one axis.
func ddaAxis(o, d, lo, size float32, cell int) (step int, next, delta float32) {
	switch {
	case d > 0:
		return 1, (lo + float32(cell+1)*size - o) / d, size / d
	case d < 0:
		return -1, (lo + float32(cell)*size - o) / d, -size / d
	}
	return 0, math.MaxFloat32, math.MaxFloat32
}

func clampCell(c, n int) int {
	return min(max(c, 0), n-1)
}

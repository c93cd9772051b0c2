package triang

import (
	"math"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/rqt"
)

// packedExt is the boundary extension of the indices the builder works on.
const packedExt = 1

// CreateAdaptiveTriangulation enables the smallest set of vertices whose
// triangulation keeps every height sample of elev within threshold of the
// surface. It returns the triangulation, the error it achieves and its
// triangle count, flanges included.
func (s *Source) CreateAdaptiveTriangulation(elev *elevation.PatchElevation, threshold float32) (*rqt.Triangulation, float32, int, error) {
	ps := elev.PatchSize()
	nl := rqt.NumLocalLevels(ps)
	data := elev.Data(0, 0)
	pitch := elev.Pitch()
	flags := rqt.NewVertexFlags(ps, true)

	pack := func(x, y int) uint32 { return rqt.PackIndex(x, y, nl-1, nl, packedExt) }
	exceeds := func(x0, y0, x1, y1, x2, y2 int) bool {
		tri := [3]uint32{pack(x0, y0), pack(x1, y1), pack(x2, y2)}
		return triangleError(tri, data, pitch, packedExt, threshold) >= threshold
	}

	for level := nl - 1; level > 0; level-- {
		st := 1 << (nl - 1 - level)
		f := st / 2

		// Vertices on even rows split horizontal edges.
		for y := 0; y <= ps; y += 2 * st {
			for x := st; x <= ps; x += 2 * st {
				enable := false
				if f > 0 {
					if y > 0 {
						enable = flags.Enabled(x-f, y-f) || flags.Enabled(x+f, y-f)
					}
					if y < ps {
						enable = enable || flags.Enabled(x-f, y+f) || flags.Enabled(x+f, y+f)
					}
				}
				if !enable && y < ps {
					enable = exceeds(x-st, y, x+st, y, x, y+st)
				}
				if !enable && y > 0 {
					enable = exceeds(x-st, y, x, y-st, x+st, y)
				}
				flags.SetEnabled(x, y, enable)
			}
		}

		// Vertices on odd rows split vertical edges.
		for y := st; y <= ps; y += 2 * st {
			for x := 0; x <= ps; x += 2 * st {
				enable := false
				if f > 0 {
					if x > 0 {
						enable = flags.Enabled(x-f, y-f) || flags.Enabled(x-f, y+f)
					}
					if x < ps {
						enable = enable || flags.Enabled(x+f, y-f) || flags.Enabled(x+f, y+f)
					}
				}
				if !enable && x < ps {
					enable = exceeds(x, y-st, x, y+st, x+st, y)
				}
				if !enable && x > 0 {
					enable = exceeds(x, y-st, x, y+st, x-st, y)
				}
				flags.SetEnabled(x, y, enable)
			}
		}

		// Cell centers.
		for y := st; y <= ps; y += 2 * st {
			for x := st; x <= ps; x += 2 * st {
				enable := flags.Enabled(x-st, y) || flags.Enabled(x+st, y) ||
					flags.Enabled(x, y-st) || flags.Enabled(x, y+st)
				odd := (((x-st)/(2*st))&1+((y-st)/(2*st))&1)&1 == 1
				if !enable {
					if odd {
						enable = exceeds(x-st, y+st, x+st, y-st, x-st, y-st)
					} else {
						enable = exceeds(x-st, y-st, x+st, y+st, x-st, y+st)
					}
				}
				if !enable {
					if odd {
						enable = exceeds(x-st, y+st, x+st, y-st, x+st, y+st)
					} else {
						enable = exceeds(x-st, y-st, x+st, y+st, x+st, y-st)
					}
				}
				flags.SetEnabled(x, y, enable)
			}
		}
	}

	tri := rqt.NewEncoder(elev.Location(), flags, s.numLevels)
	idx, err := tri.GenerateIndices(packedExt, make([]uint32, 0, rqt.MaxIndices(ps)))
	if err != nil {
		return nil, 0, 0, err
	}
	achieved := triangulationError(idx, ps, data, pitch, packedExt)
	return tri, achieved, len(idx) / 3, nil
}

// triangulationError returns the largest triangle error of idx, ignoring
// flange triangles.
func triangulationError(idx []uint32, ps int, data []uint16, pitch, ext int) float32 {
	var worst float32
	for i := 0; i+2 < len(idx); i += 3 {
		tri := [3]uint32{idx[i], idx[i+1], idx[i+2]}
		if isFlange(tri, ps, ext) {
			continue
		}
		worst = max(worst, triangleError(tri, data, pitch, ext, math.MaxFloat32))
	}
	return worst
}

func isFlange(tri [3]uint32, ps, ext int) bool {
	for _, p := range tri {
		x, y := rqt.UnpackIndex(p, ext)
		if x < 0 || y < 0 || x > ps || y > ps {
			return true
		}
	}
	return false
}

type vertex struct {
	x, y int
}

// triangleError returns the largest vertical distance between the height
// samples covered by tri and the plane through its corners. It returns as
// soon as a distance reaches threshold.
func triangleError(tri [3]uint32, data []uint16, pitch, ext int, threshold float32) float32 {
	var v [3]vertex
	var px, py, pz [3]float32
	for i, p := range tri {
		x, y := rqt.UnpackIndex(p, ext)
		v[i] = vertex{x, y}
		px[i], py[i], pz[i] = float32(x), float32(y), float32(data[x+y*pitch])
	}
	if v[0] == v[1] || v[0] == v[2] || v[1] == v[2] {
		return 0
	}

	area := abs32((px[1]-px[0])*(py[2]-py[0]) - (py[1]-py[0])*(px[2]-px[0]))
	if area < 1e-5 {
		return 0
	}

	// Sort by row.
	o := [3]vertex{v[0], v[1], v[2]}
	if o[0].y > o[1].y {
		o[0], o[1] = o[1], o[0]
	}
	if o[1].y > o[2].y {
		o[1], o[2] = o[2], o[1]
		if o[0].y > o[1].y {
			o[0], o[1] = o[1], o[0]
		}
	}
	col0, row0 := float32(o[0].x), float32(o[0].y)
	col1, row1 := float32(o[1].x), float32(o[1].y)
	col2, row2 := float32(o[2].x), float32(o[2].y)
	if o[0].y >= o[2].y {
		return 0
	}

	var worst float32
	for row := o[0].y; row <= o[2].y; row++ {
		r := float32(row)
		start := col0 + (col2-col0)*(r-row0)/(row2-row0)
		var end float32
		switch {
		case row > o[1].y:
			end = col1 + (col2-col1)*(r-row1)/(row2-row1)
		case row1 > row0:
			end = col0 + (col1-col0)*(r-row0)/(row1-row0)
		default:
			end = col1
		}
		if start > end {
			start, end = end, start
		}

		first := int(math.Floor(float64(start)))
		if start > float32(first) {
			first++
		}
		last := int(math.Floor(float64(end)))

		for col := first; col <= last; col++ {
			sx, sy := float32(col), r
			sz := float32(data[col+row*pitch])
			d0x, d0y := sx-px[0], sy-py[0]
			d1x, d1y := sx-px[1], sy-py[1]
			d2x, d2y := sx-px[2], sy-py[2]
			u := abs32(d1x*d2y-d1y*d2x) / area
			w1 := abs32(d0x*d2y-d0y*d2x) / area
			w2 := abs32(d0x*d1y-d0y*d1x) / area
			z := u*pz[0] + w1*pz[1] + w2*pz[2]

			e := abs32(sz - z)
			if e >= threshold {
				return e
			}
			worst = max(worst, e)
		}
	}
	return worst
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

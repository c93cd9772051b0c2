package math

import "math"

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min [3]float32
	Max [3]float32
}

// Center returns the center point of the box.
func (b AABB) Center() Vec3 {
	return Vec3{
		X: (b.Min[0] + b.Max[0]) / 2,
		Y: (b.Min[1] + b.Max[1]) / 2,
		Z: (b.Min[2] + b.Max[2]) / 2,
	}
}

// Extents returns the half sizes of the box along each axis.
func (b AABB) Extents() Vec3 {
	return Vec3{
		X: (b.Max[0] - b.Min[0]) / 2,
		Y: (b.Max[1] - b.Min[1]) / 2,
		Z: (b.Max[2] - b.Min[2]) / 2,
	}
}

// SwapYZ returns the box with its Y and Z ranges exchanged.
func (b AABB) SwapYZ() AABB {
	return AABB{
		Min: [3]float32{b.Min[0], b.Min[2], b.Min[1]},
		Max: [3]float32{b.Max[0], b.Max[2], b.Max[1]},
	}
}

// Contains reports whether p lies inside or on the boundary of the box.
func (b AABB) Contains(p Vec3) bool {
	a := p.Array()
	for i := 0; i < 3; i++ {
		if a[i] < b.Min[i] || a[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// DistanceTo returns the Euclidean distance from p to the closest point of
// the box. Points inside the box are at distance 0.
func (b AABB) DistanceTo(p Vec3) float32 {
	a := p.Array()
	var d [3]float32
	for i := 0; i < 3; i++ {
		switch {
		case a[i] > b.Max[i]:
			d[i] = a[i] - b.Max[i]
		case a[i] < b.Min[i]:
			d[i] = b.Min[i] - a[i]
		}
	}
	return float32(math.Sqrt(float64(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])))
}

package math

// Plane is the set of points p with Normal·p + D = 0. Points with a
// positive value lie on the inner side.
type Plane struct {
	Normal Vec3
	D      float32
}

// Distance returns the signed distance scaled by the normal length.
func (p Plane) Distance(v Vec3) float32 {
	return p.Normal.Dot(v) + p.D
}

// Frustum planes in left, right, bottom, top, near, far order.
type Frustum [6]Plane

func planeFromRows(a, b Vec4, sign float32) Plane {
	return Plane{
		Normal: Vec3{a[0] + sign*b[0], a[1] + sign*b[1], a[2] + sign*b[2]},
		D:      a[3] + sign*b[3],
	}
}

// ExtractFrustum extracts the clipping planes from a combined
// projection*view matrix (Gribb & Hartmann). Clip space is [-w, w] on all
// three axes; planes are not normalized.
func ExtractFrustum(viewProj Mat4) Frustum {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)
	return Frustum{
		planeFromRows(r3, r0, 1),
		planeFromRows(r3, r0, -1),
		planeFromRows(r3, r1, 1),
		planeFromRows(r3, r1, -1),
		planeFromRows(r3, r2, 1),
		planeFromRows(r3, r2, -1),
	}
}

// IsBoxVisible reports whether the box is not entirely behind any plane.
// For each plane only the corner farthest along the normal is tested, so
// boxes near frustum corners may be reported visible.
func (f *Frustum) IsBoxVisible(b AABB) bool {
	for _, p := range f {
		var corner Vec3
		corner.X = b.Min[0]
		if p.Normal.X > 0 {
			corner.X = b.Max[0]
		}
		corner.Y = b.Min[1]
		if p.Normal.Y > 0 {
			corner.Y = b.Max[1]
		}
		corner.Z = b.Min[2]
		if p.Normal.Z > 0 {
			corner.Z = b.Max[2]
		}
		if p.Distance(corner) < 0 {
			return false
		}
	}
	return true
}

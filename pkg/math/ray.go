package math

import "math"

const (
	slabEpsilon     = 1e-20
	triangleEpsilon = 1e-10
)

// IntersectRayAABB intersects the ray origin + t*dir with the box using the
// slab method. It returns the entry and exit parameters. A ray starting
// inside the box has a negative entry parameter.
func IntersectRayAABB(origin, dir Vec3, b AABB) (enter, exit float32, ok bool) {
	o := origin.Array()
	d := dir.Array()
	enter = -math.MaxFloat32
	exit = math.MaxFloat32
	for i := 0; i < 3; i++ {
		if abs32(d[i]) <= slabEpsilon {
			if o[i] < b.Min[i] || o[i] > b.Max[i] {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (b.Min[i] - o[i]) * inv
		t2 := (b.Max[i] - o[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > enter {
			enter = t1
		}
		if t2 < exit {
			exit = t2
		}
	}
	if enter > exit || exit < 0 {
		return 0, 0, false
	}
	return enter, exit, true
}

// IntersectRayTriangle returns the ray parameter of the hit with triangle
// (v0, v1, v2) using the Möller–Trumbore test. Both faces are hit.
func IntersectRayTriangle(origin, dir, v0, v1, v2 Vec3) (float32, bool) {
	edge1 := v1.Sub(v0)
	edge2 := v2.Sub(v0)
	pvec := dir.Cross(edge2)
	det := edge1.Dot(pvec)
	if det > -triangleEpsilon && det < triangleEpsilon {
		return 0, false
	}
	tvec := origin.Sub(v0)
	u := tvec.Dot(pvec) / det
	if u < 0 || u > 1 {
		return 0, false
	}
	qvec := tvec.Cross(edge1)
	v := dir.Dot(qvec) / det
	if v < 0 || u+v > 1 {
		return 0, false
	}
	return edge2.Dot(qvec) / det, true
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

package math

import (
	"math"
	"testing"
)

func approx(a, b, eps float32) bool {
	return abs32(a-b) <= eps
}

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Normalize(t *testing.T) {
	v := Vec3{3, 4, 12}
	if l := v.Normalize().Length(); !approx(l, 1, 1e-5) {
		t.Errorf("Vec3.Normalize().Length() = %v, want ~1", l)
	}
	if (Vec3{}).Normalize() != (Vec3{}) {
		t.Error("expected zero vector to normalize to zero")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Perspective(1, 1.5, 0.1, 100)
	if got := m.Mul(Identity()); got != m {
		t.Errorf("m * I = %v, want %v", got, m)
	}
	if got := Identity().Mul(m); got != m {
		t.Errorf("I * m = %v, want %v", got, m)
	}
}

func TestLookAtMovesEyeToOrigin(t *testing.T) {
	eye := Vec3{10, 20, 30}
	view := LookAt(eye, Vec3{0, 0, 0}, Vec3{0, 1, 0})
	p := view.TransformPoint(eye)
	if !approx(p.X, 0, 1e-4) || !approx(p.Y, 0, 1e-4) || !approx(p.Z, 0, 1e-4) {
		t.Errorf("expected eye at origin, got %v", p)
	}
}

func TestAABBDistanceTo(t *testing.T) {
	b := AABB{Min: [3]float32{0, 0, 0}, Max: [3]float32{10, 10, 10}}
	tests := []struct {
		p    Vec3
		want float32
	}{
		{Vec3{5, 5, 5}, 0},
		{Vec3{13, 5, 5}, 3},
		{Vec3{-3, -4, 5}, 5},
		{Vec3{5, 5, 12}, 2},
	}
	for _, tt := range tests {
		if got := b.DistanceTo(tt.p); !approx(got, tt.want, 1e-5) {
			t.Errorf("DistanceTo(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestAABBSwapYZ(t *testing.T) {
	b := AABB{Min: [3]float32{1, 2, 3}, Max: [3]float32{4, 5, 6}}
	s := b.SwapYZ()
	if s.Min != [3]float32{1, 3, 2} || s.Max != [3]float32{4, 6, 5} {
		t.Errorf("unexpected swapped box %v", s)
	}
}

func TestFrustumVisibility(t *testing.T) {
	proj := Perspective(float32(math.Pi/2), 1, 1, 1000)
	view := LookAt(Vec3{0, 0, 0}, Vec3{0, 0, -1}, Vec3{0, 1, 0})
	f := ExtractFrustum(proj.Mul(view))

	tests := []struct {
		name string
		box  AABB
		want bool
	}{
		{"in front", AABB{Min: [3]float32{-1, -1, -20}, Max: [3]float32{1, 1, -10}}, true},
		{"behind camera", AABB{Min: [3]float32{-1, -1, 10}, Max: [3]float32{1, 1, 20}}, false},
		{"far left", AABB{Min: [3]float32{-200, -1, -20}, Max: [3]float32{-100, 1, -10}}, false},
		{"beyond far plane", AABB{Min: [3]float32{-1, -1, -3000}, Max: [3]float32{1, 1, -2000}}, false},
		{"straddling", AABB{Min: [3]float32{-100, -1, -50}, Max: [3]float32{0, 1, -10}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsBoxVisible(tt.box); got != tt.want {
				t.Errorf("IsBoxVisible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntersectRayAABB(t *testing.T) {
	b := AABB{Min: [3]float32{0, 0, 0}, Max: [3]float32{10, 10, 10}}

	enter, exit, ok := IntersectRayAABB(Vec3{-5, 5, 5}, Vec3{1, 0, 0}, b)
	if !ok {
		t.Fatal("expected hit")
	}
	if !approx(enter, 5, 1e-5) || !approx(exit, 15, 1e-5) {
		t.Errorf("expected [5, 15], got [%v, %v]", enter, exit)
	}

	if _, _, ok := IntersectRayAABB(Vec3{-5, 20, 5}, Vec3{1, 0, 0}, b); ok {
		t.Error("expected parallel ray outside slab to miss")
	}
	if _, _, ok := IntersectRayAABB(Vec3{20, 5, 5}, Vec3{1, 0, 0}, b); ok {
		t.Error("expected ray pointing away to miss")
	}

	enter, _, ok = IntersectRayAABB(Vec3{5, 5, 5}, Vec3{0, 0, 1}, b)
	if !ok || enter >= 0 {
		t.Errorf("expected hit with negative entry from inside, got %v %v", enter, ok)
	}
}

func TestIntersectRayTriangle(t *testing.T) {
	v0 := Vec3{0, 0, 0}
	v1 := Vec3{10, 0, 0}
	v2 := Vec3{0, 10, 0}

	dist, ok := IntersectRayTriangle(Vec3{2, 2, 10}, Vec3{0, 0, -1}, v0, v1, v2)
	if !ok || !approx(dist, 10, 1e-5) {
		t.Errorf("expected hit at 10, got %v %v", dist, ok)
	}
	if _, ok := IntersectRayTriangle(Vec3{8, 8, 10}, Vec3{0, 0, -1}, v0, v1, v2); ok {
		t.Error("expected miss outside triangle")
	}
	if _, ok := IntersectRayTriangle(Vec3{2, 2, 10}, Vec3{1, 0, 0}, v0, v1, v2); ok {
		t.Error("expected miss for parallel ray")
	}
}

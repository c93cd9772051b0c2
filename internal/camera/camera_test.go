package camera

import (
	gomath "math"
	"testing"

	"github.com/Faultbox/midgard-terrain/pkg/math"
)

func near(a, b math.Vec3, eps float32) bool {
	return a.Sub(b).Length() <= eps
}

func TestFlyCameraForward(t *testing.T) {
	c := NewFlyCamera(ZUp)
	if got := c.Forward(); !near(got, math.Vec3{X: 1}, 1e-6) {
		t.Errorf("expected forward +X, got %v", got)
	}

	c.Yaw = gomath.Pi / 2
	c.Pitch = -gomath.Pi / 4
	want := math.Vec3{Y: float32(gomath.Sqrt2 / 2), Z: -float32(gomath.Sqrt2 / 2)}
	if got := c.Forward(); !near(got, want, 1e-6) {
		t.Errorf("expected forward %v, got %v", want, got)
	}
}

func TestFlyCameraViewMatrix(t *testing.T) {
	for _, frame := range []Frame{ZUp, YUp} {
		c := NewFlyCamera(frame)
		c.Position = math.Vec3{X: 10, Y: 20, Z: 30}
		c.Yaw = 0.7
		c.Pitch = -0.4

		ahead := frame.FromZUp(c.Position.Add(c.Forward().Scale(5)))
		got := c.ViewMatrix().TransformPoint(ahead)
		if !near(got, math.Vec3{Z: -5}, 1e-3) {
			t.Errorf("frame %d: expected point ahead at (0,0,-5) in view space, got %v", frame, got)
		}
		if eye := c.ViewMatrix().TransformPoint(c.Eye()); !near(eye, math.Vec3{}, 1e-3) {
			t.Errorf("frame %d: expected eye at view origin, got %v", frame, eye)
		}
	}
}

func TestFlyCameraMove(t *testing.T) {
	c := NewFlyCamera(ZUp)
	c.Yaw = gomath.Pi / 2

	c.Move(1, 0, 0)
	if !near(c.Position, math.Vec3{Y: 1}, 1e-6) {
		t.Errorf("expected forward move along +Y, got %v", c.Position)
	}
	c.Move(0, 2, 3)
	if !near(c.Position, math.Vec3{X: 2, Y: 1, Z: 3}, 1e-6) {
		t.Errorf("expected right move along +X, got %v", c.Position)
	}
}

func TestFlyCameraLookAt(t *testing.T) {
	c := NewFlyCamera(ZUp)
	c.Position = math.Vec3{Z: 100}

	c.LookAt(math.Vec3{X: 100, Y: 100, Z: 100})
	if gomath.Abs(float64(c.Yaw)-gomath.Pi/4) > 1e-6 || c.Pitch != 0 {
		t.Errorf("expected yaw pi/4 and pitch 0, got %v and %v", c.Yaw, c.Pitch)
	}

	// Straight down keeps the yaw and clamps the pitch.
	c.LookAt(math.Vec3{})
	if c.Pitch != c.MinPitch {
		t.Errorf("expected pitch clamped to %v, got %v", c.MinPitch, c.Pitch)
	}
	if gomath.Abs(float64(c.Yaw)-gomath.Pi/4) > 1e-6 {
		t.Errorf("expected yaw unchanged, got %v", c.Yaw)
	}
}

func TestFlyCameraTurnClamps(t *testing.T) {
	c := NewFlyCamera(ZUp)
	c.Turn(0.5, 10)
	if c.Pitch != c.MaxPitch || c.Yaw != 0.5 {
		t.Errorf("expected yaw 0.5 and pitch %v, got %v and %v", c.MaxPitch, c.Yaw, c.Pitch)
	}
}

func TestOrbitCamera(t *testing.T) {
	for _, frame := range []Frame{ZUp, YUp} {
		c := NewOrbitCamera(frame)
		c.Center = math.Vec3{X: 5, Y: 6, Z: 7}
		c.Distance = 50
		c.Rotate(1, 0.2)

		if d := c.Position().Sub(c.Center).Length(); gomath.Abs(float64(d-50)) > 1e-3 {
			t.Errorf("frame %d: expected distance 50, got %v", frame, d)
		}
		got := c.ViewMatrix().TransformPoint(frame.FromZUp(c.Center))
		if !near(got, math.Vec3{Z: -50}, 1e-2) {
			t.Errorf("frame %d: expected center at (0,0,-50) in view space, got %v", frame, got)
		}
	}
}

func TestOrbitCameraZoom(t *testing.T) {
	c := NewOrbitCamera(ZUp)
	c.MaxDistance = 210
	c.HandleZoom(-1)
	if c.Distance != 210 {
		t.Errorf("expected distance clamped to 210, got %v", c.Distance)
	}
	c.HandleZoom(1)
	if c.Distance != 189 {
		t.Errorf("expected distance 189, got %v", c.Distance)
	}
}

func TestOrbitCameraFitToBounds(t *testing.T) {
	c := NewOrbitCamera(ZUp)
	c.FitToBounds(math.AABB{Min: [3]float32{0, 0, 0}, Max: [3]float32{1000, 500, 100}})

	if c.Center != (math.Vec3{X: 500, Y: 250, Z: 50}) {
		t.Errorf("expected center of the box, got %v", c.Center)
	}
	if c.Distance != 600 {
		t.Errorf("expected distance 600, got %v", c.Distance)
	}
	if p := c.Position(); p.Z <= c.Center.Z {
		t.Errorf("expected camera above the center, got %v", p)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	v := math.Vec3{X: 1, Y: 2, Z: 3}
	if got := YUp.FromZUp(v); got != (math.Vec3{X: 1, Y: 3, Z: 2}) {
		t.Errorf("expected Y and Z swapped, got %v", got)
	}
	if got := YUp.ToZUp(YUp.FromZUp(v)); got != v {
		t.Errorf("expected round trip to %v, got %v", v, got)
	}
	if got := ZUp.FromZUp(v); got != v {
		t.Errorf("expected Z-up frame to be the identity, got %v", got)
	}
}

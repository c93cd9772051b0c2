// Package camera provides the cameras used to drive the terrain model.
// Positions and angles are kept in a Z-up frame and converted to the
// model's up axis when the view is built.
package camera

import (
	gomath "math"

	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// Frame selects the world axis that points up.
type Frame int

const (
	ZUp Frame = iota
	YUp
)

// FromZUp converts a Z-up vector to the frame.
func (f Frame) FromZUp(v math.Vec3) math.Vec3 {
	if f == YUp {
		return v.SwapYZ()
	}
	return v
}

// ToZUp converts a vector of the frame to Z-up.
func (f Frame) ToZUp(v math.Vec3) math.Vec3 {
	// The swap is its own inverse.
	return f.FromZUp(v)
}

func (f Frame) view(eye, center math.Vec3) math.Mat4 {
	return math.LookAt(f.FromZUp(eye), f.FromZUp(center), f.FromZUp(math.Vec3{Z: 1}))
}

// FlyCamera moves freely over the terrain.
type FlyCamera struct {
	Position math.Vec3 // Z-up
	Yaw      float32   // Radians, 0 looks along +X
	Pitch    float32   // Radians, negative looks down

	MinPitch float32
	MaxPitch float32

	Frame Frame
}

// NewFlyCamera creates a fly camera looking along +X.
func NewFlyCamera(frame Frame) *FlyCamera {
	return &FlyCamera{
		MinPitch: -1.55,
		MaxPitch: 1.55,
		Frame:    frame,
	}
}

// Forward returns the Z-up view direction.
func (c *FlyCamera) Forward() math.Vec3 {
	cp := gomath.Cos(float64(c.Pitch))
	return math.Vec3{
		X: float32(cp * gomath.Cos(float64(c.Yaw))),
		Y: float32(cp * gomath.Sin(float64(c.Yaw))),
		Z: float32(gomath.Sin(float64(c.Pitch))),
	}
}

// Eye returns the camera position in the frame of the model.
func (c *FlyCamera) Eye() math.Vec3 {
	return c.Frame.FromZUp(c.Position)
}

// ViewMatrix returns the view matrix in the frame of the model.
func (c *FlyCamera) ViewMatrix() math.Mat4 {
	return c.Frame.view(c.Position, c.Position.Add(c.Forward()))
}

// Turn changes yaw and pitch, clamping the pitch.
func (c *FlyCamera) Turn(dYaw, dPitch float32) {
	c.Yaw += dYaw
	c.Pitch = min(max(c.Pitch+dPitch, c.MinPitch), c.MaxPitch)
}

// Move translates the camera along its horizontal heading, its right
// vector and the vertical axis.
func (c *FlyCamera) Move(forward, right, up float32) {
	sy, cy := gomath.Sincos(float64(c.Yaw))
	c.Position.X += float32(cy)*forward + float32(sy)*right
	c.Position.Y += float32(sy)*forward - float32(cy)*right
	c.Position.Z += up
}

// LookAt turns the camera towards a Z-up target.
func (c *FlyCamera) LookAt(target math.Vec3) {
	d := target.Sub(c.Position)
	horiz := gomath.Hypot(float64(d.X), float64(d.Y))
	if horiz > 0 {
		c.Yaw = float32(gomath.Atan2(float64(d.Y), float64(d.X)))
	}
	c.Pitch = min(max(float32(gomath.Atan2(float64(d.Z), horiz)), c.MinPitch), c.MaxPitch)
}

// OrbitCamera orbits around a center point.
type OrbitCamera struct {
	Center math.Vec3 // Z-up

	// Spherical coordinates
	Distance float32
	Pitch    float32 // Elevation angle above the horizon (radians)
	Yaw      float32

	// Constraints
	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32

	ZoomSensitivity float32

	Frame Frame
}

// NewOrbitCamera creates a new orbit camera with default settings.
func NewOrbitCamera(frame Frame) *OrbitCamera {
	return &OrbitCamera{
		Distance:        200.0,
		Pitch:           0.5,
		MinDistance:     1.0,
		MaxDistance:     1e7,
		MinPitch:        0.05,
		MaxPitch:        1.5,
		ZoomSensitivity: 0.1,
		Frame:           frame,
	}
}

// Position returns the Z-up camera position.
func (c *OrbitCamera) Position() math.Vec3 {
	cp := gomath.Cos(float64(c.Pitch))
	return c.Center.Add(math.Vec3{
		X: float32(cp * gomath.Cos(float64(c.Yaw))),
		Y: float32(cp * gomath.Sin(float64(c.Yaw))),
		Z: float32(gomath.Sin(float64(c.Pitch))),
	}.Scale(c.Distance))
}

// Eye returns the camera position in the frame of the model.
func (c *OrbitCamera) Eye() math.Vec3 {
	return c.Frame.FromZUp(c.Position())
}

// ViewMatrix returns the view matrix in the frame of the model.
func (c *OrbitCamera) ViewMatrix() math.Mat4 {
	return c.Frame.view(c.Position(), c.Center)
}

// Rotate changes yaw and pitch, clamping the pitch.
func (c *OrbitCamera) Rotate(dYaw, dPitch float32) {
	c.Yaw += dYaw
	c.Pitch = min(max(c.Pitch+dPitch, c.MinPitch), c.MaxPitch)
}

// HandleZoom updates distance based on scroll wheel delta.
func (c *OrbitCamera) HandleZoom(delta float32) {
	c.Distance -= delta * c.Distance * c.ZoomSensitivity
	c.Distance = min(max(c.Distance, c.MinDistance), c.MaxDistance)
}

// FitToBounds centers the camera on a Z-up box and backs off far enough
// to see most of it.
func (c *OrbitCamera) FitToBounds(b math.AABB) {
	c.Center = b.Center()

	size := max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	c.Distance = min(max(size*0.6, c.MinDistance), c.MaxDistance)

	c.Pitch = 0.6 // Look down at ~35 degrees
	c.Yaw = 0.0
}

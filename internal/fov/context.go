package fov

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fovguard/internal/geometry"
)

// RobotPart is one robot collision solid, in world frame, at the current
// configuration.
type RobotPart struct {
	Name  string
	Solid geometry.Convex
}

// Context is the owning planning context. It must answer every query
// consistently for the duration of one NumberVisibleFeature or Clogged call.
// FieldOfView never mutates it.
type Context interface {
	// SensorPose returns the camera pose in world frame. The camera looks
	// along its Z axis, X right and Y down.
	SensorPose() (geometry.Pose, error)
	// DistanceBounds returns the range the sensor can observe. A zero max
	// means unbounded.
	DistanceBounds() (min, max float64)
	// FeaturePosition returns the world position of the named feature.
	FeaturePosition(name string) (r3.Vec, error)
	// RobotParts returns the robot collision solids in world frame.
	RobotParts() ([]RobotPart, error)
}

// Backend is the collision backend: a convex-vs-convex intersection test
// plus the depth of a solid along a viewing direction.
type Backend interface {
	Intersects(a, b geometry.Convex) (bool, error)
	NearestDepth(c geometry.Convex, origin, dir r3.Vec) float64
}

// Package scene is an owning context for the field-of-view engine: a tree
// of named frames, the sensor frame, and the robot collision links attached
// to those frames.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/geometry"
)

// World is the implicit root frame. A frame with an empty parent is
// attached to it.
const World = "world"

var (
	ErrUnknownFrame   = errors.New("unknown frame")
	ErrFrameCycle     = errors.New("frame cycle")
	ErrDuplicateFrame = errors.New("duplicate frame")
	ErrInvalidPose    = errors.New("invalid pose")
)

// Frame is a named pose relative to its parent.
type Frame struct {
	Name   string
	Parent string
	Pose   geometry.Pose
}

// Link is a robot collision solid expressed in the coordinates of Frame.
type Link struct {
	Name  string
	Frame string
	Shape geometry.Convex
}

// Sensor names the camera frame and the range it observes. A zero
// MaxDistance means unbounded.
type Sensor struct {
	Frame       string
	MinDistance float64
	MaxDistance float64
}

// Scene implements fov.Context. It is safe for concurrent use; engines
// bound to the same scene see every SetConfiguration immediately.
type Scene struct {
	mu     sync.RWMutex
	sensor Sensor
	frames map[string]Frame
	links  []Link
}

var _ fov.Context = (*Scene)(nil)

// New returns an empty scene observed from sensor.
func New(sensor Sensor) *Scene {
	return &Scene{sensor: sensor, frames: make(map[string]Frame)}
}

// AddFrame adds f. The parent may be added later; it is resolved on query.
func (s *Scene) AddFrame(f Frame) error {
	if f.Name == "" || f.Name == World {
		return fmt.Errorf("%w: frame name %q is reserved or empty", ErrInvalidPose, f.Name)
	}
	if !geometry.IsValidTransformMatrix(f.Pose) {
		return fmt.Errorf("%w: frame %q", ErrInvalidPose, f.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[f.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateFrame, f.Name)
	}
	if f.Parent == "" {
		f.Parent = World
	}
	s.frames[f.Name] = f
	return nil
}

// AddLink attaches a collision solid to a frame.
func (s *Scene) AddLink(l Link) error {
	if l.Shape == nil {
		return fmt.Errorf("link %q has no shape", l.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, l)
	return nil
}

// SetConfiguration replaces the local pose of every named frame. Either all
// poses are applied or none is.
func (s *Scene) SetConfiguration(cfg map[string]geometry.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pose := range cfg {
		if _, ok := s.frames[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFrame, name)
		}
		if !geometry.IsValidTransformMatrix(pose) {
			return fmt.Errorf("%w: frame %q", ErrInvalidPose, name)
		}
	}
	for name, pose := range cfg {
		f := s.frames[name]
		f.Pose = pose
		s.frames[name] = f
	}
	return nil
}

// Configuration returns the local pose of every frame.
func (s *Scene) Configuration() map[string]geometry.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]geometry.Pose, len(s.frames))
	for name, f := range s.frames {
		out[name] = f.Pose
	}
	return out
}

// FrameNames returns the frame names in lexical order.
func (s *Scene) FrameNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.frames))
	for name := range s.frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy. Shapes are shared; they are values or
// treated as immutable.
func (s *Scene) Clone() *Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Scene{
		sensor: s.sensor,
		frames: make(map[string]Frame, len(s.frames)),
		links:  append([]Link(nil), s.links...),
	}
	for name, f := range s.frames {
		c.frames[name] = f
	}
	return c
}

// WorldPose resolves a frame through its parent chain.
func (s *Scene) WorldPose(name string) (geometry.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worldPose(name)
}

func (s *Scene) worldPose(name string) (geometry.Pose, error) {
	var chain []geometry.Pose
	seen := make(map[string]bool)
	for cur := name; cur != World; {
		if seen[cur] {
			return geometry.Pose{}, fmt.Errorf("%w: through %q", ErrFrameCycle, cur)
		}
		seen[cur] = true
		f, ok := s.frames[cur]
		if !ok {
			if cur == name {
				return geometry.Pose{}, fmt.Errorf("%w: %q", ErrUnknownFrame, cur)
			}
			return geometry.Pose{}, fmt.Errorf("%w: %q (parent of a frame on the chain of %q)", ErrUnknownFrame, cur, name)
		}
		chain = append(chain, f.Pose)
		cur = f.Parent
	}
	out := geometry.Identity()
	for i := len(chain) - 1; i >= 0; i-- {
		out = out.Compose(chain[i])
	}
	return out, nil
}

// SensorPose implements fov.Context.
func (s *Scene) SensorPose() (geometry.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sensor.Frame == "" {
		return geometry.Pose{}, fmt.Errorf("%w: no sensor frame", ErrUnknownFrame)
	}
	return s.worldPose(s.sensor.Frame)
}

// DistanceBounds implements fov.Context.
func (s *Scene) DistanceBounds() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensor.MinDistance, s.sensor.MaxDistance
}

// FeaturePosition implements fov.Context. Features are frames; their
// position is the frame origin.
func (s *Scene) FeaturePosition(name string) (r3.Vec, error) {
	p, err := s.WorldPose(name)
	if err != nil {
		return r3.Vec{}, err
	}
	return p.Position(), nil
}

// RobotParts implements fov.Context.
func (s *Scene) RobotParts() ([]fov.RobotPart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]fov.RobotPart, 0, len(s.links))
	for _, l := range s.links {
		pose, err := s.worldPose(l.Frame)
		if err != nil {
			return nil, fmt.Errorf("link %q: %w", l.Name, err)
		}
		parts = append(parts, fov.RobotPart{
			Name:  l.Name,
			Solid: geometry.Placed{Shape: l.Shape, Pose: pose},
		})
	}
	return parts, nil
}

package scene

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/geometry"
)

// maxFileSize bounds scene and path files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Description is the on-disk form of a scene. YAML and JSON files share the
// same keys.
type Description struct {
	Name   string      `yaml:"name"`
	Sensor SensorSpec  `yaml:"sensor"`
	Frames []FrameSpec `yaml:"frames"`
	Links  []LinkSpec  `yaml:"links"`
	Groups []GroupSpec `yaml:"feature_groups"`
}

// SensorSpec describes the camera frame and its observable range in meters.
type SensorSpec struct {
	Frame       string  `yaml:"frame"`
	MinDistance float64 `yaml:"min_distance"`
	MaxDistance float64 `yaml:"max_distance"`
}

// PoseSpec is a translation plus roll, pitch, yaw in radians.
type PoseSpec struct {
	Translation [3]float64 `yaml:"translation" json:"translation"`
	RPY         [3]float64 `yaml:"rpy" json:"rpy"`
}

// Pose converts the spec to a rigid transform.
func (p PoseSpec) Pose() geometry.Pose {
	return geometry.FromRPY(p.RPY[0], p.RPY[1], p.RPY[2], vec(p.Translation))
}

// FrameSpec is one named frame. An empty parent attaches it to the world.
type FrameSpec struct {
	Name   string   `yaml:"name"`
	Parent string   `yaml:"parent,omitempty"`
	Pose   PoseSpec `yaml:"pose"`
}

// ShapeSpec is a convex primitive in its link frame, optionally offset by
// Pose. Type is one of box, sphere, capsule, hull.
type ShapeSpec struct {
	Type        string       `yaml:"type"`
	HalfExtents [3]float64   `yaml:"half_extents,omitempty"`
	Radius      float64      `yaml:"radius,omitempty"`
	A           [3]float64   `yaml:"a,omitempty"`
	B           [3]float64   `yaml:"b,omitempty"`
	Points      [][3]float64 `yaml:"points,omitempty"`
	Pose        *PoseSpec    `yaml:"pose,omitempty"`
}

// LinkSpec attaches a shape to a frame.
type LinkSpec struct {
	Name  string    `yaml:"name"`
	Frame string    `yaml:"frame"`
	Shape ShapeSpec `yaml:"shape"`
}

// FeatureSpec is one feature; Name is the frame carrying its position.
type FeatureSpec struct {
	Name string  `yaml:"name"`
	Size float64 `yaml:"size"`
}

// GroupSpec is one feature group. Nil margins take the caller's defaults.
type GroupSpec struct {
	Name                string        `yaml:"name"`
	VisibilityThreshold int           `yaml:"visibility_threshold"`
	DepthMargin         *float64      `yaml:"depth_margin,omitempty"`
	SizeMargin          *float64      `yaml:"size_margin,omitempty"`
	Features            []FeatureSpec `yaml:"features"`
}

// Load reads a scene description from a .yaml, .yml or .json file.
func Load(path string) (*Description, error) {
	d := &Description{}
	if err := DecodeFile(path, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeFile validates the path and strictly decodes it into v. JSON is
// accepted through the YAML decoder.
func DecodeFile(path string, v any) error {
	cleanPath := filepath.Clean(path)
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", cleanPath, err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cleanPath, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s is empty", cleanPath)
		}
		return fmt.Errorf("failed to parse %s: %w", cleanPath, err)
	}
	return nil
}

// Build returns a scene holding the described frames and links. Every link
// frame and the sensor frame must resolve to the world.
func (d *Description) Build() (*Scene, error) {
	if d.Sensor.MinDistance < 0 || d.Sensor.MaxDistance < 0 {
		return nil, fmt.Errorf("sensor distance bounds must be non-negative")
	}
	if d.Sensor.MaxDistance > 0 && d.Sensor.MaxDistance < d.Sensor.MinDistance {
		return nil, fmt.Errorf("sensor max_distance %g below min_distance %g",
			d.Sensor.MaxDistance, d.Sensor.MinDistance)
	}

	s := New(Sensor{
		Frame:       d.Sensor.Frame,
		MinDistance: d.Sensor.MinDistance,
		MaxDistance: d.Sensor.MaxDistance,
	})
	for _, f := range d.Frames {
		if err := s.AddFrame(Frame{Name: f.Name, Parent: f.Parent, Pose: f.Pose.Pose()}); err != nil {
			return nil, err
		}
	}
	for _, l := range d.Links {
		shape, err := l.Shape.Convex()
		if err != nil {
			return nil, fmt.Errorf("link %q: %w", l.Name, err)
		}
		if err := s.AddLink(Link{Name: l.Name, Frame: l.Frame, Shape: shape}); err != nil {
			return nil, err
		}
	}

	if _, err := s.SensorPose(); err != nil {
		return nil, fmt.Errorf("sensor: %w", err)
	}
	if _, err := s.RobotParts(); err != nil {
		return nil, err
	}
	return s, nil
}

// Convex builds the primitive.
func (sh ShapeSpec) Convex() (geometry.Convex, error) {
	var c geometry.Convex
	switch sh.Type {
	case "box":
		for _, h := range sh.HalfExtents {
			if h < 0 {
				return nil, fmt.Errorf("box half_extents must be non-negative")
			}
		}
		c = geometry.Box{Pose: geometry.Identity(), Half: vec(sh.HalfExtents)}
	case "sphere":
		if sh.Radius < 0 {
			return nil, fmt.Errorf("sphere radius must be non-negative")
		}
		c = geometry.Sphere{Radius: sh.Radius}
	case "capsule":
		if sh.Radius < 0 {
			return nil, fmt.Errorf("capsule radius must be non-negative")
		}
		c = geometry.Capsule{A: vec(sh.A), B: vec(sh.B), Radius: sh.Radius}
	case "hull":
		if len(sh.Points) == 0 {
			return nil, fmt.Errorf("hull needs at least one point")
		}
		h := make(geometry.Hull, len(sh.Points))
		for i, p := range sh.Points {
			h[i] = vec(p)
		}
		c = h
	default:
		return nil, fmt.Errorf("unknown shape type %q", sh.Type)
	}
	if sh.Pose != nil {
		c = geometry.Placed{Shape: c, Pose: sh.Pose.Pose()}
	}
	return c, nil
}

// FeatureGroups builds the described groups. Groups without explicit
// margins use defaultDepth and defaultSize.
func (d *Description) FeatureGroups(defaultDepth, defaultSize float64) ([]*fov.FeatureGroup, error) {
	out := make([]*fov.FeatureGroup, 0, len(d.Groups))
	for _, gs := range d.Groups {
		g, err := gs.Build(defaultDepth, defaultSize)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Build validates the group.
func (gs GroupSpec) Build(defaultDepth, defaultSize float64) (*fov.FeatureGroup, error) {
	depth, size := defaultDepth, defaultSize
	if gs.DepthMargin != nil {
		depth = *gs.DepthMargin
	}
	if gs.SizeMargin != nil {
		size = *gs.SizeMargin
	}
	features := make([]fov.Feature, 0, len(gs.Features))
	for _, fs := range gs.Features {
		f, err := fov.NewFeature(fs.Name, fs.Size)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", gs.Name, err)
		}
		features = append(features, f)
	}
	g, err := fov.NewFeatureGroup(gs.VisibilityThreshold, depth, size, features...)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", gs.Name, err)
	}
	return g.WithName(gs.Name), nil
}

func vec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

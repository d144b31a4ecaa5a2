package fov

import (
	"fmt"
	"math"

	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/monitoring"
)

// Occlusion explains why a feature is not visible.
type Occlusion struct {
	Feature string  `json:"feature"`
	Part    string  `json:"part,omitempty"`
	Depth   float64 `json:"depth"`
	// OutOfRange is set when the feature lies outside the sensor distance
	// bounds; Depth is then the feature distance.
	OutOfRange bool `json:"out_of_range,omitempty"`
}

// Report is the evaluation of one feature group.
type Report struct {
	Group      string      `json:"group"`
	Total      int         `json:"total"`
	Visible    int         `json:"visible"`
	Threshold  int         `json:"threshold"`
	Occlusions []Occlusion `json:"occlusions,omitempty"`
}

// Clogged reports whether the group is below its threshold.
func (r Report) Clogged() bool {
	return r.Visible < r.Threshold
}

func (f *FieldOfView) evaluateGroup(g *FeatureGroup, snap snapshot) (Report, error) {
	r := Report{Group: g.label(), Total: g.Len(), Threshold: g.threshold}
	for _, feat := range g.features {
		occ, err := f.featureVisible(feat, g, snap)
		if err != nil {
			return Report{}, err
		}
		if occ == nil {
			r.Visible++
			continue
		}
		r.Occlusions = append(r.Occlusions, *occ)
	}
	return r, nil
}

// featureVisible returns nil when no robot part occludes feat, otherwise
// the first occlusion found.
func (f *FieldOfView) featureVisible(feat Feature, g *FeatureGroup, snap snapshot) (*Occlusion, error) {
	pos, err := f.ctx.FeaturePosition(feat.name)
	if err != nil {
		return nil, fmt.Errorf("%w: feature %q position: %w", ErrGeometryQuery, feat.name, err)
	}
	line, err := newSightLine(snap.sensor, pos)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", feat.name, err)
	}
	if line.depth < snap.minRange || (snap.maxRange > 0 && line.depth > snap.maxRange) {
		return &Occlusion{Feature: feat.name, Depth: line.depth, OutOfRange: true}, nil
	}

	volume, err := featureTetrahedra(snap.sensor, pos, feat.size, g.sizeMargin)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", feat.name, err)
	}
	// Geometry closer to the feature than the margin sits on or around it
	// and does not count as an occluder: only the part of the volume in
	// front of limit is tested.
	limit := line.depth - g.depthMargin
	if limit <= 0 {
		return nil, nil
	}
	volume = truncateVolume(volume, line.origin, limit/line.depth)

	for _, part := range snap.robotParts {
		clogs, depth, err := f.robotClogsFieldOfView(part, volume, line, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %q against %q: %w", ErrGeometryQuery, feat.name, part.Name, err)
		}
		if clogs {
			monitoring.Debugf("[fov] %s occluded by %s at depth %.3f (limit %.3f)", feat.name, part.Name, depth, limit)
			return &Occlusion{Feature: feat.name, Part: part.Name, Depth: depth}, nil
		}
	}
	return nil, nil
}

// robotClogsFieldOfView reports whether one robot part occludes one
// truncated feature volume. The depth of the part along the line of sight
// rejects parts lying entirely beyond limit before the intersection test.
func (f *FieldOfView) robotClogsFieldOfView(part RobotPart, volume [2]geometry.Tetrahedron, line sightLine, limit float64) (bool, float64, error) {
	depth := f.backend.NearestDepth(part.Solid, line.origin, line.dir)
	if math.IsNaN(depth) {
		return false, depth, geometry.ErrNonFinite
	}
	if depth >= limit {
		return false, depth, nil
	}
	for _, tet := range volume {
		hit, err := f.backend.Intersects(tet, part.Solid)
		if err != nil {
			return false, depth, err
		}
		if hit {
			return true, depth, nil
		}
	}
	return false, depth, nil
}

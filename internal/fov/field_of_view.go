package fov

import (
	"fmt"

	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/monitoring"
)

// FieldOfView evaluates feature group visibility against the robot geometry
// of its owning Context. It keeps no cached result between calls.
type FieldOfView struct {
	ctx     Context
	backend Backend
	groups  []*FeatureGroup
}

// Option configures a FieldOfView.
type Option func(*FieldOfView)

// WithBackend replaces the default GJK collision backend.
func WithBackend(b Backend) Option {
	return func(f *FieldOfView) {
		if b != nil {
			f.backend = b
		}
	}
}

// New returns an engine bound to ctx. ctx is not owned and must outlive the
// engine.
func New(ctx Context, opts ...Option) (*FieldOfView, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	f := &FieldOfView{ctx: ctx, backend: geometry.GJK{}}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// AddFeatureGroup registers g for evaluation. Groups are not deduplicated.
func (f *FieldOfView) AddFeatureGroup(g *FeatureGroup) error {
	if g == nil || !g.valid {
		return fmt.Errorf("%w: feature group must be built with NewFeatureGroup", ErrInvalidArgument)
	}
	f.groups = append(f.groups, g)
	return nil
}

// ResetFeatureGroups removes every registered group.
func (f *FieldOfView) ResetFeatureGroups() {
	f.groups = nil
}

// FeatureGroups returns the registered groups in insertion order.
func (f *FieldOfView) FeatureGroups() []*FeatureGroup {
	return append([]*FeatureGroup(nil), f.groups...)
}

// NumberVisibleFeature returns how many features of g are not occluded by
// the robot at the context's current state. g need not be registered.
func (f *FieldOfView) NumberVisibleFeature(g *FeatureGroup) (int, error) {
	if g == nil || !g.valid {
		return 0, fmt.Errorf("%w: feature group must be built with NewFeatureGroup", ErrInvalidArgument)
	}
	if g.Len() == 0 {
		return 0, nil
	}
	snap, err := f.snapshot()
	if err != nil {
		return 0, err
	}
	r, err := f.evaluateGroup(g, snap)
	if err != nil {
		return 0, err
	}
	return r.Visible, nil
}

// Clogged reports whether some registered group has fewer visible features
// than its threshold. With no registered group it is false.
func (f *FieldOfView) Clogged() (bool, error) {
	if len(f.groups) == 0 {
		return false, nil
	}
	snap, err := f.snapshot()
	if err != nil {
		return false, err
	}
	for _, g := range f.groups {
		r, err := f.evaluateGroup(g, snap)
		if err != nil {
			return false, err
		}
		if r.Clogged() {
			monitoring.Logf("[fov] %s clogged: %d/%d visible, threshold %d",
				g.label(), r.Visible, r.Total, r.Threshold)
			return true, nil
		}
	}
	return false, nil
}

// Evaluate returns one report per registered group, without
// short-circuiting.
func (f *FieldOfView) Evaluate() ([]Report, error) {
	if len(f.groups) == 0 {
		return nil, nil
	}
	snap, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(f.groups))
	for _, g := range f.groups {
		r, err := f.evaluateGroup(g, snap)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// snapshot is the context state shared by every feature of one query.
type snapshot struct {
	sensor     geometry.Pose
	minRange   float64
	maxRange   float64
	robotParts []RobotPart
}

func (f *FieldOfView) snapshot() (snapshot, error) {
	sensor, err := f.ctx.SensorPose()
	if err != nil {
		return snapshot{}, fmt.Errorf("%w: sensor pose: %w", ErrGeometryQuery, err)
	}
	if !geometry.IsValidTransformMatrix(sensor) {
		return snapshot{}, fmt.Errorf("%w: sensor pose is not a rigid transform", ErrGeometryQuery)
	}
	parts, err := f.ctx.RobotParts()
	if err != nil {
		return snapshot{}, fmt.Errorf("%w: robot geometry: %w", ErrGeometryQuery, err)
	}
	for _, p := range parts {
		if p.Solid == nil {
			return snapshot{}, fmt.Errorf("%w: robot part %q has no solid", ErrGeometryQuery, p.Name)
		}
	}
	minRange, maxRange := f.ctx.DistanceBounds()
	return snapshot{sensor: sensor, minRange: minRange, maxRange: maxRange, robotParts: parts}, nil
}

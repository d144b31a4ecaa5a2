package fov

import (
	"fmt"
	"math"
)

// Feature is a tracked visual element. Its name is also the frame that
// carries its position in the owning context; size is its footprint side
// length in metres.
type Feature struct {
	name string
	size float64
}

// NewFeature validates and returns a Feature.
func NewFeature(name string, size float64) (Feature, error) {
	if name == "" {
		return Feature{}, fmt.Errorf("%w: feature name is empty", ErrInvalidArgument)
	}
	if !(size > 0) || math.IsInf(size, 0) {
		return Feature{}, fmt.Errorf("%w: feature %q size must be positive and finite, got %v", ErrInvalidArgument, name, size)
	}
	return Feature{name: name, size: size}, nil
}

// MustFeature is NewFeature for static tables; it panics on invalid input.
func MustFeature(name string, size float64) Feature {
	f, err := NewFeature(name, size)
	if err != nil {
		panic(err)
	}
	return f
}

// Name returns the feature (and frame) name.
func (f Feature) Name() string { return f.name }

// Size returns the footprint side length.
func (f Feature) Size() float64 { return f.size }

func (f Feature) String() string {
	return fmt.Sprintf("%s(%.3gm)", f.name, f.size)
}

// FeatureGroup is an immutable set of features sharing a visibility policy.
// Build it with NewFeatureGroup; a zero FeatureGroup is rejected by
// FieldOfView.
type FeatureGroup struct {
	name        string
	features    []Feature
	threshold   int
	depthMargin float64
	sizeMargin  float64
	valid       bool
}

// NewFeatureGroup validates its arguments and returns a group owning a copy
// of features.
//
// threshold is the minimum number of simultaneously visible features;
// depthMargin is the distance in front of a feature inside which robot
// geometry does not count as occluding; sizeMargin inflates every footprint
// before the occlusion test.
func NewFeatureGroup(threshold int, depthMargin, sizeMargin float64, features ...Feature) (*FeatureGroup, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: visibility threshold %d is negative", ErrInvalidArgument, threshold)
	}
	if threshold > len(features) {
		return nil, fmt.Errorf("%w: visibility threshold %d exceeds feature count %d", ErrInvalidArgument, threshold, len(features))
	}
	if err := checkMargin("depth", depthMargin); err != nil {
		return nil, err
	}
	if err := checkMargin("size", sizeMargin); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(features))
	for i, f := range features {
		if f.name == "" || !(f.size > 0) {
			return nil, fmt.Errorf("%w: feature %d was not built with NewFeature", ErrInvalidArgument, i)
		}
		if _, dup := seen[f.name]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrInvalidArgument, f.name)
		}
		seen[f.name] = struct{}{}
	}

	return &FeatureGroup{
		features:    append([]Feature(nil), features...),
		threshold:   threshold,
		depthMargin: depthMargin,
		sizeMargin:  sizeMargin,
		valid:       true,
	}, nil
}

func checkMargin(kind string, v float64) error {
	if !(v >= 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s margin must be finite and non-negative, got %v", ErrInvalidArgument, kind, v)
	}
	return nil
}

// WithName returns a copy of g labelled name. The label only appears in
// diagnostics and reports.
func (g *FeatureGroup) WithName(name string) *FeatureGroup {
	c := *g
	c.name = name
	return &c
}

// Name returns the diagnostic label, possibly empty.
func (g *FeatureGroup) Name() string { return g.name }

// Features returns a copy of the member features in order.
func (g *FeatureGroup) Features() []Feature {
	return append([]Feature(nil), g.features...)
}

// Len returns the number of features.
func (g *FeatureGroup) Len() int { return len(g.features) }

// VisibilityThreshold returns the minimum visible feature count.
func (g *FeatureGroup) VisibilityThreshold() int { return g.threshold }

// DepthMargin returns the group depth tolerance.
func (g *FeatureGroup) DepthMargin() float64 { return g.depthMargin }

// SizeMargin returns the group footprint inflation.
func (g *FeatureGroup) SizeMargin() float64 { return g.sizeMargin }

func (g *FeatureGroup) label() string {
	if g.name != "" {
		return g.name
	}
	return fmt.Sprintf("group(%d features)", len(g.features))
}

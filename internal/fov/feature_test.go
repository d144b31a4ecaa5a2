package fov

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeature(t *testing.T) {
	tests := []struct {
		name    string
		fname   string
		size    float64
		wantErr bool
	}{
		{"valid", "tag0", 0.05, false},
		{"zero size", "tag0", 0, true},
		{"negative size", "tag0", -1, true},
		{"NaN size", "tag0", math.NaN(), true},
		{"infinite size", "tag0", math.Inf(1), true},
		{"empty name", "", 0.05, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFeature(tt.fname, tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fname, f.Name())
			assert.Equal(t, tt.size, f.Size())
		})
	}
}

func TestMustFeaturePanics(t *testing.T) {
	assert.Panics(t, func() { MustFeature("x", 0) })
}

func TestNewFeatureGroup(t *testing.T) {
	a, b := MustFeature("a", 0.1), MustFeature("b", 0.2)
	tests := []struct {
		name        string
		threshold   int
		depth, size float64
		features    []Feature
		wantErr     bool
	}{
		{"threshold equals count", 2, 0.01, 0.01, []Feature{a, b}, false},
		{"zero threshold, no features", 0, 0, 0, nil, false},
		{"negative threshold", -1, 0, 0, []Feature{a}, true},
		{"threshold above count", 3, 0, 0, []Feature{a, b}, true},
		{"negative depth margin", 1, -0.1, 0, []Feature{a}, true},
		{"NaN size margin", 1, 0, math.NaN(), []Feature{a}, true},
		{"duplicate names", 1, 0, 0, []Feature{a, a}, true},
		{"zero feature", 1, 0, 0, []Feature{{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewFeatureGroup(tt.threshold, tt.depth, tt.size, tt.features...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.threshold, g.VisibilityThreshold())
			assert.Equal(t, tt.depth, g.DepthMargin())
			assert.Equal(t, tt.size, g.SizeMargin())
			assert.Equal(t, len(tt.features), g.Len())
		})
	}
}

func TestFeatureGroupOwnsItsFeatures(t *testing.T) {
	features := []Feature{MustFeature("a", 0.1), MustFeature("b", 0.2)}
	g, err := NewFeatureGroup(1, 0, 0, features...)
	require.NoError(t, err)

	features[0] = MustFeature("mutated", 1)
	assert.Equal(t, "a", g.Features()[0].Name())

	out := g.Features()
	out[1] = MustFeature("mutated", 1)
	assert.Equal(t, "b", g.Features()[1].Name())
}

func TestFeatureGroupWithName(t *testing.T) {
	g, err := NewFeatureGroup(0, 0, 0, MustFeature("a", 0.1))
	require.NoError(t, err)

	named := g.WithName("left-plaque")
	assert.Equal(t, "left-plaque", named.Name())
	assert.Equal(t, "", g.Name(), "original is unchanged")
	assert.Equal(t, "left-plaque", named.label())
	assert.Equal(t, "group(1 features)", g.label())
}

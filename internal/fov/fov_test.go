package fov

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fovguard/internal/geometry"
)

// fakeContext is a static owning context: camera at the origin looking
// along +Z, features on the plane z=2.
type fakeContext struct {
	sensor    geometry.Pose
	sensorErr error
	features  map[string]r3.Vec
	parts     []RobotPart
	partsErr  error
	min, max  float64
	calls     int
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		sensor: geometry.Identity(),
		features: map[string]r3.Vec{
			"left":   {X: -0.3, Z: 2},
			"center": {Z: 2},
			"right":  {X: 0.3, Z: 2},
		},
	}
}

func (c *fakeContext) SensorPose() (geometry.Pose, error) {
	c.calls++
	return c.sensor, c.sensorErr
}

func (c *fakeContext) DistanceBounds() (float64, float64) { return c.min, c.max }

func (c *fakeContext) FeaturePosition(name string) (r3.Vec, error) {
	p, ok := c.features[name]
	if !ok {
		return r3.Vec{}, errors.New("unknown frame " + name)
	}
	return p, nil
}

func (c *fakeContext) RobotParts() ([]RobotPart, error) {
	return c.parts, c.partsErr
}

func threeFeatureGroup(t *testing.T, threshold int) *FeatureGroup {
	t.Helper()
	g, err := NewFeatureGroup(threshold, 0.01, 0,
		MustFeature("left", 0.05),
		MustFeature("center", 0.05),
		MustFeature("right", 0.05),
	)
	require.NoError(t, err)
	return g.WithName("plaque")
}

func newEngine(t *testing.T, ctx Context) *FieldOfView {
	t.Helper()
	f, err := New(ctx)
	require.NoError(t, err)
	return f
}

func TestNewRejectsNilContext(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRobotFarFromLineOfSight(t *testing.T) {
	ctx := newFakeContext()
	ctx.parts = []RobotPart{{Name: "gripper", Solid: geometry.Sphere{Center: r3.Vec{X: 5, Y: 5}, Radius: 0.1}}}
	f := newEngine(t, ctx)
	g := threeFeatureGroup(t, 2)
	require.NoError(t, f.AddFeatureGroup(g))

	n, err := f.NumberVisibleFeature(g)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	clogged, err := f.Clogged()
	require.NoError(t, err)
	assert.False(t, clogged)
}

func TestRobotOccludesTwoFeatures(t *testing.T) {
	ctx := newFakeContext()
	// Halfway to the plaque, covering the left and center lines of sight.
	ctx.parts = []RobotPart{{Name: "forearm", Solid: geometry.Box{
		Pose: geometry.Translation(-0.15, 0, 1),
		Half: r3.Vec{X: 0.25, Y: 0.1, Z: 0.05},
	}}}
	f := newEngine(t, ctx)
	g := threeFeatureGroup(t, 2)
	require.NoError(t, f.AddFeatureGroup(g))

	n, err := f.NumberVisibleFeature(g)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clogged, err := f.Clogged()
	require.NoError(t, err)
	assert.True(t, clogged)

	reports, err := f.Evaluate()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "plaque", reports[0].Group)
	assert.Equal(t, 1, reports[0].Visible)
	require.Len(t, reports[0].Occlusions, 2)
	assert.Equal(t, "left", reports[0].Occlusions[0].Feature)
	assert.Equal(t, "center", reports[0].Occlusions[1].Feature)
	assert.Equal(t, "forearm", reports[0].Occlusions[0].Part)
	assert.InDelta(t, 0.95, reports[0].Occlusions[1].Depth, 1e-9, "box face depth on the optical axis")
}

func TestZeroThresholdNeverClogs(t *testing.T) {
	ctx := newFakeContext()
	ctx.parts = []RobotPart{{Name: "wall", Solid: geometry.Box{
		Pose: geometry.Translation(0, 0, 1),
		Half: r3.Vec{X: 2, Y: 2, Z: 0.05},
	}}}
	f := newEngine(t, ctx)
	g := threeFeatureGroup(t, 0)
	require.NoError(t, f.AddFeatureGroup(g))

	n, err := f.NumberVisibleFeature(g)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clogged, err := f.Clogged()
	require.NoError(t, err)
	assert.False(t, clogged)
}

func TestThresholdAboveFeatureCount(t *testing.T) {
	_, err := NewFeatureGroup(5, 0, 0,
		MustFeature("a", 0.1), MustFeature("b", 0.1), MustFeature("c", 0.1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEmptyGroupHasNoVisibleFeature(t *testing.T) {
	ctx := newFakeContext()
	ctx.sensorErr = errors.New("no kinematic update")
	f := newEngine(t, ctx)

	g, err := NewFeatureGroup(0, 0, 0)
	require.NoError(t, err)
	n, err := f.NumberVisibleFeature(g)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCloggedWithoutGroups(t *testing.T) {
	ctx := newFakeContext()
	ctx.sensorErr = errors.New("no kinematic update")
	f := newEngine(t, ctx)

	clogged, err := f.Clogged()
	require.NoError(t, err)
	assert.False(t, clogged)
	assert.Zero(t, ctx.calls, "no group means no geometry query")
}

func TestCloggedIsOrOverGroups(t *testing.T) {
	ctx := newFakeContext()
	ctx.features["far"] = r3.Vec{X: 1, Z: 2}
	// Blocks only the "far" line of sight.
	ctx.parts = []RobotPart{{Name: "elbow", Solid: geometry.Sphere{Center: r3.Vec{X: 0.5, Z: 1}, Radius: 0.05}}}
	f := newEngine(t, ctx)

	healthy := threeFeatureGroup(t, 3)
	single, err := NewFeatureGroup(1, 0, 0, MustFeature("far", 0.05))
	require.NoError(t, err)

	require.NoError(t, f.AddFeatureGroup(healthy))
	clogged, err := f.Clogged()
	require.NoError(t, err)
	assert.False(t, clogged)

	require.NoError(t, f.AddFeatureGroup(single))
	clogged, err = f.Clogged()
	require.NoError(t, err)
	assert.True(t, clogged)

	reports, err := f.Evaluate()
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.False(t, reports[0].Clogged())
	assert.True(t, reports[1].Clogged())
}

func TestAddFeatureGroupRejectsMalformed(t *testing.T) {
	f := newEngine(t, newFakeContext())
	assert.ErrorIs(t, f.AddFeatureGroup(nil), ErrInvalidArgument)
	assert.ErrorIs(t, f.AddFeatureGroup(&FeatureGroup{}), ErrInvalidArgument)
	assert.Empty(t, f.FeatureGroups())

	_, err := f.NumberVisibleFeature(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAddFeatureGroupKeepsDuplicates(t *testing.T) {
	f := newEngine(t, newFakeContext())
	g := threeFeatureGroup(t, 1)
	require.NoError(t, f.AddFeatureGroup(g))
	require.NoError(t, f.AddFeatureGroup(g))
	assert.Len(t, f.FeatureGroups(), 2)
}

func TestResetFeatureGroupsIsIdempotent(t *testing.T) {
	f := newEngine(t, newFakeContext())
	f.ResetFeatureGroups()
	assert.Empty(t, f.FeatureGroups())

	require.NoError(t, f.AddFeatureGroup(threeFeatureGroup(t, 1)))
	f.ResetFeatureGroups()
	assert.Empty(t, f.FeatureGroups())
	f.ResetFeatureGroups()
	assert.Empty(t, f.FeatureGroups())
}

func TestDepthMarginIgnoresGeometryAtTheFeature(t *testing.T) {
	ctx := newFakeContext()
	// A fingertip resting just in front of the center feature.
	ctx.parts = []RobotPart{{Name: "finger", Solid: geometry.Sphere{Center: r3.Vec{Z: 1.98}, Radius: 0.01}}}
	f := newEngine(t, ctx)

	tight, err := NewFeatureGroup(1, 0, 0, MustFeature("center", 0.05))
	require.NoError(t, err)
	n, err := f.NumberVisibleFeature(tight)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no margin: the fingertip occludes")

	tolerant, err := NewFeatureGroup(1, 0.05, 0, MustFeature("center", 0.05))
	require.NoError(t, err)
	n, err = f.NumberVisibleFeature(tolerant)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "within the depth margin the fingertip is not an occluder")
}

func TestGeometryBehindFeatureOrSensorDoesNotOcclude(t *testing.T) {
	ctx := newFakeContext()
	ctx.parts = []RobotPart{
		{Name: "behind-feature", Solid: geometry.Sphere{Center: r3.Vec{Z: 3}, Radius: 0.5}},
		{Name: "behind-sensor", Solid: geometry.Sphere{Center: r3.Vec{Z: -1}, Radius: 0.5}},
	}
	f := newEngine(t, ctx)
	g := threeFeatureGroup(t, 3)

	n, err := f.NumberVisibleFeature(g)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLongPartBeyondMarginDoesNotOcclude(t *testing.T) {
	ctx := newFakeContext()
	// Reaches towards the camera off-axis, but crosses the center line of
	// sight only behind the depth margin.
	ctx.parts = []RobotPart{{Name: "rail", Solid: geometry.Capsule{
		A: r3.Vec{X: 1, Z: 0.5}, B: r3.Vec{X: -0.02, Z: 1.99}, Radius: 0.005,
	}}}
	f := newEngine(t, ctx)
	g, err := NewFeatureGroup(1, 0.1, 0, MustFeature("center", 0.02))
	require.NoError(t, err)

	n, err := f.NumberVisibleFeature(g)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVisibleCountMonotonicInSize(t *testing.T) {
	ctx := newFakeContext()
	ctx.parts = []RobotPart{{Name: "wrist", Solid: geometry.Sphere{Center: r3.Vec{X: 0.1, Z: 1}, Radius: 0.02}}}
	f := newEngine(t, ctx)

	prev := 2
	for _, size := range []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5} {
		g, err := NewFeatureGroup(0, 0, 0, MustFeature("center", size), MustFeature("right", size))
		require.NoError(t, err)
		n, err := f.NumberVisibleFeature(g)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, prev, "size %v", size)
		assert.GreaterOrEqual(t, n, 0)
		prev = n
	}
	assert.Equal(t, 0, prev, "the largest footprints are occluded")

	prev = 2
	for _, margin := range []float64{0, 0.05, 0.1, 0.2, 0.4} {
		g, err := NewFeatureGroup(0, 0, margin, MustFeature("center", 0.05), MustFeature("right", 0.05))
		require.NoError(t, err)
		n, err := f.NumberVisibleFeature(g)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, prev, "size margin %v", margin)
		prev = n
	}
}

func TestDistanceBounds(t *testing.T) {
	ctx := newFakeContext()
	ctx.max = 1.5
	f := newEngine(t, ctx)
	g := threeFeatureGroup(t, 1)

	reports := mustEvaluate(t, f, g)
	assert.Equal(t, 0, reports[0].Visible)
	for _, o := range reports[0].Occlusions {
		assert.True(t, o.OutOfRange, o.Feature)
	}

	ctx.max = 0
	ctx.min = 0.5
	reports = mustEvaluate(t, f, g)
	assert.Equal(t, 3, reports[0].Visible)
}

func mustEvaluate(t *testing.T, f *FieldOfView, groups ...*FeatureGroup) []Report {
	t.Helper()
	f.ResetFeatureGroups()
	for _, g := range groups {
		require.NoError(t, f.AddFeatureGroup(g))
	}
	reports, err := f.Evaluate()
	require.NoError(t, err)
	return reports
}

type failingBackend struct{ err error }

func (b failingBackend) Intersects(geometry.Convex, geometry.Convex) (bool, error) {
	return false, b.err
}

func (b failingBackend) NearestDepth(c geometry.Convex, origin, dir r3.Vec) float64 {
	return geometry.NearestDepth(c, origin, dir)
}

func TestGeometryQueryErrors(t *testing.T) {
	backendErr := errors.New("backend fault")
	occluder := []RobotPart{{Name: "arm", Solid: geometry.Sphere{Center: r3.Vec{Z: 1}, Radius: 0.2}}}

	tests := []struct {
		name  string
		setup func(*fakeContext) []Option
		cause error
	}{
		{
			name: "sensor pose unavailable",
			setup: func(c *fakeContext) []Option {
				c.sensorErr = errors.New("no kinematic update")
				return nil
			},
		},
		{
			name: "sensor pose not rigid",
			setup: func(c *fakeContext) []Option {
				c.sensor = geometry.Pose{}
				return nil
			},
		},
		{
			name: "robot geometry unavailable",
			setup: func(c *fakeContext) []Option {
				c.partsErr = errors.New("collision model not loaded")
				return nil
			},
		},
		{
			name: "unknown feature frame",
			setup: func(c *fakeContext) []Option {
				delete(c.features, "right")
				return nil
			},
		},
		{
			name: "feature at sensor origin",
			setup: func(c *fakeContext) []Option {
				c.features["right"] = r3.Vec{}
				return nil
			},
		},
		{
			name: "backend failure",
			setup: func(c *fakeContext) []Option {
				c.parts = occluder
				return []Option{WithBackend(failingBackend{err: backendErr})}
			},
			cause: backendErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newFakeContext()
			opts := tt.setup(ctx)
			f, err := New(ctx, opts...)
			require.NoError(t, err)
			g := threeFeatureGroup(t, 1)
			require.NoError(t, f.AddFeatureGroup(g))

			n, err := f.NumberVisibleFeature(g)
			assert.ErrorIs(t, err, ErrGeometryQuery)
			assert.Zero(t, n, "no partial count on error")
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}

			clogged, err := f.Clogged()
			assert.ErrorIs(t, err, ErrGeometryQuery)
			assert.False(t, clogged)
		})
	}
}

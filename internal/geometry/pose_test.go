package geometry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestIdentityApply(t *testing.T) {
	p := r3.Vec{X: 1, Y: -2, Z: 3}
	if diff := cmp.Diff(p, Identity().Apply(p), approx); diff != "" {
		t.Errorf("Identity().Apply mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslation(t *testing.T) {
	p := Translation(1, 2, 3)
	got := p.Apply(r3.Vec{X: 1})
	want := r3.Vec{X: 2, Y: 2, Z: 3}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	// Directions ignore translation.
	if diff := cmp.Diff(r3.Vec{X: 1}, p.Rotate(r3.Vec{X: 1}), approx); diff != "" {
		t.Errorf("Rotate mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRPY(t *testing.T) {
	tests := []struct {
		name             string
		roll, pitch, yaw float64
		in, want         r3.Vec
	}{
		{"yaw quarter turn", 0, 0, math.Pi / 2, r3.Vec{X: 1}, r3.Vec{Y: 1}},
		{"pitch quarter turn", 0, math.Pi / 2, 0, r3.Vec{X: 1}, r3.Vec{Z: -1}},
		{"roll quarter turn", math.Pi / 2, 0, 0, r3.Vec{Y: 1}, r3.Vec{Z: 1}},
		{"zero", 0, 0, 0, r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 1, Y: 2, Z: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromRPY(tt.roll, tt.pitch, tt.yaw, r3.Vec{})
			if diff := cmp.Diff(tt.want, p.Rotate(tt.in), approx); diff != "" {
				t.Errorf("Rotate mismatch (-want +got):\n%s", diff)
			}
			assert.True(t, IsValidTransformMatrix(p))
		})
	}
}

func TestInverseCompose(t *testing.T) {
	p := FromRPY(0.3, -0.7, 1.1, r3.Vec{X: 0.5, Y: -1, Z: 2})
	got := p.Compose(p.Inverse())
	if diff := cmp.Diff(Identity(), got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("p*p^-1 mismatch (-want +got):\n%s", diff)
	}

	v := r3.Vec{X: 0.1, Y: 0.2, Z: 0.3}
	if diff := cmp.Diff(v, p.Inverse().Apply(p.Apply(v)), approx); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRotationRoundTrip(t *testing.T) {
	for _, rpy := range [][3]float64{
		{0, 0, 0},
		{0.1, 0.2, 0.3},
		{math.Pi, 0, 0},
		{0, math.Pi, 0},
		{0, 0, math.Pi},
		{-2.5, 0.4, 1.9},
	} {
		p := FromRPY(rpy[0], rpy[1], rpy[2], r3.Vec{X: 1})
		back := FromRotation(p.Rotation(), p.Position())
		if diff := cmp.Diff(p, back, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("rpy=%v: rotation round trip mismatch (-want +got):\n%s", rpy, diff)
		}
	}
}

func TestInterpolate(t *testing.T) {
	a := Translation(0, 0, 0)
	b := FromRPY(0, 0, math.Pi/2, r3.Vec{X: 2})

	mid := Interpolate(a, b, 0.5)
	if diff := cmp.Diff(r3.Vec{X: 1}, mid.Position(), approx); diff != "" {
		t.Errorf("mid position mismatch (-want +got):\n%s", diff)
	}
	want := r3.Vec{X: math.Cos(math.Pi / 4), Y: math.Sin(math.Pi / 4)}
	if diff := cmp.Diff(want, mid.Axis(0), approx); diff != "" {
		t.Errorf("mid X axis mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(a, Interpolate(a, b, 0), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("t=0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b, Interpolate(a, b, 1), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("t=1 mismatch (-want +got):\n%s", diff)
	}
}

func TestIsValidTransformMatrix(t *testing.T) {
	assert.True(t, IsValidTransformMatrix(Identity()))

	scaled := Identity()
	scaled[0] = 2
	assert.False(t, IsValidTransformMatrix(scaled), "scaled rotation")

	reflected := Identity()
	reflected[10] = -1
	assert.False(t, IsValidTransformMatrix(reflected), "reflection")

	badRow := Identity()
	badRow[12] = 1
	assert.False(t, IsValidTransformMatrix(badRow), "projective row")

	nan := Identity()
	nan[3] = math.NaN()
	assert.False(t, IsValidTransformMatrix(nan), "NaN translation")

	var zero Pose
	assert.False(t, IsValidTransformMatrix(zero), "zero matrix")
}

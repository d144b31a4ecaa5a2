package fov

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fovguard/internal/geometry"
)

// minLineOfSight is the shortest sensor-to-feature distance for which a
// viewing direction is defined.
const minLineOfSight = 1e-9

// sightLine is the line of sight from the sensor origin to one feature.
type sightLine struct {
	origin r3.Vec
	dir    r3.Vec // unit
	depth  float64
}

func newSightLine(sensor geometry.Pose, position r3.Vec) (sightLine, error) {
	origin := sensor.Position()
	d := r3.Sub(position, origin)
	depth := r3.Norm(d)
	if !(depth > minLineOfSight) || math.IsInf(depth, 0) {
		return sightLine{}, fmt.Errorf("%w: no line of sight from %v to %v", ErrGeometryQuery, origin, position)
	}
	return sightLine{origin: origin, dir: r3.Scale(1/depth, d), depth: depth}, nil
}

// featureTetrahedra returns the occlusion test volume of a feature: the
// pyramid with apex at the sensor origin whose square base is the feature
// footprint, centred on the feature and orthogonal to the line of sight,
// split along a diagonal into two tetrahedra. The base half side is
// size/2 + sizeMargin, so the volume only grows with either argument.
func featureTetrahedra(sensor geometry.Pose, position r3.Vec, size, sizeMargin float64) ([2]geometry.Tetrahedron, error) {
	line, err := newSightLine(sensor, position)
	if err != nil {
		return [2]geometry.Tetrahedron{}, err
	}
	u, v := footprintAxes(sensor, line.dir)

	h := size/2 + sizeMargin
	hu := r3.Scale(h, u)
	hv := r3.Scale(h, v)
	c0 := r3.Add(position, r3.Add(hu, hv))
	c1 := r3.Add(position, r3.Sub(hv, hu))
	c2 := r3.Sub(position, r3.Add(hu, hv))
	c3 := r3.Add(position, r3.Sub(hu, hv))

	return [2]geometry.Tetrahedron{
		{line.origin, c0, c1, c2},
		{line.origin, c0, c2, c3},
	}, nil
}

// truncateVolume scales the tetrahedra about the apex by factor in (0,1],
// keeping the part of the pyramid within factor times the feature depth.
func truncateVolume(volume [2]geometry.Tetrahedron, apex r3.Vec, factor float64) [2]geometry.Tetrahedron {
	if factor >= 1 {
		return volume
	}
	var out [2]geometry.Tetrahedron
	for i, tet := range volume {
		for j, v := range tet {
			out[i][j] = r3.Add(apex, r3.Scale(factor, r3.Sub(v, apex)))
		}
	}
	return out
}

// footprintAxes returns an orthonormal pair spanning the plane orthogonal
// to dir, aligned with the camera X axis when possible.
func footprintAxes(sensor geometry.Pose, dir r3.Vec) (u, v r3.Vec) {
	candidates := []r3.Vec{
		sensor.Axis(0),
		sensor.Axis(1),
		{X: 1},
		{Y: 1},
	}
	for _, c := range candidates {
		p := r3.Sub(c, r3.Scale(r3.Dot(c, dir), dir))
		if n := r3.Norm(p); n > 1e-6 {
			u = r3.Scale(1/n, p)
			return u, r3.Cross(dir, u)
		}
	}
	// Unreachable for a unit dir: X and Y cannot both be parallel to it.
	return r3.Vec{X: 1}, r3.Cross(dir, r3.Vec{X: 1})
}

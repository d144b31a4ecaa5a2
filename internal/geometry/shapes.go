package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Convex is a convex solid described by its support mapping.
type Convex interface {
	// Support returns the point of the solid farthest along dir.
	Support(dir r3.Vec) r3.Vec
	// Bounds returns an axis-aligned box enclosing the solid.
	Bounds() r3.Box
}

// Tetrahedron is the minimal convex volume, given by its four vertices.
type Tetrahedron [4]r3.Vec

// Support implements Convex.
func (t Tetrahedron) Support(dir r3.Vec) r3.Vec {
	return supportOf(t[:], dir)
}

// Bounds implements Convex.
func (t Tetrahedron) Bounds() r3.Box {
	return boundsOf(t[:])
}

// Volume returns the unsigned volume.
func (t Tetrahedron) Volume() float64 {
	a := r3.Sub(t[1], t[0])
	b := r3.Sub(t[2], t[0])
	c := r3.Sub(t[3], t[0])
	return math.Abs(r3.Dot(a, r3.Cross(b, c))) / 6
}

// Faces returns the four triangular faces, each wound so that its normal
// points away from the opposite vertex.
func (t Tetrahedron) Faces() [4]r3.Triangle {
	idx := [4][4]int{{0, 1, 2, 3}, {0, 1, 3, 2}, {0, 2, 3, 1}, {1, 2, 3, 0}}
	var faces [4]r3.Triangle
	for i, f := range idx {
		tri := r3.Triangle{t[f[0]], t[f[1]], t[f[2]]}
		if r3.Dot(tri.Normal(), r3.Sub(t[f[3]], t[f[0]])) > 0 {
			tri[1], tri[2] = tri[2], tri[1]
		}
		faces[i] = tri
	}
	return faces
}

// Contains reports whether p lies inside or on the tetrahedron.
func (t Tetrahedron) Contains(p r3.Vec) bool {
	for _, f := range t.Faces() {
		if r3.Dot(f.Normal(), r3.Sub(p, f[0])) > 0 {
			return false
		}
	}
	return true
}

// Hull is the convex hull of a point set, e.g. the vertices of a link mesh.
type Hull []r3.Vec

// Support implements Convex.
func (h Hull) Support(dir r3.Vec) r3.Vec {
	return supportOf(h, dir)
}

// Bounds implements Convex.
func (h Hull) Bounds() r3.Box {
	return boundsOf(h)
}

// Box is an oriented box: Half holds the half extents along the pose axes.
type Box struct {
	Pose Pose
	Half r3.Vec
}

// Support implements Convex.
func (b Box) Support(dir r3.Vec) r3.Vec {
	local := b.Pose.RotateInverse(dir)
	return b.Pose.Apply(r3.Vec{
		X: math.Copysign(b.Half.X, local.X),
		Y: math.Copysign(b.Half.Y, local.Y),
		Z: math.Copysign(b.Half.Z, local.Z),
	})
}

// Bounds implements Convex.
func (b Box) Bounds() r3.Box {
	return boundsOf(b.Vertices())
}

// Vertices returns the eight corners in the parent frame.
func (b Box) Vertices() []r3.Vec {
	local := r3.Box{Min: r3.Scale(-1, b.Half), Max: b.Half}
	out := local.Vertices()
	for i, v := range out {
		out[i] = b.Pose.Apply(v)
	}
	return out
}

// Sphere is a ball.
type Sphere struct {
	Center r3.Vec
	Radius float64
}

// Support implements Convex.
func (s Sphere) Support(dir r3.Vec) r3.Vec {
	n := r3.Norm(dir)
	if n == 0 {
		return s.Center
	}
	return r3.Add(s.Center, r3.Scale(s.Radius/n, dir))
}

// Bounds implements Convex.
func (s Sphere) Bounds() r3.Box {
	r := r3.Vec{X: s.Radius, Y: s.Radius, Z: s.Radius}
	return r3.Box{Min: r3.Sub(s.Center, r), Max: r3.Add(s.Center, r)}
}

// Capsule is a segment swept by a ball, the usual shape for arm links.
type Capsule struct {
	A, B   r3.Vec
	Radius float64
}

// Support implements Convex.
func (c Capsule) Support(dir r3.Vec) r3.Vec {
	core := c.A
	if r3.Dot(c.B, dir) > r3.Dot(c.A, dir) {
		core = c.B
	}
	return Sphere{Center: core, Radius: c.Radius}.Support(dir)
}

// Bounds implements Convex.
func (c Capsule) Bounds() r3.Box {
	a := Sphere{Center: c.A, Radius: c.Radius}.Bounds()
	b := Sphere{Center: c.B, Radius: c.Radius}.Bounds()
	// r3.Box.Union drops zero-volume boxes, so merge corners instead.
	return boundsOf([]r3.Vec{a.Min, a.Max, b.Min, b.Max})
}

// Placed is a solid defined in a local frame and positioned by Pose.
type Placed struct {
	Shape Convex
	Pose  Pose
}

// Support implements Convex.
func (p Placed) Support(dir r3.Vec) r3.Vec {
	return p.Pose.Apply(p.Shape.Support(p.Pose.RotateInverse(dir)))
}

// Bounds implements Convex.
func (p Placed) Bounds() r3.Box {
	local := p.Shape.Bounds().Vertices()
	for i, v := range local {
		local[i] = p.Pose.Apply(v)
	}
	return boundsOf(local)
}

// Overlaps reports whether two axis-aligned boxes overlap on all three axes.
// Touching boxes overlap.
func Overlaps(a, b r3.Box) bool {
	return a.Max.X >= b.Min.X && a.Min.X <= b.Max.X &&
		a.Max.Y >= b.Min.Y && a.Min.Y <= b.Max.Y &&
		a.Max.Z >= b.Min.Z && a.Min.Z <= b.Max.Z
}

// NearestDepth returns the smallest projection of c onto the unit direction
// dir, measured from origin. For a solid straddling the origin the result is
// negative.
func NearestDepth(c Convex, origin, dir r3.Vec) float64 {
	return r3.Dot(r3.Sub(c.Support(r3.Scale(-1, dir)), origin), dir)
}

func supportOf(points []r3.Vec, dir r3.Vec) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	best := points[0]
	bestDot := r3.Dot(best, dir)
	for _, p := range points[1:] {
		if d := r3.Dot(p, dir); d > bestDot {
			best, bestDot = p, d
		}
	}
	return best
}

func boundsOf(points []r3.Vec) r3.Box {
	if len(points) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
		b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	}
	return b
}

package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNoConvergence is returned when GJK fails to decide an intersection
// within its iteration budget, which happens for curved solids that touch
// almost exactly.
var ErrNoConvergence = errors.New("geometry: GJK did not converge")

// ErrNonFinite is returned when a solid has NaN or infinite bounds.
var ErrNonFinite = errors.New("geometry: non-finite solid")

// Default GJK parameters.
const (
	DefaultGJKMaxIterations = 64
	DefaultGJKTolerance     = 1e-10
)

// GJK tests convex solids for intersection with the Gilbert-Johnson-Keerthi
// distance algorithm on their Minkowski difference. The zero value uses the
// defaults.
type GJK struct {
	MaxIterations int
	// Tolerance is a distance relative to the extent of the Minkowski
	// difference: solids closer than Tolerance times that extent count as
	// touching. The same factor decides when a simplex is degenerate.
	Tolerance float64
}

// Intersects reports whether a and b share at least one point. Touching
// solids intersect.
func (g GJK) Intersects(a, b Convex) (bool, error) {
	if a == nil || b == nil {
		return false, fmt.Errorf("geometry: nil solid")
	}
	ab, bb := a.Bounds(), b.Bounds()
	if !finiteBox(ab) || !finiteBox(bb) {
		return false, ErrNonFinite
	}
	if !Overlaps(ab, bb) {
		return false, nil
	}

	maxIter := g.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultGJKMaxIterations
	}
	tol := g.Tolerance
	if tol <= 0 {
		tol = DefaultGJKTolerance
	}

	dir := r3.Sub(ab.Center(), bb.Center())
	if r3.Norm2(dir) == 0 {
		dir = r3.Vec{X: 1}
	}
	v := minkowskiSupport(a, b, dir)
	simplex := make([]r3.Vec, 1, 4)
	simplex[0] = v
	scale := r3.Norm2(v)

	for i := 0; i < maxIter; i++ {
		vv := r3.Norm2(v)
		if vv <= tol*tol*scale {
			return true, nil
		}
		w := minkowskiSupport(a, b, r3.Scale(-1, v))
		if r3.Dot(v, w) > 0 {
			// -v separates the origin from the difference.
			return false, nil
		}
		if r3.Norm2(w) > scale {
			scale = r3.Norm2(w)
		}
		for _, p := range simplex {
			if r3.Norm2(r3.Sub(p, w)) <= tol*tol*scale {
				// A repeated support point with v.w <= 0 means v is zero
				// up to rounding.
				return true, nil
			}
		}

		simplex = append(simplex, w)
		var inside bool
		simplex, v, inside = closestSimplex(simplex, tol)
		if inside {
			return true, nil
		}
		if r3.Norm2(v) >= vv {
			// The closest point stopped moving while the support still
			// reaches past the origin: touching within rounding.
			return true, nil
		}
	}
	return false, fmt.Errorf("%w after %d iterations", ErrNoConvergence, maxIter)
}

// NearestDepth implements the depth query of the field-of-view backend.
func (g GJK) NearestDepth(c Convex, origin, dir r3.Vec) float64 {
	return NearestDepth(c, origin, dir)
}

func finiteBox(b r3.Box) bool {
	for _, v := range []float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func minkowskiSupport(a, b Convex, dir r3.Vec) r3.Vec {
	return r3.Sub(a.Support(dir), b.Support(r3.Scale(-1, dir)))
}

// closestSimplex returns the smallest sub-simplex of s that holds the point
// of s closest to the origin, and that point. inside reports that s is a
// tetrahedron enclosing the origin.
func closestSimplex(s []r3.Vec, tol float64) (sub []r3.Vec, v r3.Vec, inside bool) {
	switch len(s) {
	case 1:
		return s, s[0], false
	case 2:
		sub, v = closestOnSegment(s[0], s[1])
		return sub, v, false
	case 3:
		sub, v = closestOnTriangle(s[0], s[1], s[2])
		return sub, v, false
	default:
		return closestOnTetrahedron(s[0], s[1], s[2], s[3], tol)
	}
}

func closestOnSegment(a, b r3.Vec) ([]r3.Vec, r3.Vec) {
	ab := r3.Sub(b, a)
	den := r3.Norm2(ab)
	if den == 0 {
		return []r3.Vec{a}, a
	}
	t := -r3.Dot(a, ab) / den
	switch {
	case t <= 0:
		return []r3.Vec{a}, a
	case t >= 1:
		return []r3.Vec{b}, b
	}
	return []r3.Vec{a, b}, r3.Add(a, r3.Scale(t, ab))
}

// closestOnTriangle walks the Voronoi regions of the triangle, after
// Ericson's Real-Time Collision Detection, section 5.1.5.
func closestOnTriangle(a, b, c r3.Vec) ([]r3.Vec, r3.Vec) {
	ab := r3.Sub(b, a)
	ac := r3.Sub(c, a)

	d1 := -r3.Dot(ab, a)
	d2 := -r3.Dot(ac, a)
	if d1 <= 0 && d2 <= 0 {
		return []r3.Vec{a}, a
	}
	d3 := -r3.Dot(ab, b)
	d4 := -r3.Dot(ac, b)
	if d3 >= 0 && d4 <= d3 {
		return []r3.Vec{b}, b
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 && d1 != d3 {
		t := d1 / (d1 - d3)
		return []r3.Vec{a, b}, r3.Add(a, r3.Scale(t, ab))
	}
	d5 := -r3.Dot(ab, c)
	d6 := -r3.Dot(ac, c)
	if d6 >= 0 && d5 <= d6 {
		return []r3.Vec{c}, c
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 && d2 != d6 {
		t := d2 / (d2 - d6)
		return []r3.Vec{a, c}, r3.Add(a, r3.Scale(t, ac))
	}
	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 && (d4-d3)+(d5-d6) != 0 {
		t := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return []r3.Vec{b, c}, r3.Add(b, r3.Scale(t, r3.Sub(c, b)))
	}

	sum := va + vb + vc
	if sum <= 0 {
		// Collinear corners: the nearest edge wins.
		best, bv := closestOnSegment(a, b)
		for _, e := range [][2]r3.Vec{{a, c}, {b, c}} {
			sub, v := closestOnSegment(e[0], e[1])
			if r3.Norm2(v) < r3.Norm2(bv) {
				best, bv = sub, v
			}
		}
		return best, bv
	}
	v := vb / sum
	w := vc / sum
	return []r3.Vec{a, b, c}, r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac)))
}

func closestOnTetrahedron(a, b, c, d r3.Vec, tol float64) ([]r3.Vec, r3.Vec, bool) {
	vol := r3.Dot(r3.Sub(b, a), r3.Cross(r3.Sub(c, a), r3.Sub(d, a)))
	flat := vol*vol <= tol*r3.Norm2(r3.Sub(b, a))*r3.Norm2(r3.Sub(c, a))*r3.Norm2(r3.Sub(d, a))

	faces := [4][4]r3.Vec{{a, b, c, d}, {a, c, d, b}, {a, d, b, c}, {b, d, c, a}}
	var best []r3.Vec
	var bv r3.Vec
	outside := false
	for _, f := range faces {
		n := r3.Cross(r3.Sub(f[1], f[0]), r3.Sub(f[2], f[0]))
		origin := -r3.Dot(n, f[0])
		opposite := r3.Dot(n, r3.Sub(f[3], f[0]))
		if !flat && origin*opposite >= 0 {
			continue
		}
		outside = true
		sub, v := closestOnTriangle(f[0], f[1], f[2])
		if best == nil || r3.Norm2(v) < r3.Norm2(bv) {
			best, bv = sub, v
		}
	}
	if !outside {
		return []r3.Vec{a, b, c, d}, r3.Vec{}, true
	}
	return best, bv, false
}

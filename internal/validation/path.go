// Package validation checks robot paths for field-of-view clogging by
// sampling them and querying one engine per sample.
package validation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/scene"
)

var ErrInvalidPath = errors.New("invalid path")

// DefaultMaxSamples bounds Discretize.
const DefaultMaxSamples = 100000

// Waypoint is a partial robot configuration: local poses of the named
// frames. Frames absent from a waypoint keep their previous pose.
type Waypoint map[string]geometry.Pose

// pathFile is the on-disk form of a path.
type pathFile struct {
	Waypoints []map[string]scene.PoseSpec `yaml:"waypoints"`
}

// LoadPath reads waypoints from a .yaml, .yml or .json file.
func LoadPath(path string) ([]Waypoint, error) {
	var pf pathFile
	if err := scene.DecodeFile(path, &pf); err != nil {
		return nil, err
	}
	if len(pf.Waypoints) == 0 {
		return nil, fmt.Errorf("%w: %s has no waypoints", ErrInvalidPath, path)
	}
	out := make([]Waypoint, len(pf.Waypoints))
	for i, w := range pf.Waypoints {
		out[i] = make(Waypoint, len(w))
		for name, ps := range w {
			out[i][name] = ps.Pose()
		}
	}
	return out, nil
}

// Discretize samples the path so that between consecutive samples no frame
// moves by more than step, in meters for translation and radians for
// rotation. Rotations are interpolated spherically. The first and last
// waypoints are always samples.
func Discretize(path []Waypoint, step float64) ([]Waypoint, error) {
	return DiscretizeLimit(path, step, DefaultMaxSamples)
}

// DiscretizeLimit is Discretize with a bound on the number of samples. A path
// that would need more than limit samples is rejected before any sample is
// built.
func DiscretizeLimit(path []Waypoint, step float64, limit int) ([]Waypoint, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step must be positive, got %g", ErrInvalidPath, step)
	}
	if limit < 1 {
		limit = DefaultMaxSamples
	}

	for i, wp := range path {
		for name, p := range wp {
			if !geometry.IsValidTransformMatrix(p) {
				return nil, fmt.Errorf("%w: waypoint %d frame %q is not a rigid transform", ErrInvalidPath, i, name)
			}
		}
	}

	// Resolve every waypoint and count samples first.
	resolved := make([]Waypoint, len(path))
	resolved[0] = Waypoint{}.merge(path[0])
	steps := make([]int, len(path))
	total := 1
	for i := 1; i < len(path); i++ {
		resolved[i] = resolved[i-1].merge(path[i])
		n, ok := segmentSteps(resolved[i-1], resolved[i], step, limit-total)
		if !ok {
			return nil, fmt.Errorf("%w: step %g needs more than %d samples", ErrInvalidPath, step, limit)
		}
		steps[i] = n
		total += n
	}

	samples := make([]Waypoint, 0, total)
	for i := 1; i < len(path); i++ {
		n := steps[i]
		for k := 0; k < n; k++ {
			samples = append(samples, interpolate(resolved[i-1], resolved[i], float64(k)/float64(n)))
		}
	}
	return append(samples, resolved[len(path)-1]), nil
}

// merge returns w updated with the poses named in u.
func (w Waypoint) merge(u Waypoint) Waypoint {
	out := make(Waypoint, len(w)+len(u))
	for name, p := range w {
		out[name] = p
	}
	for name, p := range u {
		out[name] = p
	}
	return out
}

func segmentSteps(a, b Waypoint, step float64, budget int) (int, bool) {
	var longest float64
	for name, q := range b {
		p, ok := a[name]
		if !ok {
			continue
		}
		longest = math.Max(longest, r3.Norm(r3.Sub(q.Position(), p.Position())))
		longest = math.Max(longest, rotationAngle(p, q))
	}
	f := math.Ceil(longest/step - 1e-9)
	if f > float64(budget) {
		return 0, false
	}
	return max(1, int(f)), budget >= 1
}

// rotationAngle is the angle of the relative rotation between two poses.
func rotationAngle(p, q geometry.Pose) float64 {
	a, b := p.Rotation(), q.Rotation()
	dot := math.Abs(a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag)
	return 2 * math.Acos(math.Min(1, dot))
}

// interpolate blends the frames of b named in a; frames new in b take b's
// pose immediately.
func interpolate(a, b Waypoint, t float64) Waypoint {
	out := make(Waypoint, len(b))
	for name, q := range b {
		if p, ok := a[name]; ok {
			out[name] = geometry.Interpolate(p, q, t)
			continue
		}
		out[name] = q
	}
	return out
}

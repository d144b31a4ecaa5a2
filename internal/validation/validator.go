package validation

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/monitoring"
	"github.com/banshee-data/fovguard/internal/scene"
)

// Result summarises a path validation. FirstClogged is the index of the
// first clogged sample, or -1 when the path is valid.
type Result struct {
	Valid        bool `json:"valid"`
	FirstClogged int  `json:"first_clogged"`
	Samples      int  `json:"samples"`
	Checked      int  `json:"checked"`
}

// Validator owns one scene and one engine. It is not safe for concurrent
// use; ValidateParallel builds one per worker.
type Validator struct {
	scene *scene.Scene
	fov   *fov.FieldOfView
}

// NewValidator registers groups on a fresh engine bound to s.
func NewValidator(s *scene.Scene, groups []*fov.FeatureGroup, opts ...fov.Option) (*Validator, error) {
	f, err := fov.New(s, opts...)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if err := f.AddFeatureGroup(g); err != nil {
			return nil, err
		}
	}
	return &Validator{scene: s, fov: f}, nil
}

// Validate applies each sample in order and stops at the first clogged
// one. The scene configuration is restored afterwards. ctx is checked
// between samples only.
func (v *Validator) Validate(ctx context.Context, samples []Waypoint) (Result, error) {
	res, err := v.validateRange(ctx, samples, 0, len(samples), nil)
	if err != nil {
		return Result{}, err
	}
	res.Samples = len(samples)
	return res, nil
}

// validateRange checks samples[lo:hi]. A non-nil bound lets a worker stop
// once another worker has found an earlier clogged sample.
func (v *Validator) validateRange(ctx context.Context, samples []Waypoint, lo, hi int, bound *firstClogged) (Result, error) {
	saved := v.scene.Configuration()
	defer func() {
		if err := v.scene.SetConfiguration(saved); err != nil {
			monitoring.Logf("[validate] failed to restore configuration: %v", err)
		}
	}()

	res := Result{Valid: true, FirstClogged: -1}
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if bound != nil && bound.before(i) {
			break
		}
		if err := v.scene.SetConfiguration(map[string]geometry.Pose(samples[i])); err != nil {
			return Result{}, fmt.Errorf("sample %d: %w", i, err)
		}
		clogged, err := v.fov.Clogged()
		if err != nil {
			return Result{}, fmt.Errorf("sample %d: %w", i, err)
		}
		res.Checked++
		if clogged {
			res.Valid = false
			res.FirstClogged = i
			if bound != nil {
				bound.offer(i)
			}
			break
		}
	}
	return res, nil
}

// firstClogged is the lowest clogged index found by any worker.
type firstClogged struct {
	mu  sync.Mutex
	idx int
}

func (f *firstClogged) offer(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < 0 || i < f.idx {
		f.idx = i
	}
}

// before reports whether a clogged sample below i is already known.
func (f *firstClogged) before(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idx >= 0 && f.idx < i
}

// ValidateParallel splits samples into contiguous chunks, one per worker.
// Every worker clones base and builds its own engine, so no engine or scene
// is shared. The result matches Validate on the same samples except for
// Checked, which counts the samples evaluated by all workers.
func ValidateParallel(ctx context.Context, base *scene.Scene, groups []*fov.FeatureGroup, samples []Waypoint, workers int, opts ...fov.Option) (Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(samples))
	if workers <= 1 {
		v, err := NewValidator(base.Clone(), groups, opts...)
		if err != nil {
			return Result{}, err
		}
		return v.Validate(ctx, samples)
	}

	bound := &firstClogged{idx: -1}
	results := make([]Result, workers)
	chunk := (len(samples) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(samples))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			v, err := NewValidator(base.Clone(), groups, opts...)
			if err != nil {
				return err
			}
			r, err := v.validateRange(gctx, samples, lo, hi, bound)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			results[w] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	out := Result{Valid: true, FirstClogged: -1, Samples: len(samples)}
	for _, r := range results {
		out.Checked += r.Checked
	}
	if bound.idx >= 0 {
		out.Valid = false
		out.FirstClogged = bound.idx
	}
	monitoring.Debugf("[validate] %d samples on %d workers, %d checked", len(samples), workers, out.Checked)
	return out, nil
}

package validation

import (
	"context"
	"fmt"

	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/monitoring"
)

// Profile is the visible feature count of every group at every sample of
// a path. Visible is indexed [sample][group].
type Profile struct {
	Groups     []string `json:"groups"`
	Thresholds []int    `json:"thresholds"`
	Totals     []int    `json:"totals"`
	Visible    [][]int  `json:"visible"`
}

// Clogged reports whether any group is below its threshold at sample i.
func (p *Profile) Clogged(i int) bool {
	for g, n := range p.Visible[i] {
		if n < p.Thresholds[g] {
			return true
		}
	}
	return false
}

// FirstClogged returns the first clogged sample, or -1.
func (p *Profile) FirstClogged() int {
	for i := range p.Visible {
		if p.Clogged(i) {
			return i
		}
	}
	return -1
}

// Profile evaluates every sample without stopping at the first clogged
// one. The scene configuration is restored afterwards.
func (v *Validator) Profile(ctx context.Context, samples []Waypoint) (*Profile, error) {
	saved := v.scene.Configuration()
	defer func() {
		if err := v.scene.SetConfiguration(saved); err != nil {
			monitoring.Logf("[profile] failed to restore configuration: %v", err)
		}
	}()

	groups := v.fov.FeatureGroups()
	p := &Profile{
		Groups:     make([]string, len(groups)),
		Thresholds: make([]int, len(groups)),
		Totals:     make([]int, len(groups)),
		Visible:    make([][]int, 0, len(samples)),
	}
	for i, g := range groups {
		p.Groups[i] = g.Name()
		if p.Groups[i] == "" {
			p.Groups[i] = fmt.Sprintf("group %d", i)
		}
		p.Thresholds[i] = g.VisibilityThreshold()
		p.Totals[i] = g.Len()
	}

	for i, w := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.scene.SetConfiguration(map[string]geometry.Pose(w)); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		reports, err := v.fov.Evaluate()
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		row := make([]int, len(reports))
		for g, r := range reports {
			row[g] = r.Visible
		}
		p.Visible = append(p.Visible, row)
	}
	return p, nil
}

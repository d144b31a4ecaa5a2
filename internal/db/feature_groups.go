package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/timeutil"
)

// ErrNotFound is returned when a stored row does not exist.
var ErrNotFound = errors.New("not found")

// StoredFeature is one feature row, in group order.
type StoredFeature struct {
	Name string  `json:"name"`
	Size float64 `json:"size"`
}

// StoredGroup is a persisted feature group.
type StoredGroup struct {
	GroupID             string          `json:"group_id"`
	Name                string          `json:"name"`
	VisibilityThreshold int             `json:"visibility_threshold"`
	DepthMargin         float64         `json:"depth_margin"`
	SizeMargin          float64         `json:"size_margin"`
	Features            []StoredFeature `json:"features"`
	CreatedAtNs         int64           `json:"created_at_ns"`
}

// FeatureGroup rebuilds the validated engine group.
func (g *StoredGroup) FeatureGroup() (*fov.FeatureGroup, error) {
	features := make([]fov.Feature, 0, len(g.Features))
	for _, sf := range g.Features {
		f, err := fov.NewFeature(sf.Name, sf.Size)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		features = append(features, f)
	}
	fg, err := fov.NewFeatureGroup(g.VisibilityThreshold, g.DepthMargin, g.SizeMargin, features...)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", g.Name, err)
	}
	return fg.WithName(g.Name), nil
}

// FeatureGroupStore persists named feature groups.
type FeatureGroupStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewFeatureGroupStore creates a new FeatureGroupStore. A nil clock means
// real time.
func NewFeatureGroupStore(db *sql.DB, clock timeutil.Clock) *FeatureGroupStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FeatureGroupStore{db: db, clock: clock}
}

// SaveGroup stores g under its name and returns the new group id. Names
// are unique; saving a name twice fails.
func (s *FeatureGroupStore) SaveGroup(g *fov.FeatureGroup) (string, error) {
	if g == nil || g.Name() == "" {
		return "", fmt.Errorf("%w: stored feature groups need a name", fov.ErrInvalidArgument)
	}
	id := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO feature_groups (
			group_id, name, visibility_threshold, depth_margin, size_margin, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?)`,
		id, g.Name(), g.VisibilityThreshold(), g.DepthMargin(), g.SizeMargin(), s.clock.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert feature group %q: %w", g.Name(), err)
	}
	for i, f := range g.Features() {
		if _, err := tx.Exec(
			`INSERT INTO features (group_id, position, name, size) VALUES (?, ?, ?, ?)`,
			id, i, f.Name(), f.Size(),
		); err != nil {
			return "", fmt.Errorf("insert feature %q: %w", f.Name(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// ListGroups returns every stored group ordered by name.
func (s *FeatureGroupStore) ListGroups() ([]*StoredGroup, error) {
	rows, err := s.db.Query(`
		SELECT group_id, name, visibility_threshold, depth_margin, size_margin, created_at_ns
		FROM feature_groups
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list feature groups: %w", err)
	}

	var groups []*StoredGroup
	byID := make(map[string]*StoredGroup)
	for rows.Next() {
		var g StoredGroup
		if err := rows.Scan(&g.GroupID, &g.Name, &g.VisibilityThreshold,
			&g.DepthMargin, &g.SizeMargin, &g.CreatedAtNs); err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, &g)
		byID[g.GroupID] = &g
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.attachFeatures(byID, ""); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup returns one stored group by id or name.
func (s *FeatureGroupStore) GetGroup(idOrName string) (*StoredGroup, error) {
	var g StoredGroup
	err := s.db.QueryRow(`
		SELECT group_id, name, visibility_threshold, depth_margin, size_margin, created_at_ns
		FROM feature_groups
		WHERE group_id = ? OR name = ?`, idOrName, idOrName).Scan(
		&g.GroupID, &g.Name, &g.VisibilityThreshold, &g.DepthMargin, &g.SizeMargin, &g.CreatedAtNs,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feature group %s: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get feature group: %w", err)
	}
	if err := s.attachFeatures(map[string]*StoredGroup{g.GroupID: &g}, g.GroupID); err != nil {
		return nil, err
	}
	return &g, nil
}

// attachFeatures loads feature rows into their groups; an empty onlyID
// loads every group's features.
func (s *FeatureGroupStore) attachFeatures(byID map[string]*StoredGroup, onlyID string) error {
	query := `SELECT group_id, name, size FROM features`
	var args []interface{}
	if onlyID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, onlyID)
	}
	query += ` ORDER BY group_id, position`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var groupID string
		var f StoredFeature
		if err := rows.Scan(&groupID, &f.Name, &f.Size); err != nil {
			return err
		}
		if g, ok := byID[groupID]; ok {
			g.Features = append(g.Features, f)
		}
	}
	return rows.Err()
}

// DeleteGroup removes a group, by id or name, with its features.
func (s *FeatureGroupStore) DeleteGroup(idOrName string) error {
	res, err := s.db.Exec(`DELETE FROM feature_groups WHERE group_id = ? OR name = ?`, idOrName, idOrName)
	if err != nil {
		return fmt.Errorf("delete feature group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("feature group %s: %w", idOrName, ErrNotFound)
	}
	return nil
}

// LoadGroups returns every stored group as a validated engine group,
// ordered by name. Names may be restricted to a subset.
func (s *FeatureGroupStore) LoadGroups(names ...string) ([]*fov.FeatureGroup, error) {
	stored, err := s.ListGroups()
	if err != nil {
		return nil, err
	}
	requested := make(map[string]bool, len(names))
	missing := make(map[string]bool, len(names))
	for _, n := range names {
		requested[n] = true
		missing[n] = true
	}

	var out []*fov.FeatureGroup
	for _, sg := range stored {
		if len(requested) > 0 && !requested[sg.Name] {
			continue
		}
		delete(missing, sg.Name)
		g, err := sg.FeatureGroup()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("feature groups %s: %w", strings.Join(names, ", "), ErrNotFound)
	}
	return out, nil
}

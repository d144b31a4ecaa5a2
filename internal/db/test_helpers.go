package db

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/fovguard/internal/fov"
)

// setupTestDB creates a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestGroup builds a named three-feature group.
func createTestGroup(t *testing.T, name string, threshold int) *fov.FeatureGroup {
	t.Helper()

	g, err := fov.NewFeatureGroup(threshold, 0.01, 0.002,
		fov.MustFeature("tag_left", 0.05),
		fov.MustFeature("tag_center", 0.05),
		fov.MustFeature("tag_right", 0.04),
	)
	if err != nil {
		t.Fatalf("NewFeatureGroup failed: %v", err)
	}
	return g.WithName(name)
}

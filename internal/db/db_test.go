package db

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/testutil"
	"github.com/banshee-data/fovguard/internal/timeutil"
)

func TestEmbeddedMigrationsFS(t *testing.T) {
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}
	ups, err := fs.Glob(migFS, "*.up.sql")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	downs, err := fs.Glob(migFS, "*.down.sql")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Errorf("expected matching up/down migrations, got %d up and %d down", len(ups), len(downs))
	}
}

func TestMigrationsUpDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil || version != 0 || dirty {
		t.Fatalf("fresh database: version=%d dirty=%v err=%v", version, dirty, err)
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	version, _, err = db.MigrateVersion()
	if err != nil || version != latest {
		t.Fatalf("after up: version=%d want %d err=%v", version, latest, err)
	}

	// Idempotent
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, _ = db.MigrateVersion()
	if version != latest-1 {
		t.Errorf("after down: version=%d want %d", version, latest-1)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='clog_checks'`).Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 0 {
		t.Error("clog_checks should be dropped by the down migration")
	}
}

func TestFeatureGroupStoreRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := db.FeatureGroups()

	want := createTestGroup(t, "plaque", 2)
	id, err := store.SaveGroup(want)
	if err != nil {
		t.Fatalf("SaveGroup failed: %v", err)
	}
	if id == "" {
		t.Fatal("SaveGroup returned an empty id")
	}

	stored, err := store.GetGroup(id)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	wantStored := &StoredGroup{
		GroupID:             id,
		Name:                "plaque",
		VisibilityThreshold: 2,
		DepthMargin:         0.01,
		SizeMargin:          0.002,
		Features: []StoredFeature{
			{Name: "tag_left", Size: 0.05},
			{Name: "tag_center", Size: 0.05},
			{Name: "tag_right", Size: 0.04},
		},
		CreatedAtNs: stored.CreatedAtNs,
	}
	if diff := cmp.Diff(wantStored, stored); diff != "" {
		t.Errorf("GetGroup mismatch (-want +got):\n%s", diff)
	}

	byName, err := store.GetGroup("plaque")
	if err != nil || byName.GroupID != id {
		t.Errorf("GetGroup by name: %v, %v", byName, err)
	}

	got, err := stored.FeatureGroup()
	if err != nil {
		t.Fatalf("FeatureGroup failed: %v", err)
	}
	if got.Name() != want.Name() || got.VisibilityThreshold() != want.VisibilityThreshold() ||
		got.DepthMargin() != want.DepthMargin() || got.SizeMargin() != want.SizeMargin() {
		t.Errorf("rebuilt group %+v differs from %+v", got, want)
	}
	if diff := cmp.Diff(want.Features(), got.Features(), cmp.Comparer(func(a, b fov.Feature) bool {
		return a.Name() == b.Name() && a.Size() == b.Size()
	})); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
}

func TestFeatureGroupStoreRejects(t *testing.T) {
	db := setupTestDB(t)
	store := db.FeatureGroups()

	unnamed, err := fov.NewFeatureGroup(0, 0, 0)
	if err != nil {
		t.Fatalf("NewFeatureGroup failed: %v", err)
	}
	if _, err := store.SaveGroup(unnamed); !errors.Is(err, fov.ErrInvalidArgument) {
		t.Errorf("unnamed group: got %v, want ErrInvalidArgument", err)
	}

	if _, err := store.SaveGroup(createTestGroup(t, "plaque", 1)); err != nil {
		t.Fatalf("SaveGroup failed: %v", err)
	}
	if _, err := store.SaveGroup(createTestGroup(t, "plaque", 1)); err == nil {
		t.Error("duplicate name should fail")
	}

	groups, err := store.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Features) != 3 {
		t.Errorf("failed insert must not leave rows behind, got %d groups", len(groups))
	}
}

func TestFeatureGroupStoreListAndDelete(t *testing.T) {
	db := setupTestDB(t)
	store := db.FeatureGroups()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := store.SaveGroup(createTestGroup(t, name, 1)); err != nil {
			t.Fatalf("SaveGroup(%s) failed: %v", name, err)
		}
	}

	groups, err := store.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
		if len(g.Features) != 3 {
			t.Errorf("group %s has %d features, want 3", g.Name, len(g.Features))
		}
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, names); diff != "" {
		t.Errorf("ListGroups order (-want +got):\n%s", diff)
	}

	if err := store.DeleteGroup("mid"); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	if err := store.DeleteGroup("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteGroup: got %v, want ErrNotFound", err)
	}
	if _, err := store.GetGroup("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGroup after delete: got %v, want ErrNotFound", err)
	}

	var orphans int
	if err := db.QueryRow(`SELECT COUNT(*) FROM features WHERE group_id NOT IN (SELECT group_id FROM feature_groups)`).Scan(&orphans); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if orphans != 0 {
		t.Errorf("features should cascade with their group, found %d orphans", orphans)
	}
}

func TestLoadGroups(t *testing.T) {
	db := setupTestDB(t)
	store := db.FeatureGroups()
	for _, name := range []string{"plaque", "marker"} {
		if _, err := store.SaveGroup(createTestGroup(t, name, 2)); err != nil {
			t.Fatalf("SaveGroup failed: %v", err)
		}
	}

	all, err := store.LoadGroups()
	if err != nil {
		t.Fatalf("LoadGroups failed: %v", err)
	}
	if len(all) != 2 || all[0].Name() != "marker" || all[1].Name() != "plaque" {
		t.Errorf("LoadGroups() = %v", all)
	}

	some, err := store.LoadGroups("plaque")
	if err != nil {
		t.Fatalf("LoadGroups(plaque) failed: %v", err)
	}
	if len(some) != 1 || some[0].Name() != "plaque" {
		t.Errorf("LoadGroups(plaque) = %v", some)
	}

	if _, err := store.LoadGroups("plaque", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing name: got %v, want ErrNotFound", err)
	}
}

func TestLoadGroupsSelectsOnlyRequested(t *testing.T) {
	db := setupTestDB(t)
	store := db.FeatureGroups()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := store.SaveGroup(createTestGroup(t, name, 1)); err != nil {
			t.Fatalf("SaveGroup failed: %v", err)
		}
	}

	tests := []struct {
		names []string
		want  []string
	}{
		{names: []string{"alpha"}, want: []string{"alpha"}},
		{names: []string{"beta"}, want: []string{"beta"}},
		{names: []string{"gamma", "alpha"}, want: []string{"alpha", "gamma"}},
		{names: []string{"alpha", "alpha"}, want: []string{"alpha"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.names, ","), func(t *testing.T) {
			groups, err := store.LoadGroups(tt.names...)
			if err != nil {
				t.Fatalf("LoadGroups failed: %v", err)
			}
			got := make([]string, len(groups))
			for i, g := range groups {
				got[i] = g.Name()
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("LoadGroups(%v) mismatch (-want +got):\n%s", tt.names, diff)
			}
		})
	}
}

func TestCheckStore(t *testing.T) {
	db := setupTestDB(t)
	checks := db.Checks()

	reports := []fov.Report{{
		Group: "plaque", Total: 3, Visible: 1, Threshold: 2,
		Occlusions: []fov.Occlusion{
			{Feature: "tag_center", Part: "upper_arm", Depth: 0.95},
			{Feature: "tag_right", Depth: 7.5, OutOfRange: true},
		},
	}}
	first := &CheckRecord{Scene: "cell", Clogged: true, Reports: reports, CheckedAtNs: 100}
	if err := checks.RecordCheck(first); err != nil {
		t.Fatalf("RecordCheck failed: %v", err)
	}
	if first.CheckID == "" {
		t.Error("RecordCheck should assign an id")
	}
	for i, scene := range []string{"cell", "other"} {
		rec := &CheckRecord{Scene: scene, CheckedAtNs: int64(200 + i)}
		if err := checks.RecordCheck(rec); err != nil {
			t.Fatalf("RecordCheck failed: %v", err)
		}
	}

	recent, err := checks.RecentChecks("", 10)
	if err != nil {
		t.Fatalf("RecentChecks failed: %v", err)
	}
	if len(recent) != 3 || recent[0].Scene != "other" || recent[2].CheckID != first.CheckID {
		t.Fatalf("RecentChecks order wrong: %+v", recent)
	}
	if diff := cmp.Diff(first, recent[2]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	cell, err := checks.RecentChecks("cell", 1)
	if err != nil {
		t.Fatalf("RecentChecks failed: %v", err)
	}
	if len(cell) != 1 || cell[0].CheckedAtNs != 200 || cell[0].Clogged {
		t.Errorf("RecentChecks(cell, 1) = %+v", cell)
	}
}

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"status"}, dbPath, &out); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 0") {
		t.Errorf("status output = %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"up"}, dbPath, &out); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	latest, _ := LatestMigrationVersion()
	if !strings.Contains(out.String(), "Latest available: ") || strings.Contains(out.String(), "behind") {
		t.Errorf("up output = %q (latest %d)", out.String(), latest)
	}

	if err := RunMigrateCommand(nil, dbPath, &out); err == nil {
		t.Error("missing action should fail")
	}
	if err := RunMigrateCommand([]string{"sideways"}, dbPath, &out); err == nil {
		t.Error("unknown action should fail")
	}
	if err := RunMigrateCommand([]string{"force", "x"}, dbPath, &out); err == nil {
		t.Error("invalid force version should fail")
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	// Routes may answer 403 outside a trusted network, but must be registered.
	for _, endpoint := range []string{"/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code == http.StatusNotFound {
				t.Errorf("Endpoint %s should be registered, got 404", endpoint)
			}
		})
	}
}

func TestServeBackup(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.FeatureGroups().SaveGroup(createTestGroup(t, "plaque", 1))
	testutil.AssertNoError(t, err)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "test-backup-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	// gzip magic
	if b := w.Body.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Error("backup should be gzip encoded")
	}
}

func TestStoresUseClock(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	db.SetClock(clock)

	id, err := db.FeatureGroups().SaveGroup(createTestGroup(t, "plaque", 1))
	testutil.AssertNoError(t, err)
	g, err := db.FeatureGroups().GetGroup(id)
	testutil.AssertNoError(t, err)
	if g.CreatedAtNs != start.UnixNano() {
		t.Errorf("CreatedAtNs = %d, want %d", g.CreatedAtNs, start.UnixNano())
	}

	clock.Advance(time.Minute)
	rec := &CheckRecord{Scene: "cell"}
	testutil.AssertNoError(t, db.Checks().RecordCheck(rec))
	if rec.CheckedAtNs != start.Add(time.Minute).UnixNano() {
		t.Errorf("CheckedAtNs = %d, want %d", rec.CheckedAtNs, start.Add(time.Minute).UnixNano())
	}
}

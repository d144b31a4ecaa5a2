package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/timeutil"
)

// CheckRecord is one recorded clog check.
type CheckRecord struct {
	CheckID     string       `json:"check_id"`
	Scene       string       `json:"scene"`
	Clogged     bool         `json:"clogged"`
	Reports     []fov.Report `json:"reports"`
	CheckedAtNs int64        `json:"checked_at_ns"`
}

// CheckStore keeps the history of clog checks.
type CheckStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewCheckStore creates a new CheckStore. A nil clock means real time.
func NewCheckStore(db *sql.DB, clock timeutil.Clock) *CheckStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &CheckStore{db: db, clock: clock}
}

// RecordCheck stores the outcome of one check. The record's id and time
// are filled in when empty.
func (s *CheckStore) RecordCheck(rec *CheckRecord) error {
	if rec.CheckID == "" {
		rec.CheckID = uuid.New().String()
	}
	if rec.CheckedAtNs == 0 {
		rec.CheckedAtNs = s.clock.Now().UnixNano()
	}
	reports, err := json.Marshal(rec.Reports)
	if err != nil {
		return fmt.Errorf("encode reports: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO clog_checks (check_id, scene, clogged, reports_json, checked_at_ns)
		VALUES (?, ?, ?, ?, ?)`,
		rec.CheckID, rec.Scene, rec.Clogged, string(reports), rec.CheckedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert clog check: %w", err)
	}
	return nil
}

// RecentChecks returns up to limit checks, newest first. A non-empty scene
// restricts the result to that scene.
func (s *CheckStore) RecentChecks(scene string, limit int) ([]*CheckRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT check_id, scene, clogged, reports_json, checked_at_ns FROM clog_checks`
	var args []interface{}
	if scene != "" {
		query += ` WHERE scene = ?`
		args = append(args, scene)
	}
	query += ` ORDER BY checked_at_ns DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clog checks: %w", err)
	}
	defer rows.Close()

	var out []*CheckRecord
	for rows.Next() {
		var rec CheckRecord
		var reports string
		if err := rows.Scan(&rec.CheckID, &rec.Scene, &rec.Clogged, &reports, &rec.CheckedAtNs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reports), &rec.Reports); err != nil {
			return nil, fmt.Errorf("decode reports of check %s: %w", rec.CheckID, err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

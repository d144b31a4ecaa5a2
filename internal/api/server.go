package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/fovguard/internal/charts"
	"github.com/banshee-data/fovguard/internal/config"
	"github.com/banshee-data/fovguard/internal/db"
	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/monitoring"
	"github.com/banshee-data/fovguard/internal/scene"
	"github.com/banshee-data/fovguard/internal/validation"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxRequestBody caps check request bodies.
const maxRequestBody = 1 << 20

// Check evaluates every group against the scene's current configuration.
func Check(s *scene.Scene, groups []*fov.FeatureGroup, opts ...fov.Option) ([]fov.Report, bool, error) {
	f, err := fov.New(s, opts...)
	if err != nil {
		return nil, false, err
	}
	for _, g := range groups {
		if err := f.AddFeatureGroup(g); err != nil {
			return nil, false, err
		}
	}
	reports, err := f.Evaluate()
	if err != nil {
		return nil, false, err
	}
	clogged := false
	for _, r := range reports {
		if r.Clogged() {
			clogged = true
			break
		}
	}
	return reports, clogged, nil
}

// Server answers clog checks against one loaded scene. The database is
// optional; without it stored groups and check history are unavailable.
type Server struct {
	db     *db.DB
	name   string
	scene  *scene.Scene
	groups []*fov.FeatureGroup
	cfg    *config.TuningConfig
}

func NewServer(database *db.DB, name string, s *scene.Scene, groups []*fov.FeatureGroup, cfg *config.TuningConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Server{
		db:     database,
		name:   name,
		scene:  s,
		groups: groups,
		cfg:    cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/check", s.checkHandler)
	mux.HandleFunc("/api/checks", s.listChecks)
	mux.HandleFunc("/api/validate", s.validateHandler)
	mux.HandleFunc("/api/profile", s.profileHandler)
	mux.HandleFunc("/api/groups", s.listGroups)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// CheckRequest moves frames before checking. Groups names stored groups to
// check in addition to the scene's own.
type CheckRequest struct {
	Configuration map[string]scene.PoseSpec `json:"configuration"`
	Groups        []string                  `json:"groups"`
}

func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.scene == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No scene loaded")
		return
	}

	var req CheckRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	groups := append([]*fov.FeatureGroup(nil), s.groups...)
	if len(req.Groups) > 0 {
		if s.db == nil {
			s.writeJSONError(w, http.StatusBadRequest, "Stored groups need a database")
			return
		}
		stored, err := s.db.FeatureGroups().LoadGroups(req.Groups...)
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load groups: %v", err))
			return
		}
		groups = append(groups, stored...)
	}

	// Checks run on a private copy so requests never see each other's poses.
	sc := s.scene.Clone()
	if len(req.Configuration) > 0 {
		poses := make(map[string]geometry.Pose, len(req.Configuration))
		for name, ps := range req.Configuration {
			poses[name] = ps.Pose()
		}
		if err := sc.SetConfiguration(poses); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	reports, clogged, err := Check(sc, groups, fov.WithBackend(s.cfg.GetBackend()))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fov.ErrInvalidArgument) {
			status = http.StatusBadRequest
		}
		s.writeJSONError(w, status, fmt.Sprintf("Check failed: %v", err))
		return
	}

	rec := &db.CheckRecord{Scene: s.name, Clogged: clogged, Reports: reports}
	if s.db != nil && s.cfg.GetRecordChecks() {
		if err := s.db.Checks().RecordCheck(rec); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to record check: %v", err))
			return
		}
	}
	monitoring.Debugf("check %s: clogged=%v groups=%d", s.name, clogged, len(reports))
	s.writeJSON(w, rec)
}

func (s *Server) listChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No database configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	checks, err := s.db.Checks().RecentChecks(r.URL.Query().Get("scene"), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve checks: %v", err))
		return
	}
	if checks == nil {
		checks = []*db.CheckRecord{}
	}
	s.writeJSON(w, checks)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No database configured")
		return
	}
	groups, err := s.db.FeatureGroups().ListGroups()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve groups: %v", err))
		return
	}
	if groups == nil {
		groups = []*db.StoredGroup{}
	}
	s.writeJSON(w, groups)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, s.cfg)
}

// PathRequest is a joint path to validate. Step and Workers fall back to
// the tuning configuration.
type PathRequest struct {
	Waypoints []map[string]scene.PoseSpec `json:"waypoints"`
	Step      float64                     `json:"step,omitempty"`
	Workers   int                         `json:"workers,omitempty"`
}

// decodePath reads a PathRequest and discretises it. It writes the error
// response itself and returns nil samples on failure.
func (s *Server) decodePath(w http.ResponseWriter, r *http.Request) ([]validation.Waypoint, *PathRequest) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return nil, nil
	}
	if s.scene == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No scene loaded")
		return nil, nil
	}

	var req PathRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return nil, nil
	}
	if req.Step <= 0 {
		req.Step = s.cfg.GetPathStep()
	}
	if req.Workers <= 0 {
		req.Workers = s.cfg.GetValidationWorkers()
	}

	waypoints := make([]validation.Waypoint, len(req.Waypoints))
	for i, wp := range req.Waypoints {
		waypoints[i] = make(validation.Waypoint, len(wp))
		for name, ps := range wp {
			waypoints[i][name] = ps.Pose()
		}
	}
	samples, err := validation.DiscretizeLimit(waypoints, req.Step, s.cfg.GetMaxPathSamples())
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, nil
	}
	return samples, &req
}

func (s *Server) validationStatus(err error) int {
	switch {
	case errors.Is(err, scene.ErrUnknownFrame), errors.Is(err, scene.ErrInvalidPose):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	samples, req := s.decodePath(w, r)
	if samples == nil {
		return
	}

	ctx, cancel := s.cfg.WithCheckTimeout(r.Context())
	defer cancel()
	res, err := validation.ValidateParallel(ctx, s.scene, s.groups, samples, req.Workers, fov.WithBackend(s.cfg.GetBackend()))
	if err != nil {
		s.writeJSONError(w, s.validationStatus(err), fmt.Sprintf("Validation failed: %v", err))
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	samples, _ := s.decodePath(w, r)
	if samples == nil {
		return
	}

	v, err := validation.NewValidator(s.scene.Clone(), s.groups, fov.WithBackend(s.cfg.GetBackend()))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctx, cancel := s.cfg.WithCheckTimeout(r.Context())
	defer cancel()
	p, err := v.Profile(ctx, samples)
	if err != nil {
		s.writeJSONError(w, s.validationStatus(err), fmt.Sprintf("Profile failed: %v", err))
		return
	}

	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, p)
		return
	}
	var buf bytes.Buffer
	if err := charts.RenderProfile(&buf, p, fmt.Sprintf("%s visibility", s.name)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

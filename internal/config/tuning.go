package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/validation"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* methods supply the default for any
// field the JSON leaves out.
type TuningConfig struct {
	// Feature group margins applied when a scene file does not set them
	DefaultDepthMargin *float64 `json:"default_depth_margin,omitempty"`
	DefaultSizeMargin  *float64 `json:"default_size_margin,omitempty"`

	// Collision backend
	GJKMaxIterations *int     `json:"gjk_max_iterations,omitempty"`
	GJKTolerance     *float64 `json:"gjk_tolerance,omitempty"`

	// Path validation
	PathStep          *float64 `json:"path_step,omitempty"`
	ValidationWorkers *int     `json:"validation_workers,omitempty"` // 0 means one per CPU
	MaxPathSamples    *int     `json:"max_path_samples,omitempty"`
	CheckTimeout      *string  `json:"check_timeout,omitempty"` // duration string like "30s", "0s" disables

	// Reporting
	RecordChecks *bool `json:"record_checks,omitempty"`
	Verbose      *bool `json:"verbose,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		DefaultDepthMargin: ptrFloat64(0.01),
		DefaultSizeMargin:  ptrFloat64(0),
		GJKMaxIterations:   ptrInt(geometry.DefaultGJKMaxIterations),
		GJKTolerance:       ptrFloat64(geometry.DefaultGJKTolerance),
		PathStep:           ptrFloat64(0.05),
		ValidationWorkers:  ptrInt(0),
		MaxPathSamples:     ptrInt(validation.DefaultMaxSamples),
		CheckTimeout:       ptrString("30s"),
		RecordChecks:       ptrBool(true),
		Verbose:            ptrBool(false),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DefaultDepthMargin != nil && !(*c.DefaultDepthMargin >= 0) {
		return fmt.Errorf("default_depth_margin must be non-negative, got %f", *c.DefaultDepthMargin)
	}
	if c.DefaultSizeMargin != nil && !(*c.DefaultSizeMargin >= 0) {
		return fmt.Errorf("default_size_margin must be non-negative, got %f", *c.DefaultSizeMargin)
	}
	if c.GJKMaxIterations != nil && *c.GJKMaxIterations < 1 {
		return fmt.Errorf("gjk_max_iterations must be at least 1, got %d", *c.GJKMaxIterations)
	}
	if c.GJKTolerance != nil && !(*c.GJKTolerance > 0 && *c.GJKTolerance < 1) {
		return fmt.Errorf("gjk_tolerance must be in (0, 1), got %g", *c.GJKTolerance)
	}
	if c.PathStep != nil && !(*c.PathStep > 0) {
		return fmt.Errorf("path_step must be positive, got %f", *c.PathStep)
	}
	if c.ValidationWorkers != nil && *c.ValidationWorkers < 0 {
		return fmt.Errorf("validation_workers must be non-negative, got %d", *c.ValidationWorkers)
	}
	if c.MaxPathSamples != nil && *c.MaxPathSamples < 2 {
		return fmt.Errorf("max_path_samples must be at least 2, got %d", *c.MaxPathSamples)
	}

	// Validate CheckTimeout can be parsed if set
	if c.CheckTimeout != nil && *c.CheckTimeout != "" {
		d, err := time.ParseDuration(*c.CheckTimeout)
		if err != nil {
			return fmt.Errorf("invalid check_timeout '%s': %w", *c.CheckTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("check_timeout must be non-negative, got %s", d)
		}
	}

	return nil
}

// GetDefaultDepthMargin returns the default_depth_margin value or the default.
func (c *TuningConfig) GetDefaultDepthMargin() float64 {
	if c.DefaultDepthMargin == nil {
		return 0.01
	}
	return *c.DefaultDepthMargin
}

// GetDefaultSizeMargin returns the default_size_margin value or the default.
func (c *TuningConfig) GetDefaultSizeMargin() float64 {
	if c.DefaultSizeMargin == nil {
		return 0
	}
	return *c.DefaultSizeMargin
}

// GetGJKMaxIterations returns the gjk_max_iterations value or the default.
func (c *TuningConfig) GetGJKMaxIterations() int {
	if c.GJKMaxIterations == nil {
		return geometry.DefaultGJKMaxIterations
	}
	return *c.GJKMaxIterations
}

// GetGJKTolerance returns the gjk_tolerance value or the default.
func (c *TuningConfig) GetGJKTolerance() float64 {
	if c.GJKTolerance == nil {
		return geometry.DefaultGJKTolerance
	}
	return *c.GJKTolerance
}

// GetBackend returns the collision backend configured by the gjk_* fields.
func (c *TuningConfig) GetBackend() geometry.GJK {
	return geometry.GJK{MaxIterations: c.GetGJKMaxIterations(), Tolerance: c.GetGJKTolerance()}
}

// GetPathStep returns the path_step value or the default.
func (c *TuningConfig) GetPathStep() float64 {
	if c.PathStep == nil {
		return 0.05
	}
	return *c.PathStep
}

// GetValidationWorkers returns the validation_workers value or the default.
func (c *TuningConfig) GetValidationWorkers() int {
	if c.ValidationWorkers == nil {
		return 0 // one per CPU
	}
	return *c.ValidationWorkers
}

// GetMaxPathSamples returns the max_path_samples value or the default.
func (c *TuningConfig) GetMaxPathSamples() int {
	if c.MaxPathSamples == nil {
		return validation.DefaultMaxSamples
	}
	return *c.MaxPathSamples
}

// GetCheckTimeout parses and returns the CheckTimeout as a time.Duration.
// Zero means no timeout; see WithCheckTimeout.
func (c *TuningConfig) GetCheckTimeout() time.Duration {
	if c.CheckTimeout == nil || *c.CheckTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.CheckTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// WithCheckTimeout derives a context bounded by check_timeout. A zero
// timeout only adds cancellation.
func (c *TuningConfig) WithCheckTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if d := c.GetCheckTimeout(); d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

// GetRecordChecks returns the record_checks value or the default.
func (c *TuningConfig) GetRecordChecks() bool {
	if c.RecordChecks == nil {
		return true
	}
	return *c.RecordChecks
}

// GetVerbose returns the verbose value or the default.
func (c *TuningConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

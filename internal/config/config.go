// Package config handles terrain tool configuration loading and management.
package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrInvalid is wrapped by every validation problem.
var ErrInvalid = errors.New("invalid config")

// Config holds all terrain settings.
type Config struct {
	Terrain       TerrainConfig       `yaml:"terrain"`
	Triangulation TriangulationConfig `yaml:"triangulation"`
	Model         ModelConfig         `yaml:"model"`
	Tasks         TasksConfig         `yaml:"tasks"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// TerrainConfig describes the height field and how it is cut into patches.
type TerrainConfig struct {
	DEMFile          string  `yaml:"dem_file"`
	RawCols          int     `yaml:"raw_cols"` // Required for .raw/.r16 files
	RawRows          int     `yaml:"raw_rows"`
	PatchSize        int     `yaml:"patch_size"`
	SamplingInterval float32 `yaml:"sampling_interval"`
	ElevationScale   float32 `yaml:"elevation_scale"`
	UpAxis           string  `yaml:"up_axis"` // "z" or "y"

	Extensions     BoundaryExtensions `yaml:"boundary_extensions"`
	HighResLODBias int                `yaml:"high_res_lod_bias"`
}

// BoundaryExtensions is the number of extra samples around each patch.
type BoundaryExtensions struct {
	Left   int `yaml:"left"`
	Bottom int `yaml:"bottom"`
	Right  int `yaml:"right"`
	Top    int `yaml:"top"`
}

// TriangulationConfig holds the adaptive triangulation settings.
type TriangulationConfig struct {
	File            string  `yaml:"file"`
	ForceRecreate   bool    `yaml:"force_recreate"`
	FinestThreshold float32 `yaml:"finest_threshold"` // 0 means a quarter of the sampling interval
	BuildWorkers    int     `yaml:"build_workers"`
	Adaptive        bool    `yaml:"adaptive"`
}

// ModelConfig holds the frame driver settings.
type ModelConfig struct {
	ScreenSpaceError float32 `yaml:"screen_space_error"`
	Async            bool    `yaml:"async"`
	ViewportWidth    int     `yaml:"viewport_width"`
	ViewportHeight   int     `yaml:"viewport_height"`
	FieldOfView      float32 `yaml:"field_of_view"` // Vertical, in degrees
}

// TasksConfig sizes the task runtime.
type TasksConfig struct {
	Workers   int `yaml:"workers"` // 0 uses one worker per CPU
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string      `yaml:"level"`
	LogFile  string      `yaml:"log_file"`
	Format   string      `yaml:"format"` // Of the log file: "json" or "console"
	Rotation LogRotation `yaml:"rotation"`
}

// LogRotation bounds the log file. Zero MaxSizeMB rotates at 100 MB; zero
// backups or age keep every rotated file.
type LogRotation struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			PatchSize:        64,
			SamplingInterval: 160,
			ElevationScale:   0.1,
			UpAxis:           "z",
			Extensions:       BoundaryExtensions{Left: 1, Bottom: 1, Right: 2, Top: 2},
		},
		Triangulation: TriangulationConfig{
			Adaptive: true,
		},
		Model: ModelConfig{
			ScreenSpaceError: 1,
			Async:            true,
			ViewportWidth:    1024,
			ViewportHeight:   768,
			FieldOfView:      60,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Rotation: LogRotation{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14, Compress: true},
		},
	}
}

// FinestThreshold returns the triangulation error threshold of the finest
// level, falling back to a quarter of the sampling interval.
func (c *Config) FinestThreshold() float32 {
	if c.Triangulation.FinestThreshold > 0 {
		return c.Triangulation.FinestThreshold
	}
	return c.Terrain.SamplingInterval / 4
}

// Validate reports every out of range setting.
func (c *Config) Validate() error {
	var err error
	bad := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	t := c.Terrain
	if t.PatchSize < 4 || t.PatchSize&(t.PatchSize-1) != 0 {
		bad("terrain.patch_size %d is not a power of two >= 4", t.PatchSize)
	}
	if t.SamplingInterval <= 0 {
		bad("terrain.sampling_interval must be positive, got %g", t.SamplingInterval)
	}
	if t.ElevationScale <= 0 {
		bad("terrain.elevation_scale must be positive, got %g", t.ElevationScale)
	}
	if t.UpAxis != "z" && t.UpAxis != "y" {
		bad("terrain.up_axis must be \"z\" or \"y\", got %q", t.UpAxis)
	}
	if t.RawCols < 0 || t.RawRows < 0 {
		bad("terrain raw size %dx%d is negative", t.RawCols, t.RawRows)
	}
	if e := t.Extensions; e.Left < 0 || e.Bottom < 0 || e.Right < 0 || e.Top < 0 {
		bad("terrain.boundary_extensions must not be negative")
	}
	if t.HighResLODBias < 0 {
		bad("terrain.high_res_lod_bias must not be negative, got %d", t.HighResLODBias)
	}

	if c.Triangulation.FinestThreshold < 0 {
		bad("triangulation.finest_threshold must not be negative, got %g", c.Triangulation.FinestThreshold)
	}
	if c.Triangulation.BuildWorkers < 0 {
		bad("triangulation.build_workers must not be negative, got %d", c.Triangulation.BuildWorkers)
	}

	m := c.Model
	if m.ScreenSpaceError <= 0 {
		bad("model.screen_space_error must be positive, got %g", m.ScreenSpaceError)
	}
	if m.ViewportWidth <= 0 || m.ViewportHeight <= 0 {
		bad("model viewport %dx%d must be positive", m.ViewportWidth, m.ViewportHeight)
	}
	if m.FieldOfView <= 0 || m.FieldOfView >= 180 {
		bad("model.field_of_view must be in (0, 180), got %g", m.FieldOfView)
	}

	if c.Tasks.Workers < 0 || c.Tasks.QueueSize < 0 {
		bad("tasks workers and queue_size must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		bad("metrics.addr is required when metrics are enabled")
	}
	l := c.Logging
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("logging.level %q is unknown", l.Level)
	}
	if l.Format != "json" && l.Format != "console" {
		bad("logging.format must be \"json\" or \"console\", got %q", l.Format)
	}
	if r := l.Rotation; r.MaxSizeMB < 0 || r.MaxBackups < 0 || r.MaxAgeDays < 0 {
		bad("logging.rotation limits must not be negative")
	}
	return err
}

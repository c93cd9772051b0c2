package config

import "flag"

// Flags holds the command-line overrides bound by RegisterFlags.
type Flags struct {
	config  *string
	debug   *bool
	dem     *string
	triang  *string
	force   *bool
	sync    *bool
	fullRes *bool
	sse     *float64
	workers *int
	metrics *string
}

// RegisterFlags binds the shared terrain flags to fs. Call it before
// fs.Parse.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		config:  fs.String("config", "", "Path to config file"),
		debug:   fs.Bool("debug", false, "Enable debug logging"),
		dem:     fs.String("dem", "", "Height field file (.png, .tif, .raw, .r16)"),
		triang:  fs.String("triang", "", "Encoded triangulation file"),
		force:   fs.Bool("force", false, "Rebuild triangulations even if the file is valid"),
		sync:    fs.Bool("sync", false, "Execute LOD tasks on the calling goroutine"),
		fullRes: fs.Bool("full-res", false, "Disable adaptive triangulation"),
		sse:     fs.Float64("sse", 0, "Screen-space error threshold in pixels"),
		workers: fs.Int("workers", 0, "Task runtime workers"),
		metrics: fs.String("metrics-addr", "", "Serve Prometheus metrics on this address"),
	}
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.config
}

// DEMPath returns the height field given via -dem.
func (f *Flags) DEMPath() string {
	if f == nil {
		return ""
	}
	return *f.dem
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.debug {
		cfg.Logging.Level = "debug"
	}
	if *f.dem != "" {
		cfg.Terrain.DEMFile = *f.dem
	}
	if *f.triang != "" {
		cfg.Triangulation.File = *f.triang
	}
	if *f.force {
		cfg.Triangulation.ForceRecreate = true
	}
	if *f.sync {
		cfg.Model.Async = false
	}
	if *f.fullRes {
		cfg.Triangulation.Adaptive = false
	}
	if *f.sse > 0 {
		cfg.Model.ScreenSpaceError = float32(*f.sse)
	}
	if *f.workers > 0 {
		cfg.Tasks.Workers = *f.workers
		cfg.Triangulation.BuildWorkers = *f.workers
	}
	if *f.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *f.metrics
	}
}

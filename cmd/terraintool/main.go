// terraintool builds, inspects and exercises adaptive terrain
// triangulations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/lod"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/triang"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "build":
		err = cmdBuild(ctx, args)
	case "info":
		err = cmdInfo(args)
	case "simulate", "sim":
		err = cmdSimulate(ctx, args)
	case "raycast":
		err = cmdRaycast(ctx, args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terraintool - adaptive terrain triangulation utility

Usage:
  terraintool <command> [options]

Commands:
  build     Build (or load) the triangulations of a height field and save them
  info      Show the hierarchy, elevation range and error bounds of a terrain
  simulate  Fly a camera over the terrain and drive the adaptive model
  raycast   Refine the model around a point and cast a vertical ray at it

Common options:
  -config <file>        YAML config (defaults < file < flags)
  -dem <file>           Height field (.png, .tif, .raw, .r16)
  -triang <file>        Encoded triangulation file
  -debug                Debug logging

Examples:
  terraintool build -dem puget.png -triang puget.tri
  terraintool info -dem puget.png -triang puget.tri
  terraintool simulate -dem puget.png -triang puget.tri -frames 600 -metrics-addr :9100
  terraintool raycast -dem puget.png -triang puget.tri -x 5000 -y 8000`)
}

// parseCommand parses the shared and command specific flags and loads the
// configuration. extra may register additional flags on fs.
func parseCommand(name string, args []string, extra func(fs *flag.FlagSet)) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := config.RegisterFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(f)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, nil
}

func setupLogging(l config.LoggingConfig) error {
	r := l.Rotation
	_, err := logger.Setup(logger.Options{
		Level:   l.Level,
		Console: os.Stderr,
		Color:   true,
		File:    l.LogFile,
		Format:  l.Format,
		Rotation: logger.Rotation{
			MaxSizeMB:  r.MaxSizeMB,
			MaxBackups: r.MaxBackups,
			MaxAgeDays: r.MaxAgeDays,
			Compress:   r.Compress,
		},
	})
	return err
}

func loadElevation(cfg *config.Config) (*elevation.Source, error) {
	t := cfg.Terrain
	if t.DEMFile == "" {
		return nil, errors.New("no height field given (use -dem or terrain.dem_file)")
	}
	hf, err := elevation.LoadHeightField(t.DEMFile, t.RawCols, t.RawRows)
	if err != nil {
		return nil, err
	}
	e := t.Extensions
	return elevation.New(hf, t.PatchSize,
		elevation.WithLogger(logger.For("elevation")),
		elevation.WithBoundaryExtensions(e.Left, e.Bottom, e.Right, e.Top),
		elevation.WithHighResLODBias(t.HighResLODBias),
	)
}

func loadTriangulations(ctx context.Context, cfg *config.Config, elev *elevation.Source) (*triang.Source, *triang.Stats, error) {
	return triang.LoadOrBuild(ctx, cfg.Triangulation.File, elev, triang.BootstrapOptions{
		ForceRecreate:   cfg.Triangulation.ForceRecreate,
		FinestThreshold: cfg.FinestThreshold(),
		Build: triang.Options{
			ElevationScale: cfg.Terrain.ElevationScale,
			Workers:        cfg.Triangulation.BuildWorkers,
		},
		Logger: logger.For("triang"),
	})
}

func modelParams(cfg *config.Config) lod.Params {
	p := lod.Params{
		ElevationSamplingInterval: cfg.Terrain.SamplingInterval,
		ElevationScale:            cfg.Terrain.ElevationScale,
		ScreenSpaceErrorBound:     cfg.Model.ScreenSpaceError,
		UpAxis:                    lod.UpAxisZ,
		AsyncExecution:            cfg.Model.Async,
		AdaptiveTriangulation:     cfg.Triangulation.Adaptive,
		Workers:                   cfg.Tasks.Workers,
		QueueSize:                 cfg.Tasks.QueueSize,
	}
	if cfg.Terrain.UpAxis == "y" {
		p.UpAxis = lod.UpAxisY
	}
	return p
}

func cmdBuild(ctx context.Context, args []string) error {
	var out string
	cfg, err := parseCommand("build", args, func(fs *flag.FlagSet) {
		fs.StringVar(&out, "out", "", "Output file (overrides -triang)")
	})
	if err != nil {
		return err
	}
	if out != "" {
		cfg.Triangulation.File = out
	}
	if cfg.Triangulation.File == "" {
		logger.For("build").Warn("no output file given, triangulations will not be saved")
	}

	elev, err := loadElevation(cfg)
	if err != nil {
		return err
	}
	src, stats, err := loadTriangulations(ctx, cfg, elev)
	if err != nil {
		return err
	}
	if stats == nil {
		// Loaded from disk; report what the file holds.
		if stats, err = src.Stats(); err != nil {
			return err
		}
	}

	fmt.Printf("Terrain: %dx%d samples, %d levels of %d² patches\n",
		elev.NumCols(), elev.NumRows(), elev.NumLevels(), elev.PatchSize())
	fmt.Printf("Finest threshold: %g\n\n", src.FinestThreshold())
	stats.Print(os.Stdout)
	return nil
}

func cmdInfo(args []string) error {
	cfg, err := parseCommand("info", args, nil)
	if err != nil {
		return err
	}
	elev, err := loadElevation(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Height field: %s\n", cfg.Terrain.DEMFile)
	fmt.Printf("Samples:      %dx%d\n", elev.NumCols(), elev.NumRows())
	fmt.Printf("Patch size:   %d\n", elev.PatchSize())
	fmt.Printf("Levels:       %d\n", elev.NumLevels())
	fmt.Printf("Elevation:    %d .. %d (scaled %.1f .. %.1f)\n",
		elev.GlobalMinElevation(), elev.GlobalMaxElevation(),
		float32(elev.GlobalMinElevation())*cfg.Terrain.ElevationScale,
		float32(elev.GlobalMaxElevation())*cfg.Terrain.ElevationScale)

	if cfg.Triangulation.File == "" {
		return nil
	}
	src, err := triang.LoadFromFile(cfg.Triangulation.File, triang.WithLogger(logger.For("triang")))
	if err != nil {
		return err
	}
	if err := src.Validate(elev); err != nil {
		return fmt.Errorf("%s: %w", cfg.Triangulation.File, err)
	}

	fmt.Printf("\nTriangulations: %s (finest threshold %g)\n", cfg.Triangulation.File, src.FinestThreshold())
	fmt.Println("Level  Patches  Max elev err  Max triang err")
	for _, l := range errorBoundsByLevel(elev, src) {
		fmt.Printf("%5d  %7d  %12d  %14.3f\n", l.level, l.patches, l.elevErr, l.triErr)
	}
	fmt.Println()

	stats, err := src.Stats()
	if err != nil {
		return err
	}
	stats.Print(os.Stdout)
	return nil
}

func closeModel(log *zap.Logger, m *lod.Model) {
	if err := m.Close(); err != nil {
		log.Warn("closing model", zap.Error(err))
	}
}

type levelBounds struct {
	level   int
	patches int
	elevErr uint16
	triErr  float32
}

func errorBoundsByLevel(elev *elevation.Source, src *triang.Source) []levelBounds {
	levels := make([]levelBounds, elev.NumLevels())
	for it := quadtree.NewIterator(elev.NumLevels()); it.Valid(); it.Next() {
		loc := it.Location()
		l := &levels[loc.Level]
		l.level = loc.Level
		l.patches++
		l.elevErr = max(l.elevErr, elev.ErrorBound(loc))
		l.triErr = max(l.triErr, src.TriangulationErrorBound(loc))
	}
	return levels
}

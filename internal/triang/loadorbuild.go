package triang

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/logger"
)

// BootstrapOptions controls LoadOrBuild.
type BootstrapOptions struct {
	// ForceRecreate skips loading and always rebuilds.
	ForceRecreate bool
	// FinestThreshold is used when the hierarchy has to be rebuilt.
	FinestThreshold float32
	Build           Options
	Logger          *zap.Logger
}

// LoadOrBuild loads the hierarchy stored at path and checks it against
// elev. When the file is missing, unreadable or stale the hierarchy is
// rebuilt and, if path is set, saved back. The returned stats are nil
// when the file was loaded.
func LoadOrBuild(ctx context.Context, path string, elev *elevation.Source, opts BootstrapOptions) (*Source, *Stats, error) {
	log := opts.Logger
	if log == nil {
		log = logger.For("triang")
	}

	if path != "" && !opts.ForceRecreate {
		src, err := LoadFromFile(path, WithLogger(log), WithExpectedShape(elev.NumLevels(), elev.PatchSize()))
		if err == nil {
			err = src.Validate(elev)
		}
		if err == nil {
			log.Info("triangulations loaded", zap.String("path", path), zap.Int("levels", src.NumLevels()))
			return src, nil, nil
		}
		log.Warn("rebuilding triangulations", zap.String("path", path), zap.Error(err))
	}

	src, err := New(elev.NumLevels(), elev.PatchSize(), opts.FinestThreshold, WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	stats, err := src.Build(ctx, elev, opts.Build)
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		if err := src.SaveToFile(path); err != nil {
			return nil, nil, fmt.Errorf("saving triangulations: %w", err)
		}
		log.Info("triangulations saved", zap.String("path", path))
	}
	return src, stats, nil
}

package triang

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// Options controls a hierarchy build.
type Options struct {
	// ElevationScale converts elevation samples to world units.
	ElevationScale float32
	// Workers is the number of patches built concurrently. Values below
	// 2 build on the calling goroutine.
	Workers int
}

type buildJob struct {
	loc       quadtree.Location
	threshold float32
}

// Build creates the triangulation of every non-root node of elev. The
// threshold starts at FinestThreshold·2^(levels-1) at the root and halves
// with every level. It is raised to a quarter of the elevation error bound
// of a patch when that is larger.
func (s *Source) Build(ctx context.Context, elev *elevation.Source, opts Options) (*Stats, error) {
	if err := s.Validate(elev); err != nil {
		return nil, err
	}
	if opts.ElevationScale <= 0 {
		opts.ElevationScale = 1
	}

	start := time.Now()
	var jobs []buildJob
	s.collectJobs(quadtree.Root, s.finestThreshold*float32(int(1)<<(s.numLevels-1)), &jobs)

	stats := newStats(s.numLevels, s.patchSize)
	var mu sync.Mutex
	build := func(job buildJob) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		triangles, err := s.buildNode(elev, job, opts.ElevationScale)
		if err != nil {
			return err
		}
		mu.Lock()
		stats.add(job.loc, triangles, s.EncodedSize(job.loc))
		mu.Unlock()
		return nil
	}

	var err error
	if opts.Workers < 2 {
		for _, job := range jobs {
			if err = build(job); err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for _, job := range jobs {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error { return build(job) })
		}
		if err = g.Wait(); err == nil {
			err = ctx.Err()
		}
	}

	stats.Duration = time.Since(start)
	metrics.InstrumentBuild(err, stats.Duration)
	if err != nil {
		return nil, fmt.Errorf("building triangulations: %w", err)
	}

	for _, lvl := range stats.Levels {
		metrics.InstrumentLevelBytes(lvl.Level, lvl.Bytes)
	}
	s.log.Info("triangulation hierarchy built",
		zap.Int("levels", s.numLevels),
		zap.Int("patches", len(jobs)),
		zap.Int("workers", max(opts.Workers, 1)),
		zap.Int64("bytes", stats.TotalBytes()),
		zap.Duration("took", stats.Duration))
	return stats, nil
}

// collectJobs lists the nodes below loc children first, so that a
// sequential build visits every subtree before its root.
func (s *Source) collectJobs(loc quadtree.Location, threshold float32, jobs *[]buildJob) {
	if loc.Level < s.numLevels-1 {
		for slot := range 4 {
			s.collectJobs(loc.Child(slot), threshold/2, jobs)
		}
	}
	if loc.Level > 0 {
		*jobs = append(*jobs, buildJob{loc: loc, threshold: threshold})
	}
}

func (s *Source) buildNode(elev *elevation.Source, job buildJob, scale float32) (int, error) {
	elevErr := float32(elev.ErrorBound(job.loc)) * scale
	threshold := max(job.threshold, elevErr/4) / scale

	window := elev.ElevData(job.loc)
	tri, achieved, triangles, err := s.CreateAdaptiveTriangulation(window, threshold)
	if err != nil {
		return 0, fmt.Errorf("triangulating %v: %w", job.loc, err)
	}
	if err := s.EncodeTriangulation(job.loc, tri, achieved); err != nil {
		return 0, err
	}
	s.log.Debug("patch triangulated",
		zap.Stringer("loc", job.loc),
		zap.Float32("threshold", threshold),
		zap.Float32("achieved", achieved),
		zap.Int("triangles", triangles))
	return triangles, nil
}

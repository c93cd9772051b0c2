package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/camera"
	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/lod"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/internal/taskrt"
	"github.com/Faultbox/midgard-terrain/internal/triang"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// scene is a model ready to be driven, together with the runtime it owns.
type scene struct {
	model *lod.Model
	pool  *taskrt.Pool
	log   *zap.Logger
	box   tmath.AABB // Z-up
	frame camera.Frame
}

func openScene(ctx context.Context, cfg *config.Config) (*scene, error) {
	elev, err := loadElevation(cfg)
	if err != nil {
		return nil, err
	}

	var src *triang.Source
	if cfg.Triangulation.Adaptive {
		if src, _, err = loadTriangulations(ctx, cfg, elev); err != nil {
			return nil, err
		}
	}

	log := logger.For("simulate")
	pool := taskrt.New(cfg.Tasks.Workers,
		taskrt.WithQueueSize(cfg.Tasks.QueueSize),
		taskrt.WithLogger(logger.For("tasks")))

	params := modelParams(cfg)
	model, err := lod.New(elev, src, pool, params, lod.WithLogger(logger.For("lod")))
	if err != nil {
		_ = pool.Shutdown()
		return nil, err
	}

	m := cfg.Model
	aspect := float32(m.ViewportWidth) / float32(m.ViewportHeight)
	near := cfg.Terrain.SamplingInterval / 10
	proj := tmath.Perspective(m.FieldOfView*math.Pi/180, aspect, near, near*1e6)
	model.SetViewFrustumParams(m.ViewportWidth, m.ViewportHeight, proj)

	s := &scene{
		model: model,
		pool:  pool,
		log:   log,
		box:   model.TerrainBoundingBox(),
	}
	if params.UpAxis == lod.UpAxisY {
		s.frame = camera.YUp
		s.box = s.box.SwapYZ()
	}
	return s, nil
}

func (s *scene) Close() error {
	closeModel(s.log, s.model)
	return s.pool.Shutdown()
}

// viewer is a camera the model can be driven from.
type viewer interface {
	Eye() tmath.Vec3
	ViewMatrix() tmath.Mat4
}

func (s *scene) drive(v viewer) {
	s.model.UpdateModel(v.Eye(), v.ViewMatrix())
}

func serveMetrics(ctx context.Context, cfg *config.Config, log *zap.Logger) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func cmdSimulate(ctx context.Context, args []string) error {
	var (
		frames   int
		fps      int
		path     string
		altitude float64
		logEvery int
		linger   time.Duration
	)
	cfg, err := parseCommand("simulate", args, func(fs *flag.FlagSet) {
		fs.IntVar(&frames, "frames", 600, "Number of frames to fly")
		fs.IntVar(&fps, "fps", 60, "Frame rate (0 runs unthrottled)")
		fs.StringVar(&path, "path", "line", "Camera path: line (diagonal flight) or orbit")
		fs.Float64Var(&altitude, "altitude", 0.02, "Flight height above the highest point, as a fraction of the terrain size")
		fs.IntVar(&logEvery, "log-every", 30, "Log the frame complexity every N frames")
		fs.DurationVar(&linger, "linger", 0, "Keep serving metrics this long after the flight")
	})
	if err != nil {
		return err
	}
	if frames < 2 {
		return fmt.Errorf("need at least 2 frames, got %d", frames)
	}

	s, err := openScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	stopMetrics := serveMetrics(ctx, cfg, s.log)
	defer stopMetrics()

	b := s.box
	span := max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	var step func(t float32) viewer
	switch path {
	case "line":
		// Fly along the diagonal, looking ahead and slightly down.
		height := b.Max[2] + float32(altitude)*span
		from := tmath.Vec3{X: b.Min[0], Y: b.Min[1], Z: height}
		to := tmath.Vec3{X: b.Max[0], Y: b.Max[1], Z: height}
		cam := camera.NewFlyCamera(s.frame)
		cam.Position = from
		cam.LookAt(to)
		cam.Pitch = -0.3
		step = func(t float32) viewer {
			cam.Position = from.Add(to.Sub(from).Scale(t))
			return cam
		}
	case "orbit":
		cam := camera.NewOrbitCamera(s.frame)
		cam.FitToBounds(b)
		cam.Pitch = max(cam.MinPitch, float32(altitude)*10)
		step = func(t float32) viewer {
			cam.Yaw = 2 * math.Pi * t
			return cam
		}
	default:
		return fmt.Errorf("unknown camera path %q", path)
	}

	var tick <-chan time.Time
	if fps > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	var peakTriangles int
	for i := 0; i < frames; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		s.drive(step(float32(i) / float32(frames-1)))

		active, visible, triangles := s.model.LastFrameComplexity()
		peakTriangles = max(peakTriangles, triangles)
		if logEvery > 0 && i%logEvery == 0 {
			s.log.Info("frame",
				zap.Int("frame", i),
				zap.Int("active", active),
				zap.Int("visible", visible),
				zap.Int("triangles", triangles),
				zap.Int("pendingTasks", s.pool.Pending()))
		}
	}
	s.model.WaitForAsyncTasks()

	elapsed := time.Since(start)
	fmt.Printf("Flew %d frames in %v (%.1f fps), peak %d visible triangles\n",
		frames, elapsed.Round(time.Millisecond), float64(frames)/elapsed.Seconds(), peakTriangles)

	if cfg.Metrics.Enabled && linger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(linger):
		}
	}
	return nil
}

func cmdRaycast(ctx context.Context, args []string) error {
	var (
		x, y   float64
		frames int
	)
	cfg, err := parseCommand("raycast", args, func(fs *flag.FlagSet) {
		fs.Float64Var(&x, "x", 0, "World X of the target")
		fs.Float64Var(&y, "y", 0, "World Y of the target (horizontal)")
		fs.IntVar(&frames, "frames", 50, "Frames used to refine the model around the target")
	})
	if err != nil {
		return err
	}

	s, err := openScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	b := s.box
	target := tmath.Vec3{X: float32(x), Y: float32(y), Z: b.Max[2] + 1}
	cam := camera.NewFlyCamera(s.frame)
	cam.Position = target.Add(tmath.Vec3{Z: cfg.Terrain.SamplingInterval * 4})
	cam.Pitch = cam.MinPitch
	for i := 0; i < frames; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.drive(cam)
		s.model.WaitForAsyncTasks()
	}

	t, ok := s.model.RayCast(s.frame.FromZUp(target), s.frame.FromZUp(tmath.Vec3{Z: -1}))
	if !ok {
		fmt.Printf("No hit at (%g, %g)\n", x, y)
		return nil
	}
	active, _, _ := s.model.LastFrameComplexity()
	fmt.Printf("Hit at (%g, %g): distance %.3f, ground height %.3f (%d active patches)\n",
		x, y, t, target.Z-t, active)
	return nil
}

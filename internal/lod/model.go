// Package lod maintains the view dependent level of detail of a terrain:
// the quadtree of patches, the tasks that refine and coarsen it and the
// per-frame driver that decides which patches are rendered.
package lod

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/internal/taskrt"
	"github.com/Faultbox/midgard-terrain/internal/triang"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

var (
	// ErrNoElevation is returned when a model is created without elevation
	// data.
	ErrNoElevation = errors.New("lod: elevation source is required")
	// ErrInvalidParams is returned for out of range model parameters.
	ErrInvalidParams = errors.New("lod: invalid parameters")
)

// Params controls the model.
type Params struct {
	// ElevationSamplingInterval is the world distance between two samples.
	ElevationSamplingInterval float32
	// ElevationScale converts samples to world units.
	ElevationScale float32
	// ScreenSpaceErrorBound is the tolerated error in pixels.
	ScreenSpaceErrorBound float32
	UpAxis                UpAxis
	// AsyncExecution runs LOD tasks on the task runtime. Otherwise they
	// execute inline.
	AsyncExecution bool
	// AdaptiveTriangulation uses the stored triangulations. Otherwise
	// patches use the full resolution grid.
	AdaptiveTriangulation bool
	// Workers and QueueSize size the task pool the model creates when it
	// is given no runtime.
	Workers   int
	QueueSize int
}

// DefaultParams returns the parameters used by the tools.
func DefaultParams() Params {
	return Params{
		ElevationSamplingInterval: 160,
		ElevationScale:            0.1,
		ScreenSpaceErrorBound:     1,
		UpAxis:                    UpAxisZ,
		AsyncExecution:            true,
		AdaptiveTriangulation:     true,
	}
}

func (p Params) validate() error {
	switch {
	case p.ElevationSamplingInterval <= 0:
		return fmt.Errorf("%w: sampling interval %v", ErrInvalidParams, p.ElevationSamplingInterval)
	case p.ElevationScale <= 0:
		return fmt.Errorf("%w: elevation scale %v", ErrInvalidParams, p.ElevationScale)
	case p.ScreenSpaceErrorBound <= 0:
		return fmt.Errorf("%w: screen space error bound %v", ErrInvalidParams, p.ScreenSpaceErrorBound)
	case p.UpAxis != UpAxisZ && p.UpAxis != UpAxisY:
		return fmt.Errorf("%w: up axis %d", ErrInvalidParams, p.UpAxis)
	}
	return nil
}

// ActivePatch is an optimal node of the last frame.
type ActivePatch struct {
	Patch            *Patch
	Location         quadtree.Location
	Visible          bool
	BoundingBox      tmath.AABB
	ScreenSpaceError float32
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger of the model.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) { m.log = l }
}

// WithPatchFactory replaces DefaultPatchFactory.
func WithPatchFactory(f PatchFactory) Option {
	return func(m *Model) { m.factory = f }
}

// Model is the adaptive terrain model. It is driven from a single
// goroutine; only LOD tasks run elsewhere.
type Model struct {
	params  Params
	geo     *geometry
	triang  *triang.Source
	rt      TaskRuntime
	pool    *taskrt.Pool
	factory PatchFactory
	builder *contentBuilder
	log     *zap.Logger

	tree *quadtree.Tree[PatchNodeData]

	proj    tmath.Mat4
	stretch float32
	camera  tmath.Vec3
	frustum tmath.Frustum

	frame     uint64
	active    []quadtree.Handle
	patches   []ActivePatch
	visible   int
	triangles int
}

// New creates a model over elev in its coarsest state. tri may be nil, in
// which case patches use the full resolution grid. When rt is nil the
// model starts and owns a task pool.
func New(elev *elevation.Source, tri *triang.Source, rt TaskRuntime, params Params, opts ...Option) (*Model, error) {
	if elev == nil {
		return nil, ErrNoElevation
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if tri != nil {
		if err := tri.Validate(elev); err != nil {
			return nil, err
		}
	}

	m := &Model{
		params:  params,
		triang:  tri,
		factory: DefaultPatchFactory,
		log:     logger.For("lod"),
		geo: &geometry{
			elev:             elev,
			numLevels:        elev.NumLevels(),
			patchSize:        elev.PatchSize(),
			samplingInterval: params.ElevationSamplingInterval,
			elevationScale:   params.ElevationScale,
			upAxis:           params.UpAxis,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if rt == nil {
		m.pool = taskrt.New(params.Workers, taskrt.WithQueueSize(params.QueueSize), taskrt.WithLogger(m.log.Named("tasks")))
		rt = m.pool
	}
	m.rt = rt
	m.SetViewFrustumParams(1024, 768, tmath.Identity())

	m.tree = quadtree.NewTree(PatchNodeData{})
	if err := m.RestartModel(); err != nil {
		m.Close()
		return nil, err
	}
	m.log.Info("adaptive model ready",
		zap.Int("levels", m.geo.numLevels),
		zap.Int("patchSize", m.geo.patchSize),
		zap.Bool("adaptive", m.builder.triang != nil),
		zap.Bool("async", params.AsyncExecution))
	return m, nil
}

// NumLevels returns the depth of the patch hierarchy.
func (m *Model) NumLevels() int { return m.geo.numLevels }

// Params returns the current parameters.
func (m *Model) Params() Params { return m.params }

// SetViewFrustumParams sets the viewport size and projection used for
// culling and screen space error.
func (m *Model) SetViewFrustumParams(width, height int, proj tmath.Mat4) {
	m.proj = proj
	dx := float32(width) * proj[0]
	dy := float32(height) * proj[5]
	m.stretch = max(dx, dy) / 2
}

// SetScreenSpaceErrorBound sets the tolerated error in pixels.
func (m *Model) SetScreenSpaceErrorBound(bound float32) {
	m.params.ScreenSpaceErrorBound = bound
}

// EnableAdaptiveTriangulation switches between stored triangulations and
// full resolution patches. It applies from the next RestartModel.
func (m *Model) EnableAdaptiveTriangulation(enable bool) {
	m.params.AdaptiveTriangulation = enable
}

// EnableAsyncExecution switches between pooled and inline task execution.
// Tasks in flight are waited for first.
func (m *Model) EnableAsyncExecution(enable bool) {
	m.WaitForAsyncTasks()
	m.params.AsyncExecution = enable
}

// TerrainBoundingBox returns the box of the whole terrain.
func (m *Model) TerrainBoundingBox() tmath.AABB {
	return m.geo.boundingBox(quadtree.Root)
}

// ActivePatches returns the optimal patches of the last frame. The slice
// is reused by the next UpdateModel.
func (m *Model) ActivePatches() []ActivePatch {
	return m.patches
}

// LastFrameComplexity returns the number of optimal patches, how many of
// them were visible and the triangles of the visible ones.
func (m *Model) LastFrameComplexity() (active, visible, triangles int) {
	return len(m.patches), m.visible, m.triangles
}

// RestartModel waits for all tasks and returns the model to its coarsest
// state: a single optimal root patch.
func (m *Model) RestartModel() error {
	m.WaitForAsyncTasks()
	root := m.tree.Root()
	m.releaseTasks(root)
	m.tree.DestroyChildren(root)

	b := &contentBuilder{geo: m.geo, factory: m.factory}
	if m.params.AdaptiveTriangulation {
		b.triang = m.triang
	}
	m.builder = b

	d := m.tree.Data(root)
	*d = PatchNodeData{
		Label:                Optimal,
		GuaranteedErrorBound: unboundedError,
		BoundingBox:          m.geo.boundingBox(quadtree.Root),
		BoxValid:             true,
	}
	m.active = m.active[:0]
	m.patches = m.patches[:0]
	m.visible, m.triangles = 0, 0
	return b.materializeRoot(d)
}

// WaitForAsyncTasks blocks until every pending task has finished. The
// results are applied by the next UpdateModel.
func (m *Model) WaitForAsyncTasks() {
	m.tree.Walk(m.tree.Root(), func(_ quadtree.Handle, d *PatchNodeData) bool {
		if d.decrease != nil {
			d.decrease.Wait()
		}
		if d.increase != nil {
			d.increase.Wait()
		}
		return true
	})
}

// Close waits for all tasks and shuts down the task pool if the model
// created it.
func (m *Model) Close() error {
	m.WaitForAsyncTasks()
	m.releaseTasks(m.tree.Root())
	if m.pool == nil {
		return nil
	}
	pool := m.pool
	m.pool = nil
	return pool.Shutdown()
}

// releaseTasks drops every finished task below and including h.
func (m *Model) releaseTasks(h quadtree.Handle) {
	m.tree.Walk(h, func(_ quadtree.Handle, d *PatchNodeData) bool {
		if d.increase != nil {
			d.increase.Release()
			d.increase = nil
		}
		if d.decrease != nil {
			d.decrease.Release()
			d.decrease = nil
		}
		return true
	})
}

// UpdateModel refines and coarsens the model for the camera and rebuilds
// the list of active patches.
func (m *Model) UpdateModel(cameraPos tmath.Vec3, view tmath.Mat4) {
	start := time.Now()
	m.frame++
	m.camera = cameraPos
	m.frustum = tmath.ExtractFrustum(m.proj.Mul(view))

	m.active = m.active[:0]
	m.visit(m.tree.Root())

	m.patches = m.patches[:0]
	m.visible, m.triangles = 0, 0
	for _, h := range m.active {
		d := m.tree.Data(h)
		ap := ActivePatch{
			Patch:            d.Patch,
			Location:         m.tree.Location(h),
			Visible:          m.frustum.IsBoxVisible(d.BoundingBox),
			BoundingBox:      d.BoundingBox,
			ScreenSpaceError: d.ScreenSpaceError,
		}
		if ap.Visible {
			m.visible++
			if ap.Patch != nil {
				m.triangles += ap.Patch.Triangles()
			}
		}
		m.patches = append(m.patches, ap)
	}
	metrics.InstrumentFrame(len(m.patches), m.visible, m.triangles, time.Since(start))
}

func (m *Model) screenSpaceError(d *PatchNodeData) float32 {
	if d.DistanceToCamera == 0 || d.GuaranteedErrorBound >= unboundedError {
		return float32(math.Inf(1))
	}
	return d.GuaranteedErrorBound / d.DistanceToCamera * m.stretch
}

func (m *Model) addActive(h quadtree.Handle) {
	d := m.tree.Data(h)
	if !d.BoxValid {
		return
	}
	assert(d.Label == Optimal, "active node %v is %v", m.tree.Location(h), d.Label)
	m.active = append(m.active, h)
}

func (m *Model) visit(h quadtree.Handle) {
	d := m.tree.Data(h)
	if !d.BoxValid {
		return
	}
	loc := m.tree.Location(h)
	assert(d.increase == nil || d.decrease == nil, "node %v holds both tasks", loc)

	d.DistanceToCamera = d.BoundingBox.DistanceTo(m.camera)
	d.ScreenSpaceError = m.screenSpaceError(d)

	if d.Label == TooCoarse {
		assert(d.increase == nil, "too coarse node %v has an increase task", loc)
		children, ok := m.tree.Children(h)
		assert(ok, "too coarse node %v has no children", loc)
		if !ok {
			return
		}

		if d.decrease != nil {
			if !d.decrease.Complete() {
				for _, c := range children {
					m.addActive(c)
				}
				return
			}
			m.coarsen(h, d)
			return
		}

		if d.ScreenSpaceError < m.params.ScreenSpaceErrorBound && loc.Level > 0 && m.canCoarsen(children) {
			m.startDecrease(h, d)
			for _, c := range children {
				m.addActive(c)
			}
			return
		}
		for _, c := range children {
			m.visit(c)
		}
		return
	}

	if d.increase != nil {
		if !d.increase.Complete() {
			m.addActive(h)
			return
		}
		if m.refine(h, d) {
			return
		}
		m.addActive(h)
		return
	}

	if loc.Level < m.geo.numLevels-1 && m.frame >= d.retryFrame &&
		(loc.Level == 0 || d.ScreenSpaceError > m.params.ScreenSpaceErrorBound) {
		m.startIncrease(d, loc)
	}
	m.addActive(h)
}

// canCoarsen reports whether all children are optimal and idle.
func (m *Model) canCoarsen(children [4]quadtree.Handle) bool {
	for _, c := range children {
		cd := m.tree.Data(c)
		if cd.Label != Optimal || cd.increase != nil || cd.decrease != nil {
			return false
		}
	}
	return true
}

// refine splices the children of a completed increase task into the tree
// and visits them. It returns false if the task failed.
func (m *Model) refine(h quadtree.Handle, d *PatchNodeData) bool {
	task := d.increase
	d.increase = nil
	defer task.Release()

	if err := task.Err(); err != nil {
		d.refineFailures++
		d.retryFrame = m.frame + retryBackoff(d.refineFailures)
		m.log.Warn("refinement failed",
			zap.Stringer("loc", m.tree.Location(h)),
			zap.Int("failures", d.refineFailures),
			zap.Uint64("retryFrame", d.retryFrame),
			zap.Error(err))
		return false
	}
	d.refineFailures, d.retryFrame = 0, 0
	children, err := m.tree.CreateChildrenFrom(h, task.children)
	if err != nil {
		m.log.Error("splicing children", zap.Stringer("loc", m.tree.Location(h)), zap.Error(err))
		return false
	}
	metrics.InstrumentLODTransition(task.Kind())
	d.Label = TooCoarse
	for _, c := range children {
		m.tree.Data(c).Label = Optimal
		m.visit(c)
	}
	return true
}

// coarsen applies a completed decrease task.
func (m *Model) coarsen(h quadtree.Handle, d *PatchNodeData) {
	children, _ := m.tree.Children(h)
	for _, c := range children {
		cd := m.tree.Data(c)
		assert(cd.Label == Optimal && cd.increase == nil && cd.decrease == nil,
			"coarsening %v with busy child %v", m.tree.Location(h), m.tree.Location(c))
	}
	task := d.decrease
	d.decrease = nil
	task.Release()

	m.tree.DestroyChildren(h)
	d.Label = Optimal
	metrics.InstrumentLODTransition(task.Kind())
	m.addActive(h)
}

// maxRetryBackoff caps the frames a node waits after failed refinements.
const maxRetryBackoff = 256

// retryBackoff doubles the wait with every consecutive failure.
func retryBackoff(failures int) uint64 {
	if failures > 8 {
		return maxRetryBackoff
	}
	return min(uint64(1)<<failures, maxRetryBackoff)
}

func (m *Model) startIncrease(d *PatchNodeData, loc quadtree.Location) {
	task := newIncreaseLODTask(loc, m.builder)
	if err := m.schedule(task); err != nil {
		m.log.Debug("refinement deferred", zap.Stringer("loc", loc), zap.Error(err))
		return
	}
	d.increase = task
}

func (m *Model) startDecrease(h quadtree.Handle, d *PatchNodeData) {
	task := newDecreaseLODTask(h)
	if err := m.schedule(task); err != nil {
		m.log.Debug("coarsening deferred", zap.Stringer("loc", m.tree.Location(h)), zap.Error(err))
		return
	}
	d.decrease = task
}

// schedule hands the task to the runtime, or runs it inline when async
// execution is off. Inline failures surface through the task itself.
func (m *Model) schedule(t lodTask) error {
	if !m.params.AsyncExecution {
		_ = t.Execute()
		return nil
	}
	h, err := m.rt.CreateTaskSet(runTask, t, 1)
	if err != nil {
		return err
	}
	t.setHandle(m.rt, h)
	return nil
}

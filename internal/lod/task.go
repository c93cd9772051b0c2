package lod

import (
	"fmt"
	"sync/atomic"

	"github.com/Faultbox/midgard-terrain/internal/rqt"
	"github.com/Faultbox/midgard-terrain/internal/taskrt"
	"github.com/Faultbox/midgard-terrain/internal/triang"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// TaskRuntime schedules task sets. taskrt.Pool implements it.
type TaskRuntime interface {
	CreateTaskSet(fn taskrt.TaskFunc, data any, count int) (taskrt.Handle, error)
	IsComplete(h taskrt.Handle) bool
	Wait(h taskrt.Handle)
	Release(h taskrt.Handle)
}

type lodTask interface {
	taskrt.Kinder
	Execute() error
	setHandle(rt TaskRuntime, h taskrt.Handle)
}

// runTask is the task set callback of every LOD task.
func runTask(data any, _ int) error {
	return data.(lodTask).Execute()
}

// taskBase tracks the completion of one LOD task.
type taskBase struct {
	executed atomic.Bool
	rt       TaskRuntime
	handle   taskrt.Handle
}

func (t *taskBase) setHandle(rt TaskRuntime, h taskrt.Handle) {
	t.rt = rt
	t.handle = h
}

// Complete reports whether the task has executed and its task set, if
// any, has finished.
func (t *taskBase) Complete() bool {
	if !t.executed.Load() {
		return false
	}
	return t.rt == nil || t.rt.IsComplete(t.handle)
}

// Wait blocks until the task set of the task has finished.
func (t *taskBase) Wait() {
	if t.rt != nil {
		t.rt.Wait(t.handle)
	}
}

// Release frees the task set handle.
func (t *taskBase) Release() {
	if t.rt != nil {
		t.rt.Release(t.handle)
		t.rt = nil
		t.handle = taskrt.Handle{}
	}
}

// contentBuilder materializes node content. It is immutable and shared by
// the driver and the workers.
type contentBuilder struct {
	geo     *geometry
	triang  *triang.Source
	factory PatchFactory
}

// materialize fills d with the content of the node at loc.
func (b *contentBuilder) materialize(loc quadtree.Location, d *PatchNodeData) error {
	elev := b.geo.elev.ElevData(loc)

	var tri *rqt.Triangulation
	var triErr float32
	if b.triang != nil {
		tri = b.triang.DecodeTriangulation(loc)
		triErr = b.triang.TriangulationErrorBound(loc)
	} else {
		tri = rqt.NewEncoder(loc, rqt.NewVertexFlags(b.geo.patchSize, true), b.geo.numLevels)
	}

	patch, err := b.factory.CreatePatch(elev, tri)
	if err != nil {
		return fmt.Errorf("creating patch %v: %w", loc, err)
	}

	scale := b.geo.elevationScale
	d.Elevation = elev
	d.Triangulation = tri
	d.Patch = patch
	d.GuaranteedErrorBound = (float32(elev.ErrorBound())*scale + triErr) * scale
	d.BoundingBox = b.geo.boundingBox(loc)
	d.BoxValid = true
	return nil
}

// materializeRoot fills the root with its coarsest content. The root has
// no stored triangulation, so it uses only the mandatory vertices when
// adaptive triangulation is on and the full grid otherwise.
func (b *contentBuilder) materializeRoot(d *PatchNodeData) error {
	elev := b.geo.elev.ElevData(quadtree.Root)
	tri := rqt.NewEncoder(quadtree.Root, rqt.NewVertexFlags(b.geo.patchSize, b.triang == nil), b.geo.numLevels)
	patch, err := b.factory.CreatePatch(elev, tri)
	if err != nil {
		return fmt.Errorf("creating root patch: %w", err)
	}
	d.Elevation = elev
	d.Triangulation = tri
	d.Patch = patch
	return nil
}

// IncreaseLODTask creates the four children of an optimal node. Until the
// task is complete the children are owned by the task alone.
type IncreaseLODTask struct {
	taskBase
	children *quadtree.Floating[PatchNodeData]
	builder  *contentBuilder
	err      error
}

func newIncreaseLODTask(parent quadtree.Location, b *contentBuilder) *IncreaseLODTask {
	return &IncreaseLODTask{
		children: quadtree.NewFloating[PatchNodeData](parent),
		builder:  b,
	}
}

// Kind names the task in metrics.
func (t *IncreaseLODTask) Kind() string { return "increase" }

// Execute materializes every child. A panicking PatchFactory fails the
// task like an error would.
func (t *IncreaseLODTask) Execute() (err error) {
	defer t.executed.Store(true)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("creating patches below %v: factory panicked: %v", t.children.Parent(), r)
		}
		t.err = err
	}()
	for slot := range 4 {
		d := t.children.Data(slot)
		d.Label = Optimal
		if err := t.builder.materialize(t.children.Location(slot), d); err != nil {
			return err
		}
	}
	return nil
}

// Err returns the error of a completed task.
func (t *IncreaseLODTask) Err() error {
	if !t.Complete() {
		return nil
	}
	return t.err
}

// Detach moves the children out of the task.
func (t *IncreaseLODTask) Detach() ([4]PatchNodeData, error) {
	return t.children.Detach()
}

// DecreaseLODTask coarsens a node whose four children are optimal.
type DecreaseLODTask struct {
	taskBase
	node quadtree.Handle
}

func newDecreaseLODTask(node quadtree.Handle) *DecreaseLODTask {
	return &DecreaseLODTask{node: node}
}

// Kind names the task in metrics.
func (t *DecreaseLODTask) Kind() string { return "decrease" }

// Node returns the node the task coarsens.
func (t *DecreaseLODTask) Node() quadtree.Handle { return t.node }

// Execute marks the task complete. The children are destroyed by the
// driver.
func (t *DecreaseLODTask) Execute() error {
	t.executed.Store(true)
	return nil
}

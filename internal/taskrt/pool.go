// Package taskrt runs task sets on a fixed pool of worker goroutines.
package taskrt

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
)

var (
	// ErrPoolClosed is returned when a task set is created after Shutdown.
	ErrPoolClosed = errors.New("taskrt: pool is closed")
	// ErrQueueFull is returned when the queue has no room for another set.
	ErrQueueFull = errors.New("taskrt: queue is full")
	// ErrNoTasks is returned for task sets with a non-positive task count.
	ErrNoTasks = errors.New("taskrt: task set has no tasks")
)

// TaskFunc executes task index of a set on its shared data.
type TaskFunc func(data any, index int) error

// Kinder is implemented by task data that names its set in metrics and
// logs.
type Kinder interface {
	Kind() string
}

// Handle identifies a task set. The zero Handle is always complete.
type Handle struct {
	ID  uuid.UUID
	set *taskSet
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.set == nil
}

type taskSet struct {
	id      uuid.UUID
	kind    string
	fn      TaskFunc
	data    any
	count   int
	next    atomic.Int64
	pending atomic.Int64
	created time.Time

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// claim returns the next unstarted task index, or false once every task
// has been handed out.
func (ts *taskSet) claim() (int, bool) {
	i := ts.next.Add(1) - 1
	if i >= int64(ts.count) {
		return 0, false
	}
	return int(i), true
}

// Pool executes task sets on a fixed number of workers. Its methods are
// safe for concurrent use.
type Pool struct {
	workers int
	queue   chan *taskSet
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	sets   map[uuid.UUID]*taskSet

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger of the pool.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		p.log = l
	}
}

// WithQueueSize sets the number of task sets that can wait for a worker.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queue = make(chan *taskSet, n)
		}
	}
}

// New starts a pool with the given number of workers. Values below 1 use
// one worker per CPU.
func New(workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		workers: workers,
		log:     logger.For("taskrt"),
		sets:    make(map[uuid.UUID]*taskSet),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue == nil {
		p.queue = make(chan *taskSet, workers*5)
	}

	p.wg.Add(workers)
	for range workers {
		go p.consume()
	}
	p.log.Debug("task pool started", zap.Int("workers", workers), zap.Int("queue", cap(p.queue)))
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// CreateTaskSet queues count tasks running fn on data. It never blocks:
// a full queue refuses the set with ErrQueueFull.
func (p *Pool) CreateTaskSet(fn TaskFunc, data any, count int) (Handle, error) {
	kind := kindOf(data)
	if count < 1 {
		return Handle{}, ErrNoTasks
	}

	ts := &taskSet{
		id:      uuid.New(),
		kind:    kind,
		fn:      fn,
		data:    data,
		count:   count,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	ts.pending.Store(int64(count))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		metrics.InstrumentTaskSetRefused(kind)
		return Handle{}, ErrPoolClosed
	}
	select {
	case p.queue <- ts:
	default:
		metrics.InstrumentTaskSetRefused(kind)
		return Handle{}, ErrQueueFull
	}
	p.sets[ts.id] = ts
	metrics.InstrumentTaskSetCreated(kind)
	return Handle{ID: ts.id, set: ts}, nil
}

// IsComplete reports whether every task of the set has finished.
func (p *Pool) IsComplete(h Handle) bool {
	if h.set == nil {
		return true
	}
	select {
	case <-h.set.done:
		return true
	default:
		return false
	}
}

// Wait blocks until every task of the set has finished.
func (p *Pool) Wait(h Handle) {
	if h.set == nil {
		return
	}
	<-h.set.done
}

// Err returns the combined errors of the tasks of a completed set.
func (p *Pool) Err(h Handle) error {
	if !p.IsComplete(h) || h.set == nil {
		return nil
	}
	h.set.mu.Lock()
	defer h.set.mu.Unlock()
	return h.set.err
}

// Release forgets the set. It waits for the set to complete first.
func (p *Pool) Release(h Handle) {
	if h.set == nil {
		return
	}
	p.Wait(h)
	p.mu.Lock()
	delete(p.sets, h.set.id)
	p.mu.Unlock()
}

// Pending returns the number of sets created and not yet released.
func (p *Pool) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sets)
}

// Shutdown stops accepting sets, runs every queued set to completion and
// stops the workers. It returns the task errors of sets that were never
// released.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for id, ts := range p.sets {
		ts.mu.Lock()
		if ts.err != nil {
			err = multierr.Append(err, fmt.Errorf("task set %s (%s): %w", id, ts.kind, ts.err))
		}
		ts.mu.Unlock()
	}
	p.log.Debug("task pool stopped", zap.Int("unreleased", len(p.sets)))
	clear(p.sets)
	return err
}

func (p *Pool) consume() {
	defer p.wg.Done()
	for ts := range p.queue {
		p.run(ts)
	}
}

// run executes tasks of the set until none is left. Sets with more than
// one task are offered back to the queue so idle workers can help.
func (p *Pool) run(ts *taskSet) {
	if int(ts.next.Load()) < ts.count-1 {
		p.offer(ts)
	}
	for {
		i, ok := ts.claim()
		if !ok {
			return
		}
		err := p.execute(ts, i)
		if err != nil {
			ts.mu.Lock()
			ts.err = multierr.Append(ts.err, err)
			ts.mu.Unlock()
		}
		if ts.pending.Add(-1) == 0 {
			d := time.Since(ts.created)
			metrics.InstrumentTaskSetCompleted(ts.kind, d)
			close(ts.done)
			if err := p.Err(Handle{set: ts}); err != nil {
				p.log.Warn("task set failed", zap.Stringer("id", ts.id), zap.String("kind", ts.kind), zap.Error(err))
			}
			return
		}
	}
}

func (p *Pool) offer(ts *taskSet) {
	if !p.mu.TryRLock() {
		return
	}
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ts:
	default:
	}
}

func (p *Pool) execute(ts *taskSet, index int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", index, r)
		}
	}()
	return ts.fn(ts.data, index)
}

func kindOf(data any) string {
	if k, ok := data.(Kinder); ok {
		return k.Kind()
	}
	return "task"
}

package taskrt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type kinded string

func (k kinded) Kind() string { return string(k) }

func TestCreateTaskSetRunsEveryIndex(t *testing.T) {
	p := New(4, WithLogger(zap.NewNop()))
	defer p.Shutdown()

	var mu sync.Mutex
	seen := map[int]int{}
	h, err := p.CreateTaskSet(func(_ any, i int) error {
		mu.Lock()
		seen[i]++
		mu.Unlock()
		return nil
	}, nil, 100)
	require.NoError(t, err)
	require.NotEqual(t, "", h.ID.String())

	p.Wait(h)
	require.True(t, p.IsComplete(h))
	require.Len(t, seen, 100)
	for i, n := range seen {
		require.Equal(t, 1, n, "task %d", i)
	}
	require.NoError(t, p.Err(h))
	p.Release(h)
	require.Equal(t, 0, p.Pending())
}

func TestDataIsPassedThrough(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()))
	defer p.Shutdown()

	type payload struct{ n atomic.Int32 }
	data := &payload{}
	h, err := p.CreateTaskSet(func(d any, _ int) error {
		d.(*payload).n.Add(1)
		return nil
	}, data, 3)
	require.NoError(t, err)
	p.Wait(h)
	require.Equal(t, int32(3), data.n.Load())
}

func TestIsCompleteBeforeTasksFinish(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()))
	defer p.Shutdown()

	release := make(chan struct{})
	h, err := p.CreateTaskSet(func(any, int) error {
		<-release
		return nil
	}, nil, 1)
	require.NoError(t, err)
	require.False(t, p.IsComplete(h))

	close(release)
	p.Wait(h)
	require.True(t, p.IsComplete(h))
}

func TestZeroHandle(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()))
	defer p.Shutdown()

	var h Handle
	require.True(t, h.IsZero())
	require.True(t, p.IsComplete(h))
	p.Wait(h)
	p.Release(h)
	require.NoError(t, p.Err(h))
}

func TestQueueFull(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()), WithQueueSize(1))
	defer p.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	block := func(any, int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	first, err := p.CreateTaskSet(block, nil, 1)
	require.NoError(t, err)
	<-started

	second, err := p.CreateTaskSet(block, nil, 1)
	require.NoError(t, err)

	_, err = p.CreateTaskSet(block, kinded("increase"), 1)
	require.ErrorIs(t, err, ErrQueueFull)

	close(release)
	p.Wait(first)
	p.Wait(second)
}

func TestNoTasks(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()))
	defer p.Shutdown()

	_, err := p.CreateTaskSet(func(any, int) error { return nil }, nil, 0)
	require.ErrorIs(t, err, ErrNoTasks)
}

func TestShutdownDrainsQueue(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()), WithQueueSize(16))

	var ran atomic.Int32
	release := make(chan struct{})
	var handles []Handle
	for i := range 8 {
		h, err := p.CreateTaskSet(func(any, int) error {
			if i == 0 {
				<-release
			}
			ran.Add(1)
			return nil
		}, nil, 1)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	close(release)
	require.NoError(t, p.Shutdown())
	require.Equal(t, int32(8), ran.Load())
	for _, h := range handles {
		require.True(t, p.IsComplete(h))
	}

	_, err := p.CreateTaskSet(func(any, int) error { return nil }, nil, 1)
	require.ErrorIs(t, err, ErrPoolClosed)
	require.NoError(t, p.Shutdown())
}

func TestShutdownReportsUnreleasedErrors(t *testing.T) {
	p := New(2, WithLogger(zap.NewNop()))

	boom := errors.New("boom")
	failing, err := p.CreateTaskSet(func(any, int) error { return boom }, kinded("increase"), 2)
	require.NoError(t, err)
	p.Wait(failing)
	require.ErrorIs(t, p.Err(failing), boom)

	released, err := p.CreateTaskSet(func(any, int) error { return boom }, nil, 1)
	require.NoError(t, err)
	p.Release(released)

	err = p.Shutdown()
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "increase")
	require.Contains(t, err.Error(), failing.ID.String())
}

func TestPanicBecomesError(t *testing.T) {
	p := New(1, WithLogger(zap.NewNop()))
	defer p.Shutdown()

	h, err := p.CreateTaskSet(func(any, int) error { panic("bad patch") }, nil, 1)
	require.NoError(t, err)
	p.Wait(h)
	require.ErrorContains(t, p.Err(h), "bad patch")

	// The worker survives the panic.
	h, err = p.CreateTaskSet(func(any, int) error { return nil }, nil, 1)
	require.NoError(t, err)
	p.Wait(h)
	require.NoError(t, p.Err(h))
}

func TestDefaultWorkers(t *testing.T) {
	p := New(0, WithLogger(zap.NewNop()))
	defer p.Shutdown()
	require.Positive(t, p.Workers())
}

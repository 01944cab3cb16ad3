package engine

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

type fakeConn struct {
	mu    sync.Mutex
	ended []bool
}

func (c *fakeConn) EndConnection(kill bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, kill)
}

func (c *fakeConn) Ended() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.ended...)
}

// eventLog records the names of dispatched events in order.
type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (l *eventLog) worker(prio int) *FuncWorker {
	return NewWorker(ir.NewName("event log"), prio, nil, func(_ context.Context, ev *event.Event) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.names = append(l.names, ev.Name().Words())
		return nil
	})
}

func (l *eventLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type fakeCollection struct {
	deleted atomic.Int32
}

func (c *fakeCollection) CollectionName() string { return "fake" }

func (c *fakeCollection) Items() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) { yield("one", 1) }
}

func (c *fakeCollection) DeleteAll(context.Context) error {
	c.deleted.Add(1)
	return nil
}

func isStopped(e *Engine) bool {
	select {
	case <-e.Stopped():
		return true
	default:
		return false
	}
}

func TestShutdown_NoChainsStopsImmediately(t *testing.T) {
	e, _ := newTestEngine(t)
	startEngine(t, e)
	require.NoError(t, e.Shutdown(context.Background()))

	assert.True(t, isStopped(e))
	assert.Equal(t, StateStopped, e.State())
}

func TestShutdown_WaitsForAllChains(t *testing.T) {
	e, _ := newTestEngine(t)
	startEngine(t, e)

	const n = 3
	releases := make([]chan struct{}, n)
	for i := range releases {
		releases[i] = make(chan struct{})
		ch := releases[i]
		e.Go(context.Background(), "blocked", func(context.Context) error {
			<-ch
			return nil
		})
	}
	require.Len(t, e.Chains(), n)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, StateDraining, e.State())

	for i := 0; i < n-1; i++ {
		close(releases[i])
	}
	require.Eventually(t, func() bool { return len(e.Chains()) == 1 }, time.Second, time.Millisecond)
	assert.False(t, isStopped(e), "one chain is still active")

	close(releases[n-1])
	require.Eventually(t, func() bool { return isStopped(e) }, time.Second, time.Millisecond)
}

func TestShutdown_NowIgnoresChains(t *testing.T) {
	e, _ := newTestEngine(t)
	block := make(chan struct{})
	defer close(block)

	for i := 0; i < 5; i++ {
		e.Go(context.Background(), "blocked", func(context.Context) error {
			<-block
			return nil
		})
	}

	e.ShutdownNow()
	assert.True(t, isStopped(e))
	assert.Len(t, e.Chains(), 5)
}

func TestShutdown_ReentrantIsNoop(t *testing.T) {
	e, _ := newTestEngine(t)
	startEngine(t, e)
	var teardowns atomic.Int32
	e.OnTeardown("count", func(context.Context) error {
		teardowns.Add(1)
		return nil
	})

	block := make(chan struct{})
	e.Go(context.Background(), "blocked", func(context.Context) error {
		<-block
		return nil
	})

	var shutdownEvents atomic.Int32
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("count shutdown"), 1, HeadIs("shutdown"),
		func(context.Context, *event.Event) error {
			shutdownEvents.Add(1)
			return nil
		})))

	ctx := context.Background()
	require.NoError(t, e.Shutdown(ctx))
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, int32(1), shutdownEvents.Load())

	e.ShutdownNow()
	e.ShutdownNow()
	require.NoError(t, e.Shutdown(ctx))
	close(block)

	assert.Equal(t, int32(1), teardowns.Load())
	assert.Equal(t, int32(1), shutdownEvents.Load())
}

func TestShutdown_DropsConnections(t *testing.T) {
	e, _ := newTestEngine(t)
	startEngine(t, e)
	graceful := &fakeConn{}
	e.AddConnection(graceful)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, []bool{false}, graceful.Ended(), "shutdown handler closes, never kills")

	late := &fakeConn{}
	e.AddConnection(late)
	assert.Equal(t, []bool{true}, late.Ended())
}

func TestShutdown_NowKillsConnections(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := &fakeConn{}
	e.AddConnection(conn)
	gone := &fakeConn{}
	e.AddConnection(gone)
	e.RemoveConnection(gone)

	e.ShutdownNow()
	assert.Equal(t, []bool{true}, conn.Ended())
	assert.Empty(t, gone.Ended())
}

func TestShutdown_TeardownFailureDoesNotBlock(t *testing.T) {
	e, _ := newTestEngine(t)
	var ran []string
	e.OnTeardown("first", func(context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	e.OnTeardown("broken", func(context.Context) error {
		ran = append(ran, "broken")
		return errors.New("disk gone")
	})
	e.OnTeardown("panicky", func(context.Context) error {
		ran = append(ran, "panicky")
		panic("oops")
	})

	e.ShutdownNow()
	assert.True(t, isStopped(e))
	assert.Equal(t, []string{"panicky", "broken", "first"}, ran, "hooks run in reverse order")
}

func TestShutdown_FreesCollections(t *testing.T) {
	e, _ := newTestEngine(t)
	startEngine(t, e)
	c := &fakeCollection{}
	require.NoError(t, e.RegisterCollection(c))
	assert.Error(t, e.RegisterCollection(c))

	got, ok := e.Collection("fake")
	require.True(t, ok)
	assert.Same(t, c, got)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, int32(1), c.deleted.Load())
}

func TestShutdown_RefusesWorkAfterStop(t *testing.T) {
	e, _ := newTestEngine(t)
	ev := mustEvent(t, e, "x")
	e.ShutdownNow()

	assert.True(t, IsStoppedError(e.Dispatch(context.Background(), ev)))

	_, err := e.ProcessEvent(context.Background(), ev).Result()
	assert.True(t, IsStoppedError(err))

	_, err = e.Go(context.Background(), "late", func(context.Context) error { return nil }).Result()
	assert.True(t, IsStoppedError(err))
}

func TestShutdown_QueuedEventsKeepEngineDraining(t *testing.T) {
	e, _ := newTestEngine(t)
	var seen atomic.Int32
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("count"), 5, HeadIs("late"),
		func(context.Context, *event.Event) error {
			seen.Add(1)
			return nil
		})))

	f := e.ProcessEvent(context.Background(), mustEvent(t, e, "late"))
	done := make(chan error, 1)
	go func() { done <- e.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return e.QueueLen() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, StateDraining, e.State(), "queued events still pending")

	startEngine(t, e)
	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), seen.Load())
	assert.True(t, isStopped(e))
}

func TestShutdown_EventQueuedBehindEarlierEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	log := &eventLog{}
	require.NoError(t, e.RegisterWorker(log.worker(5)))
	startEngine(t, e)

	ctx := context.Background()
	e.ProcessEvent(ctx, mustEvent(t, e, "first"))
	e.ProcessEvent(ctx, mustEvent(t, e, "second"))
	require.NoError(t, e.Shutdown(ctx))

	assert.Equal(t, []string{"startup", "first", "second", "shutdown"}, log.Names())
	assert.True(t, isStopped(e))
}

func TestShutdown_ChainStartedByEarlierEventStillRuns(t *testing.T) {
	e, _ := newTestEngine(t)
	log := &eventLog{}
	require.NoError(t, e.RegisterWorker(log.worker(5)))
	// a handler that reacts to foo with a follow-up event, the way "on" does
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("on foo"), 10, HeadIs("foo"),
		func(ctx context.Context, ev *event.Event) error {
			e.Go(ctx, "on foo", func(task context.Context) error {
				bar, err := e.NewEvent(nil, "bar")
				if err != nil {
					return err
				}
				_, err = e.ProcessEvent(task, bar).Wait(task)
				return err
			})
			return nil
		})))
	startEngine(t, e)

	ctx := context.Background()
	e.ProcessEvent(ctx, mustEvent(t, e, "foo"))
	require.NoError(t, e.Shutdown(ctx))
	require.Eventually(t, func() bool { return isStopped(e) }, time.Second, time.Millisecond)

	names := log.Names()
	require.Contains(t, names, "bar", "the handler's chain keeps the engine draining")
	assert.Less(t, slices.Index(names, "foo"), slices.Index(names, "shutdown"))
	assert.Less(t, slices.Index(names, "foo"), slices.Index(names, "bar"))
}

func TestShutdown_ChainListing(t *testing.T) {
	e, _ := newTestEngine(t)
	block := make(chan struct{})
	defer close(block)
	e.Go(context.Background(), "timer", func(context.Context) error {
		<-block
		return nil
	})

	col, ok := e.Collection("event")
	require.True(t, ok)
	var keys []string
	for k, v := range col.Items() {
		keys = append(keys, k)
		ch, ok := v.(Chain)
		require.True(t, ok)
		fields := map[string]string{}
		for fk, fv := range ch.List() {
			fields[fk] = fv
		}
		assert.Equal(t, "timer", fields["label"])
	}
	assert.Len(t, keys, 1)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
}

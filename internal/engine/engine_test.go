package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// failureRecorder is a FailureSink that keeps everything it is given.
type failureRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *failureRecorder) ProcessFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *failureRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// orderLog records which worker ran, in order.
type orderLog struct {
	mu  sync.Mutex
	ran []string
}

func (l *orderLog) worker(name string, prio int) *FuncWorker {
	return NewWorker(ir.NewName(name), prio, nil, func(context.Context, *event.Event) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.ran = append(l.ran, name)
		return nil
	})
}

func (l *orderLog) Ran() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ran...)
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *failureRecorder) {
	t.Helper()
	rec := &failureRecorder{}
	e := New(append([]EngineOption{WithFailureSink(rec), WithSessions(NewFixedGenerator("s-1", "s-2", "s-3"))}, opts...)...)
	return e, rec
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func mustEvent(t *testing.T, e *Engine, parts ...any) *event.Event {
	t.Helper()
	ev, err := e.NewEvent(nil, parts...)
	require.NoError(t, err)
	return ev
}

func TestEngine_New_SystemWorkers(t *testing.T) {
	e, _ := newTestEngine(t)

	var names []string
	var prios []int
	for _, w := range e.Workers() {
		names = append(names, w.Name().Words())
		prios = append(prios, w.Priority())
	}
	assert.Equal(t, []string{"shutdown first", "free all collections", "shutdown handler", "shutdown last"}, names)
	assert.Equal(t, []int{SysPrio + 1, SysPrio + 2, MaxPrio + 2, MaxPrio + 3}, prios)
	assert.Equal(t, StateRunning, e.State())
}

func TestEngine_DispatchAscendingPriority(t *testing.T) {
	e, _ := newTestEngine(t)
	log := &orderLog{}

	require.NoError(t, e.RegisterWorker(log.worker("fifty", 50)))
	require.NoError(t, e.RegisterWorker(log.worker("five", 5)))
	require.NoError(t, e.RegisterWorker(log.worker("twenty", 20)))
	require.NoError(t, e.RegisterWorker(log.worker("twenty-b", 20)))

	require.NoError(t, e.Dispatch(context.Background(), mustEvent(t, e, "x")))
	assert.Equal(t, []string{"five", "twenty", "twenty-b", "fifty"}, log.Ran())
}

func TestEngine_DispatchOnlyMatchingWorkers(t *testing.T) {
	e, _ := newTestEngine(t)
	var got []ir.Name
	w := NewWorker(ir.NewName("say"), 5, HeadIs("say"), func(_ context.Context, ev *event.Event) error {
		got = append(got, ev.Name().Drop(1))
		return nil
	})
	require.NoError(t, e.RegisterWorker(w))

	ctx := context.Background()
	require.NoError(t, e.Dispatch(ctx, mustEvent(t, e, "say", "hello")))
	require.NoError(t, e.Dispatch(ctx, mustEvent(t, e, "shout", "hello")))

	require.Len(t, got, 1)
	assert.True(t, got[0].EqualString("hello"))
}

func TestEngine_WorkerFailureIsolated(t *testing.T) {
	e, rec := newTestEngine(t)
	log := &orderLog{}
	boom := errors.New("boom")

	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("fails"), 10, nil,
		func(context.Context, *event.Event) error { return boom })))
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("panics"), 20, nil,
		func(context.Context, *event.Event) error { panic("kaputt") })))
	require.NoError(t, e.RegisterWorker(log.worker("after", 30)))

	err := e.Dispatch(context.Background(), mustEvent(t, e, "x"))
	require.NoError(t, err, "worker failures never fail the pass")
	assert.Equal(t, []string{"after"}, log.Ran())

	errs := rec.Errors()
	require.Len(t, errs, 2, "each failure is reported exactly once")
	assert.ErrorIs(t, errs[0], boom)
	var wf *WorkerFailure
	require.ErrorAs(t, errs[1], &wf)
	assert.True(t, wf.Worker.EqualString("panics"))
	assert.Contains(t, wf.Error(), "kaputt")
}

func TestEngine_PredicatePanicIsFailure(t *testing.T) {
	e, rec := newTestEngine(t)
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("bad"), 10,
		func(*event.Event) bool { panic("no") }, nil)))

	require.NoError(t, e.Dispatch(context.Background(), mustEvent(t, e, "x")))
	require.Len(t, rec.Errors(), 1)
	assert.True(t, IsWorkerFailure(rec.Errors()[0]))
}

func TestEngine_RegisterErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.RegisterWorker(NewWorker(ir.NewName("low"), SysPrio, nil, nil))
	assert.True(t, IsPriorityError(err))
	err = e.RegisterWorker(NewWorker(ir.NewName("high"), MaxPrio, nil, nil))
	assert.True(t, IsPriorityError(err))

	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("w"), 1, nil, nil)))
	err = e.RegisterWorker(NewWorker(ir.NewName("w"), 2, nil, nil))
	assert.True(t, IsDuplicateWorkerError(err))

	err = e.UnregisterWorkerNamed(ir.NewName("nope"))
	assert.True(t, IsUnknownWorkerError(err))

	err = e.RegisterWorker(NewWorker(ir.Name{}, 1, nil, nil))
	assert.Error(t, err)
}

func TestEngine_UnregisterWorker(t *testing.T) {
	e, _ := newTestEngine(t)
	log := &orderLog{}
	w := log.worker("w", 10)
	require.NoError(t, e.RegisterWorker(w))
	require.NoError(t, e.UnregisterWorker(w))

	require.NoError(t, e.Dispatch(context.Background(), mustEvent(t, e, "x")))
	assert.Empty(t, log.Ran())
	_, ok := e.Worker(ir.NewName("w"))
	assert.False(t, ok)
}

func TestEngine_RegistrationDuringPassAffectsNextPass(t *testing.T) {
	e, _ := newTestEngine(t)
	log := &orderLog{}
	late := log.worker("late", 60)

	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("adder"), 10, nil,
		func(context.Context, *event.Event) error {
			_ = e.RegisterWorker(late)
			return nil
		})))

	ctx := context.Background()
	require.NoError(t, e.Dispatch(ctx, mustEvent(t, e, "x")))
	assert.Empty(t, log.Ran())
	require.NoError(t, e.Dispatch(ctx, mustEvent(t, e, "x")))
	assert.Equal(t, []string{"late"}, log.Ran())
}

func TestEngine_ProcessEventResolvesAfterPass(t *testing.T) {
	e, _ := newTestEngine(t)
	startEngine(t, e)

	var calls []string
	var mu sync.Mutex
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("say"), 5, HeadIs("say"),
		func(_ context.Context, ev *event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, ev.Name().Drop(1).Words())
			return nil
		})))

	ev := mustEvent(t, e, "say", "hello")
	v, err := e.ProcessEvent(context.Background(), ev).Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, ev, v)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, calls)
}

func TestEngine_ProcessEventPreservesOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	log := &orderLog{}
	notStartup := func(ev *event.Event) bool { return ev.Name().Head() != "startup" }
	require.NoError(t, e.RegisterWorker(NewWorker(ir.NewName("rec"), 5, notStartup,
		func(_ context.Context, ev *event.Event) error {
			log.mu.Lock()
			defer log.mu.Unlock()
			log.ran = append(log.ran, ev.Name().Words())
			return nil
		})))

	ctx := context.Background()
	var last *async.Future
	for _, n := range []string{"a", "b", "c"} {
		last = e.ProcessEvent(ctx, mustEvent(t, e, n))
	}
	assert.Equal(t, 3, e.QueueLen())

	startEngine(t, e)
	_, err := last.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, log.Ran())
}

func TestEngine_TriggerReportsRejection(t *testing.T) {
	e, rec := newTestEngine(t)
	e.ShutdownNow()

	e.Trigger(context.Background(), mustEvent(t, e, "late"))
	require.Len(t, rec.Errors(), 1)
	assert.True(t, IsStoppedError(rec.Errors()[0]))
}

func TestEngine_GoReportsChainFailure(t *testing.T) {
	e, rec := newTestEngine(t)
	boom := errors.New("boom")

	_, err := e.Go(context.Background(), "job", func(context.Context) error { return boom }).
		Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	require.Len(t, rec.Errors(), 1)
	var cf *ChainFailure
	require.ErrorAs(t, rec.Errors()[0], &cf)
	assert.Equal(t, "job", cf.Chain.Label)
	assert.Empty(t, e.Chains())
}

func TestEngine_GoCarriesParentChain(t *testing.T) {
	e, _ := newTestEngine(t)
	parents := make(chan int64, 1)

	outer := e.Go(context.Background(), "outer", func(ctx context.Context) error {
		outerChain, ok := ChainFrom(ctx)
		if !ok {
			return errors.New("outer work has no chain")
		}
		_, err := e.Go(ctx, "inner", func(ctx context.Context) error {
			c, _ := ChainFrom(ctx)
			if c.Parent == outerChain.ID {
				parents <- c.Parent
			} else {
				parents <- -1
			}
			return nil
		}).Wait(ctx)
		return err
	})
	_, err := outer.Wait(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, int64(-1), <-parents)
}

func TestEngine_NewEventIDsIncrease(t *testing.T) {
	e, _ := newTestEngine(t, WithClock(NewClockAt(100)))
	a := mustEvent(t, e, "a")
	b := mustEvent(t, e, "b")
	assert.Greater(t, b.ID(), a.ID())
	assert.Greater(t, a.ID(), int64(100))

	_, err := e.NewEvent(nil)
	assert.Error(t, err)
}

func TestEngine_NewSession(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, "s-1", e.NewSession())
	assert.Equal(t, "s-2", e.NewSession())
}

func TestEngine_RunStopsOnContextCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateStopped, e.State())
}

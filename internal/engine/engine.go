package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// FailureSink receives every failure that no caller observes: isolated
// worker failures, failed chains, failed asynchronous triggers.
type FailureSink interface {
	ProcessFailure(err error)
}

// FailureFunc adapts a function to FailureSink.
type FailureFunc func(err error)

// ProcessFailure implements FailureSink.
func (f FailureFunc) ProcessFailure(err error) { f(err) }

// Engine owns the process-wide state: the worker list, the active chain
// set, the log level table and the dispatch queue.
//
// Thread-safety model:
//   - RegisterWorker/UnregisterWorker, Go, ProcessEvent: safe from any goroutine
//   - Dispatch: safe from any goroutine; runs the pass on the caller
//   - Run: must be called from exactly one goroutine
//
// INVARIANTS:
//   - workers is sorted by priority, then registration order
//   - a dispatch pass iterates a snapshot; registration during a pass
//     affects the next pass only
type Engine struct {
	clock    *Clock
	sessions SessionGenerator
	levels   *Levels
	root     *event.Context
	queue    *jobQueue

	mu      sync.RWMutex
	workers []Worker
	sinks   []FailureSink

	sync synchronizer

	startupEv  *event.Event
	shutdownEv *event.Event
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock that stamps event ids.
// Use NewClockAt to continue after the ids already in a journal.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithSessions sets the session id generator.
// Default: UUIDv7Generator.
func WithSessions(g SessionGenerator) EngineOption {
	return func(e *Engine) { e.sessions = g }
}

// WithLevels sets the per-subsystem level table.
func WithLevels(l *Levels) EngineOption {
	return func(e *Engine) { e.levels = l }
}

// WithFailureSink adds a failure sink.
func WithFailureSink(s FailureSink) EngineOption {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// New creates an Engine with its system workers registered.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		clock:    NewClock(),
		sessions: UUIDv7Generator{},
		levels:   NewLevels(ir.LevelNone),
		root:     event.NewContext(nil),
		queue:    newJobQueue(),
	}
	e.sync.init()

	for _, opt := range opts {
		opt(e)
	}

	e.startupEv = event.New(e.root.With("startup", true), e.clock.Next(), ir.NewName("startup"))
	e.shutdownEv = event.New(e.root.With("shutdown", true), e.clock.Next(), ir.NewName("shutdown"))
	e.registerSystemWorkers()
	return e
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Levels returns the per-subsystem level table.
func (e *Engine) Levels() *Levels { return e.levels }

// NewSession returns a fresh session id for an input stream.
func (e *Engine) NewSession() string { return e.sessions.Generate() }

// NewEvent stamps an event with the next clock value.
func (e *Engine) NewEvent(ctx *event.Context, parts ...any) (*event.Event, error) {
	name, err := ir.MakeName(parts...)
	if err != nil {
		return nil, err
	}
	if name.IsEmpty() {
		return nil, &RuntimeError{Code: ErrCodeEmptyName, Message: "event without a name"}
	}
	if ctx == nil {
		ctx = e.root
	}
	return event.New(ctx, e.clock.Next(), name), nil
}

// RegisterWorker adds a user worker. Its priority must be in
// [MinPrio, MaxPrio) and its name unused.
func (e *Engine) RegisterWorker(w Worker) error {
	if p := w.Priority(); p < MinPrio || p >= MaxPrio {
		return NewPriorityError(w.Name(), p)
	}
	return e.register(w)
}

// RegisterSystemWorker adds a worker at any priority, including the
// reserved bands.
func (e *Engine) RegisterSystemWorker(w Worker) error {
	return e.register(w)
}

func (e *Engine) register(w Worker) error {
	if w.Name().IsEmpty() {
		return &RuntimeError{Code: ErrCodeEmptyName, Message: "worker without a name"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	key := w.Name().Key()
	for _, have := range e.workers {
		if have.Name().Key() == key {
			return &RuntimeError{
				Code:    ErrCodeDuplicateWorker,
				Message: "worker already registered",
				Worker:  w.Name().Words(),
			}
		}
	}

	// after every worker of equal priority: registration order breaks ties
	idx := len(e.workers)
	for i, have := range e.workers {
		if have.Priority() > w.Priority() {
			idx = i
			break
		}
	}
	e.workers = slices.Insert(e.workers, idx, w)

	slog.Debug("worker registered", "worker", w.Name().Words(), "prio", w.Priority())
	return nil
}

// UnregisterWorker removes the worker with w's name.
func (e *Engine) UnregisterWorker(w Worker) error {
	return e.UnregisterWorkerNamed(w.Name())
}

// UnregisterWorkerNamed removes the worker called name.
func (e *Engine) UnregisterWorkerNamed(name ir.Name) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := name.Key()
	idx := slices.IndexFunc(e.workers, func(w Worker) bool { return w.Name().Key() == key })
	if idx < 0 {
		return &RuntimeError{
			Code:    ErrCodeUnknownWorker,
			Message: "no such worker",
			Worker:  name.Words(),
		}
	}
	e.workers = slices.Delete(e.workers, idx, idx+1)
	slog.Debug("worker unregistered", "worker", name.Words())
	return nil
}

// Workers returns the registered workers in dispatch order.
func (e *Engine) Workers() []Worker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.workers)
}

// Worker returns the worker called name.
func (e *Engine) Worker(name ir.Name) (Worker, bool) {
	key := name.Key()
	for _, w := range e.Workers() {
		if w.Name().Key() == key {
			return w, true
		}
	}
	return nil, false
}

// AddFailureSink adds a sink for unobserved failures.
func (e *Engine) AddFailureSink(s FailureSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// ProcessFailure hands err to every failure sink, or to slog when there
// are none. Implements FailureSink.
func (e *Engine) ProcessFailure(err error) {
	if err == nil {
		return
	}
	e.mu.RLock()
	sinks := slices.Clone(e.sinks)
	e.mu.RUnlock()

	if len(sinks) == 0 {
		slog.Error("unhandled failure", "error", err)
		return
	}
	for _, s := range sinks {
		s.ProcessFailure(err)
	}
}

// passKey carries the dispatch pass through context.Context.
type passKey struct{}

// pass is the per-event bookkeeping shared by the system workers of one
// dispatch pass.
type pass struct {
	ev     *event.Event
	parent *Chain
	chain  *Chain
}

func passFrom(ctx context.Context) *pass {
	p, _ := ctx.Value(passKey{}).(*pass)
	return p
}

// Dispatch runs every worker that accepts ev, in ascending priority order,
// on the calling goroutine.
//
// A failing or panicking worker does not stop the pass. Each failure is
// reported exactly once through the failure sinks after the pass, as a
// *WorkerFailure. The returned error is non-nil only when the pass could
// not run at all.
func (e *Engine) Dispatch(ctx context.Context, ev *event.Event) error {
	if e.State() == StateStopped {
		return NewStoppedError("dispatch of " + ev.Name().Words())
	}

	p := &pass{ev: ev, parent: chainFrom(ctx)}
	ctx = context.WithValue(ctx, passKey{}, p)

	var failures []error
	for _, w := range e.Workers() {
		ok, err := safeMatch(w, ev)
		if err == nil && ok {
			err = safeProcess(ctx, w, ev)
		}
		if err != nil {
			failures = append(failures, &WorkerFailure{Worker: w.Name(), Event: ev, Err: err})
		}
	}

	// the closing system worker may not have run if it was unregistered
	if p.chain != nil {
		e.releaseChain(p.chain)
		p.chain = nil
	}

	for _, f := range failures {
		e.ProcessFailure(f)
	}
	return nil
}

func safeMatch(w Worker, ev *event.Event) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return w.DoesEvent(ev), nil
}

func safeProcess(ctx context.Context, w Worker, ev *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &async.PanicError{Value: r}
		}
	}()
	return w.Process(ctx, ev)
}

// ProcessEvent queues ev for the Run loop. The returned Future resolves
// with ev when its own dispatch pass is complete, not when the chains it
// started finish, and rejects if the engine has stopped.
//
// A queued event counts as an active chain, so a draining engine does not
// stop before dispatching it.
func (e *Engine) ProcessEvent(ctx context.Context, ev *event.Event) *async.Future {
	if e.State() == StateStopped {
		return async.Failed(NewStoppedError("event " + ev.Name().Words()))
	}
	f := async.New()
	held := e.openChain(chainFrom(ctx), "queued "+ev.Name().Words(), ev.ID())
	if !e.queue.Enqueue(job{ctx: ctx, ev: ev, done: f, chain: held}) {
		e.releaseChain(held)
		f.Reject(NewStoppedError("event " + ev.Name().Words()))
	}
	return f
}

// Trigger is ProcessEvent for callers that do not wait: a rejected
// dispatch goes to the failure sinks.
func (e *Engine) Trigger(ctx context.Context, ev *event.Event) {
	e.ProcessEvent(ctx, ev).OnSettle(func(_ any, err error) {
		if err != nil {
			e.ProcessFailure(fmt.Errorf("trigger %s: %w", ev.Name().Words(), err))
		}
	})
}

// QueueLen returns the number of events waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run raises the startup event and then dispatches queued events until the
// synchronizer stops or ctx is cancelled.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: worker failures are isolated by Dispatch; Run itself only
// logs and continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")
	if err := e.Dispatch(ctx, e.startupEv); err != nil {
		slog.Error("startup event failed", "error", err)
	}

	for {
		if j, ok := e.queue.TryDequeue(); ok {
			e.runJob(j)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.ShutdownNow()
			e.rejectPending()
			return ctx.Err()

		case <-e.sync.stopped:
			slog.Info("engine stopped")
			e.rejectPending()
			return nil

		case <-e.queue.Wait():
			// loop back to TryDequeue; a closed queue keeps signalling
			if e.State() == StateStopped && e.queue.Len() == 0 {
				slog.Info("engine stopped")
				return nil
			}
		}
	}
}

// runJob dispatches one queued event.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) runJob(j job) {
	start := time.Now()
	err := e.Dispatch(j.ctx, j.ev)
	e.levels.Log(j.ctx, "event", ir.LevelTrace, "event dispatched",
		"event", j.ev.Name().Words(), "id", j.ev.ID(), "took", time.Since(start))
	// release first: a waiter on the shutdown event sees the engine stopped
	e.releaseChain(j.chain)
	if err != nil {
		slog.Error("event dispatch failed", "event", j.ev.Name().Words(), "id", j.ev.ID(), "error", err)
		j.done.Reject(err)
		return
	}
	j.done.Resolve(j.ev)
}

func (e *Engine) rejectPending() {
	e.queue.Close()
	for _, j := range e.queue.Drain() {
		j.done.Reject(NewStoppedError("event " + j.ev.Name().Words()))
	}
}

// Go starts fn as a tracked chain. The chain is registered with the
// synchronizer until fn returns; a non-nil error or panic is reported to
// the failure sinks as a *ChainFailure and also settles the Future.
func (e *Engine) Go(ctx context.Context, label string, fn func(ctx context.Context) error) *async.Future {
	if e.State() == StateStopped {
		return async.Failed(NewStoppedError(label))
	}
	c := e.openChain(chainFrom(ctx), label, 0)
	ctx = withChain(ctx, c)

	f := async.New()
	go func() {
		err := safeRun(ctx, fn)
		if err != nil {
			e.ProcessFailure(&ChainFailure{Chain: *c, Err: err})
		}
		e.releaseChain(c)
		f.Settle(nil, err)
	}()
	return f
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &async.PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// TeardownTimeout bounds each teardown hook.
const TeardownTimeout = 5 * time.Second

// State is the synchronizer state.
type State int

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Chain is one active-queue record: asynchronous work started but not yet
// finished. Event is the id of the event whose dispatch opened it, or 0.
type Chain struct {
	ID      int64
	Parent  int64
	Event   int64
	Label   string
	Started time.Time
}

// List implements event.Listable.
func (c Chain) List() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		_ = yield("id", strconv.FormatInt(c.ID, 10)) &&
			yield("label", c.Label) &&
			yield("parent", strconv.FormatInt(c.Parent, 10)) &&
			yield("event", strconv.FormatInt(c.Event, 10)) &&
			yield("age", time.Since(c.Started).Round(time.Millisecond).String())
	}
}

type chainKey struct{}

func withChain(ctx context.Context, c *Chain) context.Context {
	return context.WithValue(ctx, chainKey{}, c)
}

func chainFrom(ctx context.Context) *Chain {
	c, _ := ctx.Value(chainKey{}).(*Chain)
	return c
}

// ChainFrom returns the chain ctx runs in, if any.
func ChainFrom(ctx context.Context) (Chain, bool) {
	if c := chainFrom(ctx); c != nil {
		return *c, true
	}
	return Chain{}, false
}

// Connection is an input stream the engine can tear down, typically a
// parser. EndConnection must not block.
type Connection interface {
	EndConnection(kill bool)
}

// Collection is a named set of objects shown by "list" and freed on
// shutdown. Items yields a display key and the object; objects may
// implement event.Listable or event.Reportable.
type Collection interface {
	CollectionName() string
	Items() iter.Seq2[string, any]
}

// Deleter is implemented by collections whose items must be released on
// shutdown (pending timers, registered handlers).
type Deleter interface {
	DeleteAll(ctx context.Context) error
}

type teardownHook struct {
	step string
	fn   func(context.Context) error
}

// synchronizer tracks active chains and drives running → draining → stopped.
type synchronizer struct {
	mu          sync.Mutex
	state       State
	nextID      int64
	chains      map[int64]*Chain
	conns       map[Connection]struct{}
	hooks       []teardownHook
	collections map[string]Collection
	stopped     chan struct{}
	once        sync.Once
}

func (s *synchronizer) init() {
	s.chains = make(map[int64]*Chain)
	s.conns = make(map[Connection]struct{})
	s.collections = make(map[string]Collection)
	s.stopped = make(chan struct{})
}

// State returns the synchronizer state.
func (e *Engine) State() State {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	return e.sync.state
}

// Stopped returns a channel closed once the engine has stopped and
// teardown has run.
func (e *Engine) Stopped() <-chan struct{} {
	return e.sync.stopped
}

// Wait blocks until the engine stops or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.sync.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chains returns the active chains ordered by id.
func (e *Engine) Chains() []Chain {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	out := make([]Chain, 0, len(e.sync.chains))
	for _, c := range e.sync.chains {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Chain) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (e *Engine) openChain(parent *Chain, label string, eventID int64) *Chain {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	return e.openChainLocked(parent, label, eventID)
}

// openChainLocked is openChain with e.sync.mu held.
func (e *Engine) openChainLocked(parent *Chain, label string, eventID int64) *Chain {
	s := &e.sync
	s.nextID++
	c := &Chain{ID: s.nextID, Event: eventID, Label: label, Started: time.Now()}
	if parent != nil {
		c.Parent = parent.ID
	}
	s.chains[c.ID] = c
	return c
}

// releaseChain deregisters c and stops the engine if it is draining and
// nothing else is active.
func (e *Engine) releaseChain(c *Chain) {
	if c == nil {
		return
	}
	e.sync.mu.Lock()
	delete(e.sync.chains, c.ID)
	e.sync.mu.Unlock()
	e.maybeStop()
}

func (e *Engine) maybeStop() {
	e.sync.mu.Lock()
	ready := e.sync.state == StateDraining && len(e.sync.chains) == 0
	e.sync.mu.Unlock()
	if ready {
		e.stop(false)
	}
}

// Shutdown requests a graceful stop. The shutdown event is queued behind
// the events already waiting and dispatched by the Run loop like any
// other; Shutdown returns once that pass is over. The engine stops when
// no chain remains active. Calls after the first are no-ops.
//
// Shutdown waits for the Run loop, so a worker must not call it from
// its Process.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.sync.mu.Lock()
	if e.sync.state != StateRunning {
		e.sync.mu.Unlock()
		return nil
	}
	e.sync.state = StateDraining
	active := len(e.sync.chains)
	// held from the same critical section, so a chain finishing meanwhile
	// cannot stop the engine before the shutdown event is dispatched
	held := e.openChainLocked(chainFrom(ctx), "queued shutdown", e.shutdownEv.ID())
	e.sync.mu.Unlock()

	slog.Info("engine draining", "chains", active)
	f := async.New()
	if !e.queue.Enqueue(job{ctx: ctx, ev: e.shutdownEv, done: f, chain: held}) {
		e.releaseChain(held)
		return nil
	}
	_, err := f.Wait(ctx)
	if IsStoppedError(err) {
		// stopped at once meanwhile; nothing left to drain
		return nil
	}
	return err
}

// ShutdownNow stops without waiting for active chains. Teardown still runs
// once; connections are killed rather than closed.
func (e *Engine) ShutdownNow() {
	if e.State() == StateStopped {
		return
	}
	slog.Warn("engine stopping now", "chains", len(e.Chains()))
	e.stop(true)
}

func (e *Engine) stop(kill bool) {
	e.sync.once.Do(func() {
		e.sync.mu.Lock()
		e.sync.state = StateStopped
		e.sync.mu.Unlock()

		e.teardown(kill)
		close(e.sync.stopped)
		e.queue.Close()
	})
}

// teardown drops connections and runs hooks in reverse registration order.
// Failures are logged as FatalShutdownFailure and never abort teardown.
func (e *Engine) teardown(kill bool) {
	e.DropConnections(kill)

	e.sync.mu.Lock()
	hooks := slices.Clone(e.sync.hooks)
	e.sync.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		ctx, cancel := context.WithTimeout(context.Background(), TeardownTimeout)
		if err := safeRun(ctx, h.fn); err != nil {
			slog.Error("shutdown failure", "error", &FatalShutdownFailure{Step: h.step, Err: err})
		}
		cancel()
	}
}

// OnTeardown registers fn to run once when the engine stops.
func (e *Engine) OnTeardown(step string, fn func(context.Context) error) {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	e.sync.hooks = append(e.sync.hooks, teardownHook{step: step, fn: fn})
}

// AddConnection registers an input stream. A connection added after stop
// is killed at once.
func (e *Engine) AddConnection(c Connection) {
	e.sync.mu.Lock()
	if e.sync.state == StateStopped {
		e.sync.mu.Unlock()
		c.EndConnection(true)
		return
	}
	e.sync.conns[c] = struct{}{}
	e.sync.mu.Unlock()
}

// RemoveConnection forgets an input stream that ended on its own.
func (e *Engine) RemoveConnection(c Connection) {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	delete(e.sync.conns, c)
}

// DropConnections ends every registered input stream.
func (e *Engine) DropConnections(kill bool) {
	e.sync.mu.Lock()
	conns := slices.Collect(maps.Keys(e.sync.conns))
	clear(e.sync.conns)
	e.sync.mu.Unlock()

	for _, c := range conns {
		c.EndConnection(kill)
	}
}

// RegisterCollection makes c visible to "list" and, if it implements
// Deleter, freed on shutdown.
func (e *Engine) RegisterCollection(c Collection) error {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	name := c.CollectionName()
	if _, ok := e.sync.collections[name]; ok {
		return fmt.Errorf("collection %q already registered", name)
	}
	e.sync.collections[name] = c
	return nil
}

// Collection returns the collection called name.
func (e *Engine) Collection(name string) (Collection, bool) {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	c, ok := e.sync.collections[name]
	return c, ok
}

// Collections returns every collection sorted by name.
func (e *Engine) Collections() []Collection {
	e.sync.mu.Lock()
	defer e.sync.mu.Unlock()
	names := slices.Sorted(maps.Keys(e.sync.collections))
	out := make([]Collection, len(names))
	for i, n := range names {
		out[i] = e.sync.collections[n]
	}
	return out
}

func (e *Engine) freeCollections(ctx context.Context, _ *event.Event) error {
	var errs []error
	for _, c := range e.Collections() {
		d, ok := c.(Deleter)
		if !ok {
			continue
		}
		if err := d.DeleteAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("free %s: %w", c.CollectionName(), err))
		}
	}
	return errors.Join(errs...)
}

// registerSystemWorkers installs the bookkeeping workers that bound the
// priority space.
func (e *Engine) registerSystemWorkers() {
	isShutdown := func(ev *event.Event) bool { return ev == e.shutdownEv }

	workers := []Worker{
		NewWorker(ir.ParseName("shutdown first"), SysPrio+1, nil,
			func(ctx context.Context, ev *event.Event) error {
				if p := passFrom(ctx); p != nil && p.chain == nil {
					p.chain = e.openChain(p.parent, ev.Name().Words(), ev.ID())
				}
				return nil
			}).WithDoc("registers the event's chain"),
		NewWorker(ir.ParseName("free all collections"), SysPrio+2, isShutdown, e.freeCollections).
			WithDoc("releases collections on shutdown"),
		NewWorker(ir.ParseName("shutdown handler"), MaxPrio+2, isShutdown,
			func(context.Context, *event.Event) error {
				e.DropConnections(false)
				return nil
			}).WithDoc("closes input streams on shutdown"),
		NewWorker(ir.ParseName("shutdown last"), MaxPrio+3, nil,
			func(ctx context.Context, _ *event.Event) error {
				if p := passFrom(ctx); p != nil && p.chain != nil {
					c := p.chain
					p.chain = nil
					e.releaseChain(c)
				}
				e.maybeStop()
				return nil
			}).WithDoc("releases the event's chain"),
	}
	for _, w := range workers {
		if err := e.register(w); err != nil {
			panic(err)
		}
	}

	_ = e.RegisterCollection(workerCollection{e})
	_ = e.RegisterCollection(chainCollection{e})
}

type workerCollection struct{ e *Engine }

func (workerCollection) CollectionName() string { return "worker" }

func (c workerCollection) Items() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, w := range c.e.Workers() {
			if !yield(w.Name().Words(), w) {
				return
			}
		}
	}
}

type chainCollection struct{ e *Engine }

func (chainCollection) CollectionName() string { return "event" }

func (c chainCollection) Items() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, ch := range c.e.Chains() {
			if !yield(strconv.FormatInt(ch.ID, 10), ch) {
				return
			}
		}
	}
}

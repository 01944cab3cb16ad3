package statements

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
)

// DefaultOnPrio is the priority of handlers without a "prio" line.
const DefaultOnPrio = (engine.MinPrio + engine.MaxPrio) / 2

const attrOn = "on"

// Handler is an event handler created by "on". It is an engine worker
// whose Process replays the recorded body as a new chain.
type Handler struct {
	id      int
	pattern ir.Name
	name    ir.Name
	prio    int
	doc     string
	body    *interp.Block
	defCtx  *event.Context
	env     *Env
}

// ID returns the handler number used by "del on".
func (h *Handler) ID() int { return h.id }

// Name implements engine.Worker.
func (h *Handler) Name() ir.Name { return h.name }

// Priority implements engine.Worker.
func (h *Handler) Priority() int { return h.prio }

// Doc returns the handler's description.
func (h *Handler) Doc() string { return h.doc }

// Pattern returns the event pattern.
func (h *Handler) Pattern() ir.Name { return h.pattern }

// DoesEvent implements engine.Worker. "*" matches any single atom.
func (h *Handler) DoesEvent(ev *event.Event) bool {
	return Match(h.pattern, ev.Name())
}

// Match reports whether name fits pattern atom by atom.
func Match(pattern, name ir.Name) bool {
	if pattern.Len() != name.Len() {
		return false
	}
	for i := range pattern.Len() {
		p := ir.AtomString(pattern.At(i))
		if p != "*" && p != ir.AtomString(name.At(i)) {
			return false
		}
	}
	return true
}

// Process implements engine.Worker. The body runs asynchronously in a
// child of the context the handler was defined in, with $event set to the
// event name and $1...$n to its atoms.
func (h *Handler) Process(ctx context.Context, ev *event.Event) error {
	h.env.Engine.Go(ctx, "on "+h.name.Words(), func(task context.Context) error {
		hctx := h.defCtx.Child()
		hctx.Set(event.AttrEvent, ev.Name())
		for i, a := range ev.Name().Atoms() {
			hctx.Set(strconv.Itoa(i+1), a)
		}
		hctx.Set(event.AttrTask, task)
		if c, ok := engine.ChainFrom(task); ok {
			hctx.Set(event.AttrChain, c.ID)
		}
		return interp.Replay(task, interp.NewMain(hctx, h.env.Words), h.body)
	})
	return nil
}

// Report implements event.Reportable.
func (h *Handler) Report(verbose bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		if !yield(fmt.Sprintf("ON: %s", h.pattern.Words())) {
			return
		}
		if !verbose {
			return
		}
		for _, line := range h.body.Lines() {
			if !yield("\t" + line) {
				return
			}
		}
	}
}

// List implements event.Listable.
func (h *Handler) List() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		rows := [][2]string{
			{"id", strconv.Itoa(h.id)},
			{"name", h.name.Words()},
			{"prio", strconv.Itoa(h.prio)},
			{"pattern", h.pattern.Words()},
			{"doc", h.doc},
		}
		for _, line := range h.body.Lines() {
			rows = append(rows, [2]string{"code", line})
		}
		for _, r := range rows {
			if r[1] == "" {
				continue
			}
			if !yield(r[0], r[1]) {
				return
			}
		}
	}
}

// Handlers is the "on" collection.
type Handlers struct {
	e    *engine.Engine
	mu   sync.Mutex
	seq  int
	byID map[int]*Handler
}

func newHandlers(e *engine.Engine) *Handlers {
	return &Handlers{e: e, byID: make(map[int]*Handler)}
}

// CollectionName implements engine.Collection.
func (hs *Handlers) CollectionName() string { return "on" }

// Items implements engine.Collection.
func (hs *Handlers) Items() iter.Seq2[string, any] {
	all := hs.All()
	return func(yield func(string, any) bool) {
		for _, h := range all {
			if !yield(strconv.Itoa(h.id), h) {
				return
			}
		}
	}
}

// All returns the handlers ordered by id.
func (hs *Handlers) All() []*Handler {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	out := make([]*Handler, 0, len(hs.byID))
	for _, h := range hs.byID {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b *Handler) int { return a.id - b.id })
	return out
}

// add registers h with the engine and assigns its id.
func (hs *Handlers) add(h *Handler) error {
	hs.mu.Lock()
	hs.seq++
	h.id = hs.seq
	if h.name.IsEmpty() {
		h.name = ir.NewName("on", h.id)
	}
	hs.mu.Unlock()

	if err := hs.e.RegisterWorker(h); err != nil {
		return err
	}
	hs.mu.Lock()
	hs.byID[h.id] = h
	hs.mu.Unlock()
	return nil
}

// Find returns the handler with the given id or worker name.
func (hs *Handlers) Find(key ir.Name) (*Handler, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if key.Len() == 1 {
		if id, ok := key.At(0).(int64); ok {
			h, found := hs.byID[int(id)]
			return h, found
		}
	}
	for _, h := range hs.byID {
		if h.name.Equal(key) {
			return h, true
		}
	}
	return nil, false
}

// Remove unregisters the handler with the given id or name.
func (hs *Handlers) Remove(key ir.Name) error {
	h, ok := hs.Find(key)
	if !ok {
		return fmt.Errorf("no handler %q", key.Words())
	}
	hs.mu.Lock()
	delete(hs.byID, h.id)
	hs.mu.Unlock()
	return hs.e.UnregisterWorker(h)
}

// DeleteAll implements engine.Deleter.
func (hs *Handlers) DeleteAll(context.Context) error {
	for _, h := range hs.All() {
		_ = hs.Remove(ir.NewName(h.id))
	}
	return nil
}

type onStatement struct {
	env   *Env
	local *interp.Registry
}

func newOnWord(env *Env) interp.Word {
	w := &onStatement{env: env}
	w.local = interp.NewRegistry("on", env.Words).MustRegister(
		interp.NewSync(ir.NewName("prio"), "set the handler priority", onPrio).AsImmediate(),
		interp.NewSync(ir.NewName("name"), "name the handler", onName).AsImmediate(),
		interp.NewSync(ir.NewName("doc"), "describe the handler", onDoc).AsImmediate(),
	)
	return w
}

func (w *onStatement) Name() ir.Name                { return ir.NewName("on") }
func (w *onStatement) Doc() string                  { return "run statements when an event arrives" }
func (w *onStatement) LocalWords() *interp.Registry { return w.local }

func (w *onStatement) LongDoc() string {
	return `on NAME...:
	prio N        run before handlers with a higher number (default 50)
	name WORD...  name the handler for "del on" and "list on"
	doc "text"    describe the handler
	STATEMENT...
Runs the statements for every event called NAME. A "*" in NAME matches
any single word. In the statements, $event is the event name and $1, $2
... are its words.`
}

// Open implements interp.ComplexWord.
func (w *onStatement) Open(call *interp.Call) *async.Future {
	pattern, err := params(call, 1, -1)
	if err != nil {
		return async.Failed(err)
	}
	h := &Handler{
		pattern: pattern,
		prio:    DefaultOnPrio,
		defCtx:  call.Ctx,
		env:     w.env,
	}
	bctx := call.Ctx.With(attrOn, h)
	rec := interp.NewRecorder(bctx, w.local, func(body *interp.Block) *async.Future {
		h.body = body
		if err := w.env.handlers.add(h); err != nil {
			return async.Failed(interp.Errorf(call.Words, "cannot register handler: %v", err))
		}
		return async.Resolved(h)
	})
	return async.Resolved(rec)
}

func onHandler(call *interp.Call) (*Handler, error) {
	v, _ := call.Ctx.Lookup(attrOn)
	h, ok := v.(*Handler)
	if !ok {
		return nil, interp.Errorf(call.Words, "only valid inside on")
	}
	return h, nil
}

func onPrio(call *interp.Call) error {
	h, err := onHandler(call)
	if err != nil {
		return err
	}
	p, err := params(call, 1, 1)
	if err != nil {
		return err
	}
	prio, ok := p.At(0).(int64)
	if !ok || prio < engine.MinPrio || prio >= engine.MaxPrio {
		return interp.Errorf(call.Words, "priority must be an integer in [%d, %d)", engine.MinPrio, engine.MaxPrio)
	}
	h.prio = int(prio)
	return nil
}

func onName(call *interp.Call) error {
	h, err := onHandler(call)
	if err != nil {
		return err
	}
	p, err := params(call, 1, -1)
	if err != nil {
		return err
	}
	h.name = p
	return nil
}

func onDoc(call *interp.Call) error {
	h, err := onHandler(call)
	if err != nil {
		return err
	}
	p, err := params(call, 1, -1)
	if err != nil {
		return err
	}
	h.doc = strings.Join(p.Strings(), " ")
	return nil
}

func delOnWord(env *Env) interp.Word {
	return interp.NewSync(ir.NewName("del", "on"), "remove an event handler",
		func(call *interp.Call) error {
			p, err := params(call, 1, -1)
			if err != nil {
				return err
			}
			return env.handlers.Remove(p)
		})
}

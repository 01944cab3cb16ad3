package engine

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// Priority bands. User workers live in [MinPrio, MaxPrio); the system
// bookkeeping workers sit below and above so they always run first and last.
const (
	SysPrio = -10
	MinPrio = 0
	MaxPrio = 100
)

// Worker is a priority-ordered, predicate-gated event handler.
//
// Process runs synchronously inside a dispatch pass. Work that has to wait
// (timers, I/O) must be started with Engine.Go instead of blocking.
type Worker interface {
	Name() ir.Name
	Priority() int
	DoesEvent(ev *event.Event) bool
	Process(ctx context.Context, ev *event.Event) error
}

// MatchFunc decides whether a worker handles an event.
type MatchFunc func(ev *event.Event) bool

// ProcessFunc handles one event.
type ProcessFunc func(ctx context.Context, ev *event.Event) error

// FuncWorker adapts a pair of functions to Worker.
type FuncWorker struct {
	name    ir.Name
	prio    int
	match   MatchFunc
	process ProcessFunc
	doc     string
}

// NewWorker creates a FuncWorker. A nil match accepts every event; a nil
// process does nothing.
func NewWorker(name ir.Name, prio int, match MatchFunc, process ProcessFunc) *FuncWorker {
	return &FuncWorker{name: name, prio: prio, match: match, process: process}
}

// WithDoc sets the one-line description shown by "list worker".
func (w *FuncWorker) WithDoc(doc string) *FuncWorker {
	w.doc = doc
	return w
}

// Name implements Worker.
func (w *FuncWorker) Name() ir.Name { return w.name }

// Priority implements Worker.
func (w *FuncWorker) Priority() int { return w.prio }

// Doc returns the description.
func (w *FuncWorker) Doc() string { return w.doc }

// DoesEvent implements Worker.
func (w *FuncWorker) DoesEvent(ev *event.Event) bool {
	return w.match == nil || w.match(ev)
}

// Process implements Worker.
func (w *FuncWorker) Process(ctx context.Context, ev *event.Event) error {
	if w.process == nil {
		return nil
	}
	return w.process(ctx, ev)
}

// Report implements event.Reportable.
func (w *FuncWorker) Report(verbose bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		if !yield(fmt.Sprintf("WORKER: %s (%d)", w.name.Words(), w.prio)) {
			return
		}
		if verbose && w.doc != "" {
			yield("  " + w.doc)
		}
	}
}

// List implements event.Listable.
func (w *FuncWorker) List() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if !yield("name", w.name.Words()) {
			return
		}
		if !yield("priority", strconv.Itoa(w.prio)) {
			return
		}
		if w.doc != "" {
			yield("doc", w.doc)
		}
	}
}

// NameIs returns a MatchFunc accepting events whose name equals n.
func NameIs(n ir.Name) MatchFunc {
	return func(ev *event.Event) bool { return ev.Name().Equal(n) }
}

// HeadIs returns a MatchFunc accepting events whose first atom is word.
func HeadIs(word string) MatchFunc {
	return func(ev *event.Event) bool {
		return ev.Name().Len() > 0 && ev.Name().Head() == word
	}
}

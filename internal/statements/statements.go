// Package statements holds the built-in words of the control language.
//
// Every word acts on an Env: the engine events go to, the logging hub and
// the global registry that event handler bodies are replayed against.
package statements

import (
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/logging"
)

// Env is what the built-in statements act on.
type Env struct {
	Engine *engine.Engine
	Hub    *logging.Hub
	Words  *interp.Registry

	waits    *Waits
	handlers *Handlers
}

// Waits returns the running wait timers.
func (env *Env) Waits() *Waits { return env.waits }

// Handlers returns the registered event handlers.
func (env *Env) Handlers() *Handlers { return env.handlers }

// Install registers every built-in word in env.Words and the statement
// collections with the engine. A nil Hub leaves out the log words.
func Install(env *Env) error {
	if env.Engine == nil || env.Words == nil {
		return fmt.Errorf("statements: engine and registry are required")
	}
	env.waits = newWaits()
	env.handlers = newHandlers(env.Engine)

	words := []interp.Word{
		triggerWord(env),
		syncTriggerWord(env),
		newWaitWord(env),
		delWaitWord(env),
		blockWord(env),
		newOnWord(env),
		delOnWord(env),
		listWord(env),
		helpWord(env),
		shutdownWord(env),
		exitWord(),
	}
	if env.Hub != nil {
		words = append(words, logWord(env), logLevelWord(env))
	}
	for _, w := range words {
		if err := env.Words.Register(w); err != nil {
			return err
		}
	}

	for _, c := range []engine.Collection{env.waits, env.handlers, wordCollection{env.Words}} {
		if err := env.Engine.RegisterCollection(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry creates a global registry with every built-in word installed.
func NewRegistry(e *engine.Engine, hub *logging.Hub) (*interp.Registry, *Env, error) {
	env := &Env{Engine: e, Hub: hub, Words: interp.NewRegistry("global", nil)}
	if err := Install(env); err != nil {
		return nil, nil, err
	}
	return env.Words, env, nil
}

// params substitutes the call's arguments and checks their count.
func params(call *interp.Call, min, max int) (ir.Name, error) {
	p, err := call.Params()
	if err != nil {
		return ir.Name{}, err
	}
	switch {
	case p.Len() < min:
		return ir.Name{}, interp.Errorf(call.Words, "needs at least %d argument(s)", min)
	case max >= 0 && p.Len() > max:
		return ir.Name{}, interp.Errorf(call.Words, "takes at most %d argument(s)", max)
	}
	return p, nil
}

// wordCollection exposes the registry as the "statement" collection.
type wordCollection struct {
	words *interp.Registry
}

func (wordCollection) CollectionName() string { return "statement" }

func (c wordCollection) Items() iter.Seq2[string, any] {
	words := c.words.Words()
	return func(yield func(string, any) bool) {
		for _, w := range words {
			if !yield(w.Name().Words(), w) {
				return
			}
		}
	}
}

func sortByName[T any](items []T, name func(T) ir.Name) {
	slices.SortFunc(items, func(a, b T) int { return name(a).Compare(name(b)) })
}

var (
	_ event.Listable = (*Handler)(nil)
	_ event.Listable = (*Wait)(nil)
)

package interp

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// Interpreter receives the statements the parser recognises.
//
// Every call returns a Future; the parser does not read further input until
// it settles. ComplexStatement's Future resolves to the Interpreter for the
// block, whose Done is called once the block ends.
type Interpreter interface {
	SimpleStatement(args ir.Name) *async.Future
	ComplexStatement(args ir.Name) *async.Future
	Done() *async.Future

	// Error receives parse and statement failures. Parsing resumes at the
	// outermost scope afterwards.
	Error(err error)

	// Prompt reports whether the parser should emit prompts.
	Prompt() bool
}

// resolve looks up args in words and builds the call for ctx.
func resolve(words *Registry, ctx *event.Context, args ir.Name) (Word, *Call, error) {
	if args.IsEmpty() {
		return nil, nil, &ResolutionError{Words: args}
	}
	w, n, err := words.Lookup(args)
	if err != nil {
		return nil, nil, err
	}
	return w, &Call{Ctx: ctx, Words: args.Slice(0, n), Args: args.Drop(n)}, nil
}

// runSimple executes w as a one-line statement. A word that only opens
// blocks runs with an empty block.
func runSimple(w Word, call *Call) *async.Future {
	switch sw := w.(type) {
	case SimpleWord:
		return sw.Run(call)
	case ComplexWord:
		done := async.New()
		sw.Open(call).OnSettle(func(v any, err error) {
			if err != nil {
				done.Reject(err)
				return
			}
			sub, ok := v.(Interpreter)
			if !ok {
				done.Reject(Errorf(call.Words, "opened a block without an interpreter"))
				return
			}
			sub.Done().Forward(done)
		})
		return done
	default:
		return async.Failed(Errorf(call.Words, "is not a statement"))
	}
}

func openComplex(w Word, call *Call) *async.Future {
	cw, ok := w.(ComplexWord)
	if !ok {
		return async.Failed(Errorf(call.Words, "does not take a block"))
	}
	return cw.Open(call)
}

// Main executes statements as soon as they arrive.
type Main struct {
	ctx    *event.Context
	words  *Registry
	prompt bool
	onErr  func(error)
	errors atomic.Int64
}

// MainOption configures a Main interpreter.
type MainOption func(*Main)

// WithErrorHandler replaces the default error report.
func WithErrorHandler(fn func(error)) MainOption {
	return func(m *Main) {
		m.onErr = fn
	}
}

// NewMain creates a script interpreter. Errors are written to the context's
// output and counted.
func NewMain(ctx *event.Context, words *Registry, opts ...MainOption) *Main {
	if ctx == nil {
		ctx = event.NewContext(nil)
	}
	m := &Main{ctx: ctx, words: words}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewInteractive creates an interpreter that prompts for input.
func NewInteractive(ctx *event.Context, words *Registry, opts ...MainOption) *Main {
	m := NewMain(ctx, words, opts...)
	m.prompt = true
	return m
}

// Context returns the context statements run in.
func (m *Main) Context() *event.Context { return m.ctx }

// Words returns the registry statements resolve against.
func (m *Main) Words() *Registry { return m.words }

// SimpleStatement implements Interpreter.
func (m *Main) SimpleStatement(args ir.Name) *async.Future {
	w, call, err := resolve(m.words, m.ctx, args)
	if err != nil {
		return async.Failed(err)
	}
	return runSimple(w, call)
}

// ComplexStatement implements Interpreter.
func (m *Main) ComplexStatement(args ir.Name) *async.Future {
	w, call, err := resolve(m.words, m.ctx, args)
	if err != nil {
		return async.Failed(err)
	}
	return openComplex(w, call)
}

// Done implements Interpreter.
func (m *Main) Done() *async.Future { return async.Resolved(nil) }

// Error implements Interpreter.
func (m *Main) Error(err error) {
	m.errors.Add(1)
	if m.onErr != nil {
		m.onErr(err)
		return
	}
	slog.Debug("statement failed", "file", m.ctx.Filename(), "error", err)
	fmt.Fprintf(m.ctx.Out(), "ERROR: %v\n", err)
}

// Prompt implements Interpreter.
func (m *Main) Prompt() bool { return m.prompt }

// Errors returns how many errors have been reported.
func (m *Main) Errors() int { return int(m.errors.Load()) }

// Package testutil provides deterministic helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/ir"
)

// Call is one call received by a RecordingInterpreter.
type Call struct {
	Kind  string // simple, complex, done or error
	Args  string
	Depth int
}

// String renders the call indented two spaces per block level.
func (c Call) String() string {
	s := strings.Repeat("  ", c.Depth) + c.Kind
	if c.Args != "" {
		s += " " + c.Args
	}
	return s
}

// RecordingInterpreter implements interp.Interpreter by recording every
// call. ComplexStatement returns a nested recorder sharing the same log,
// so the trace shows which block each statement reached.
//
// Thread-safety: safe for concurrent use via internal mutex.
type RecordingInterpreter struct {
	log    *callLog
	name   string
	depth  int
	async  bool
	prompt bool
	fail   map[string]error
	hooks  map[string]func()
}

type callLog struct {
	mu    sync.Mutex
	calls []Call
}

// RecordingOption configures a RecordingInterpreter.
type RecordingOption func(*RecordingInterpreter)

// Async settles every Future from another goroutine, so the parser has to
// suspend on each call.
func Async() RecordingOption {
	return func(r *RecordingInterpreter) {
		r.async = true
	}
}

// Interactive makes Prompt return true.
func Interactive() RecordingOption {
	return func(r *RecordingInterpreter) {
		r.prompt = true
	}
}

// FailOn makes statements whose words equal words fail with err.
func FailOn(words string, err error) RecordingOption {
	return func(r *RecordingInterpreter) {
		r.fail[words] = err
	}
}

// OnStatement runs fn whenever a simple statement whose words equal words
// is recorded, before its Future is returned.
func OnStatement(words string, fn func()) RecordingOption {
	return func(r *RecordingInterpreter) {
		r.hooks[words] = fn
	}
}

// NewRecordingInterpreter creates the outermost recorder.
func NewRecordingInterpreter(opts ...RecordingOption) *RecordingInterpreter {
	r := &RecordingInterpreter{
		log:   &callLog{},
		fail:  make(map[string]error),
		hooks: make(map[string]func()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RecordingInterpreter) record(kind, args string) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	r.log.calls = append(r.log.calls, Call{Kind: kind, Args: args, Depth: r.depth})
}

func (r *RecordingInterpreter) settle(v any, err error) *async.Future {
	if r.async {
		return async.Go(func() (any, error) { return v, err })
	}
	return async.Settled(v, err)
}

// SimpleStatement implements interp.Interpreter.
func (r *RecordingInterpreter) SimpleStatement(args ir.Name) *async.Future {
	r.record("simple", args.Words())
	if fn := r.hooks[args.Words()]; fn != nil {
		fn()
	}
	return r.settle(nil, r.fail[args.Words()])
}

// ComplexStatement implements interp.Interpreter.
func (r *RecordingInterpreter) ComplexStatement(args ir.Name) *async.Future {
	r.record("complex", args.Words())
	if err := r.fail[args.Words()]; err != nil {
		return r.settle(nil, err)
	}
	sub := &RecordingInterpreter{
		log:   r.log,
		name:  args.Words(),
		depth: r.depth + 1,
		async: r.async,
		fail:  r.fail,
		hooks: r.hooks,
	}
	return r.settle(sub, nil)
}

// Done implements interp.Interpreter.
func (r *RecordingInterpreter) Done() *async.Future {
	r.record("done", r.name)
	return r.settle(nil, nil)
}

// Error implements interp.Interpreter.
func (r *RecordingInterpreter) Error(err error) {
	r.record("error", err.Error())
}

// Prompt implements interp.Interpreter.
func (r *RecordingInterpreter) Prompt() bool { return r.prompt }

// Calls returns a copy of everything recorded so far.
func (r *RecordingInterpreter) Calls() []Call {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	return append([]Call(nil), r.log.calls...)
}

// Trace returns the recorded calls rendered with Call.String.
func (r *RecordingInterpreter) Trace() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Reset clears the log.
func (r *RecordingInterpreter) Reset() {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	r.log.calls = nil
}

// Dump writes the trace one call per line, for failure messages.
func (r *RecordingInterpreter) Dump() string {
	var b strings.Builder
	for _, line := range r.Trace() {
		fmt.Fprintln(&b, line)
	}
	return b.String()
}

// Package interp resolves statement argument lists to registered words and
// executes them.
//
// A word is found by the longest run of leading atoms that matches a path
// in a Registry trie; the remaining atoms are its parameters. Registries
// are scoped: a complex statement may bring its own words (the "for" of a
// wait block) that shadow the global ones inside its block.
package interp

import (
	"errors"
	"fmt"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// ErrExit is returned by a statement that ends its input stream. The parser
// treats it as normal termination, not as a failure.
var ErrExit = errors.New("exit requested")

// Word is a registered statement.
type Word interface {
	Name() ir.Name
	Doc() string
}

// SimpleWord is a one-line statement.
type SimpleWord interface {
	Word
	Run(call *Call) *async.Future
}

// ComplexWord opens a block. The Future resolves to the Interpreter that
// receives the block's statements; its Done runs when the block ends.
type ComplexWord interface {
	Word
	Open(call *Call) *async.Future
}

// Documented words provide help beyond the one-line Doc.
type Documented interface {
	LongDoc() string
}

// Immediate words run while their enclosing block is still being read,
// rather than when the block is executed. Parameters of a block such as
// "for 2" inside "wait" are immediate.
type Immediate interface {
	Immediate() bool
}

// Scoped words declare the registry their block's statements resolve in,
// so a block nested in a recorded block can be checked before it runs.
type Scoped interface {
	LocalWords() *Registry
}

// Call is one invocation of a word.
type Call struct {
	Ctx   *event.Context
	Words ir.Name
	Args  ir.Name
}

// Params returns Args with $placeholders substituted from Ctx.
func (c *Call) Params() (ir.Name, error) {
	return c.Args.Apply(c.Ctx, 0)
}

// ResolutionError reports a word sequence that matches no statement.
type ResolutionError struct {
	Words ir.Name
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unknown statement: %q", e.Words.Words())
}

// StatementError reports a failed precondition of a statement.
type StatementError struct {
	Word ir.Name
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *StatementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Word.Words(), e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Word.Words(), e.Msg)
}

// Unwrap returns the underlying error.
func (e *StatementError) Unwrap() error { return e.Err }

// Errorf builds a StatementError for word.
func Errorf(word ir.Name, format string, args ...any) *StatementError {
	return &StatementError{Word: word, Msg: fmt.Sprintf(format, args...)}
}

// IsResolutionError returns true if err is or wraps a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// IsStatementError returns true if err is or wraps a StatementError.
func IsStatementError(err error) bool {
	var se *StatementError
	return errors.As(err, &se)
}

func isImmediate(w Word) bool {
	im, ok := w.(Immediate)
	return ok && im.Immediate()
}

// SimpleFunc adapts a function to SimpleWord.
type SimpleFunc struct {
	name      ir.Name
	doc       string
	long      string
	immediate bool
	run       func(call *Call) *async.Future
}

// NewSimple creates a SimpleWord.
func NewSimple(name ir.Name, doc string, run func(call *Call) *async.Future) *SimpleFunc {
	return &SimpleFunc{name: name, doc: doc, run: run}
}

// NewSync creates a SimpleWord from a function that finishes without
// suspending.
func NewSync(name ir.Name, doc string, run func(call *Call) error) *SimpleFunc {
	return NewSimple(name, doc, func(call *Call) *async.Future {
		if err := run(call); err != nil {
			return async.Failed(err)
		}
		return async.Resolved(nil)
	})
}

// AsImmediate marks the word immediate.
func (w *SimpleFunc) AsImmediate() *SimpleFunc {
	w.immediate = true
	return w
}

// WithLongDoc sets the long help text.
func (w *SimpleFunc) WithLongDoc(s string) *SimpleFunc {
	w.long = s
	return w
}

// Name implements Word.
func (w *SimpleFunc) Name() ir.Name { return w.name }

// Doc implements Word.
func (w *SimpleFunc) Doc() string { return w.doc }

// LongDoc implements Documented.
func (w *SimpleFunc) LongDoc() string { return w.long }

// Immediate implements Immediate.
func (w *SimpleFunc) Immediate() bool { return w.immediate }

// Run implements SimpleWord.
func (w *SimpleFunc) Run(call *Call) *async.Future { return w.run(call) }

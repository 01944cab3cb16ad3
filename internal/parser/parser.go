// Package parser turns lexer tokens into statement calls on an
// interp.Interpreter.
//
// ARCHITECTURE:
// The Parser is a state machine fed one token at a time. Interpreter calls
// return Futures; while one is pending the parser is suspended and the
// token that caused it stays consumed. Run is the driver: it pulls tokens
// from a Lexer, waits on pending Futures and resumes the machine.
//
// States:
//
//	0  start of a statement
//	1  inside arguments, after a value
//	2  inside arguments, after a name (a following "." joins names)
//	3  after ":" (a block or a one-line body follows)
//	4  after ":" and a newline, waiting for the indented block
//	5  after "name.", waiting for the next name part
//
// CRITICAL PATTERNS:
//   - Errors go to the outermost interpreter. Open blocks are abandoned
//     without Done and input is skipped up to the next top-level line.
//   - A one-line body ("block: say hi") closes its block after the
//     statement, exactly as if it had been written on its own line.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/lexer"
)

// Subsystem is the Levels key for token tracing.
const Subsystem = "parser"

// Prompts shown to interactive users.
const (
	PromptStatement    = ">> "
	PromptContinuation = ".. "
)

// Outcome says what a Step did.
type Outcome int

const (
	// Consumed means the token was handled; feed the next one.
	Consumed Outcome = iota
	// Suspended means an interpreter call is pending; wait on Step.Pending
	// and pass its result to Resume.
	Suspended
	// Finished means the input is complete. Further tokens are ignored.
	Finished
	// Failed means an error was reported to the outermost interpreter.
	// Parsing may continue.
	Failed
)

var outcomeNames = map[Outcome]string{
	Consumed:  "consumed",
	Suspended: "suspended",
	Finished:  "finished",
	Failed:    "failed",
}

// String returns the outcome name.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Step is the result of feeding a token.
type Step struct {
	Outcome Outcome
	Pending *async.Future
	Err     error
}

// SyntaxError is a token the current state cannot accept.
type SyntaxError struct {
	Token    lexer.Token
	State    int
	Filename string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Unknown token %q (%s, state %d) in %s:%d",
		e.Token.Text, e.Token.Kind, e.State, e.Filename, e.Token.Start.Line)
}

// IsSyntaxError returns true if err is or wraps a SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

// ErrBusy is returned when a token is fed while the parser is suspended.
var ErrBusy = errors.New("parser is waiting for a statement to finish")

// Parser is the statement state machine.
//
// Not safe for concurrent use. Feed and Resume must be called from one
// goroutine; Run does that.
type Parser struct {
	ctx      *event.Context
	levels   *engine.Levels
	promptFn func(string)
	filename string

	top   interp.Interpreter
	proc  interp.Interpreter
	stack []interp.Interpreter

	state    int
	args     []any
	popAfter bool

	cont func(v any, err error) Step

	depth        int
	recovering   bool
	afterRecover bool
	ended        bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithContext sets the context supplying the filename and trace logger.
func WithContext(ctx *event.Context) Option {
	return func(p *Parser) {
		p.ctx = ctx
	}
}

// WithLevels enables token tracing when the "parser" subsystem is at TRACE.
func WithLevels(l *engine.Levels) Option {
	return func(p *Parser) {
		p.levels = l
	}
}

// WithPromptFunc sets where prompts go when the outermost interpreter asks
// for them.
func WithPromptFunc(fn func(string)) Option {
	return func(p *Parser) {
		p.promptFn = fn
	}
}

// New creates a parser feeding top.
func New(top interp.Interpreter, opts ...Option) *Parser {
	p := &Parser{top: top, proc: top}
	for _, opt := range opts {
		opt(p)
	}
	if p.ctx == nil {
		p.ctx = event.NewContext(nil)
	}
	p.filename = p.ctx.Filename()
	return p
}

// State returns the current state number.
func (p *Parser) State() int { return p.state }

// Depth returns the number of open blocks.
func (p *Parser) Depth() int { return len(p.stack) }

// Suspended reports whether an interpreter call is pending.
func (p *Parser) Suspended() bool { return p.cont != nil }

// Prompt returns the prompt for the next line.
func (p *Parser) Prompt() string {
	if p.state == 0 && len(p.stack) == 0 {
		return PromptStatement
	}
	return PromptContinuation
}

func (p *Parser) prompt() {
	if p.promptFn != nil && p.top.Prompt() {
		p.promptFn(p.Prompt())
	}
}

func (p *Parser) trace(tok lexer.Token) {
	attrs := []any{"state", p.state, "kind", tok.Kind.String(), "text", tok.Text, "line", tok.Start.Line}
	if l, ok := p.ctx.Lookup(event.AttrLogger); ok {
		if logger, ok := l.(*slog.Logger); ok {
			logger.Debug("token", attrs...)
		}
	}
	if p.levels != nil {
		p.levels.Log(context.Background(), Subsystem, ir.LevelTrace, "token", attrs...)
	}
}

// Feed advances the machine by one token.
func (p *Parser) Feed(tok lexer.Token) Step {
	if p.cont != nil {
		return Step{Outcome: Failed, Err: ErrBusy}
	}
	if p.ended {
		return Step{Outcome: Finished}
	}
	p.trace(tok)

	switch tok.Kind {
	case lexer.KindIndent:
		p.depth++
	case lexer.KindDedent:
		p.depth--
	}
	if p.recovering {
		return p.skip(tok)
	}
	if p.afterRecover && tok.Kind != lexer.KindComment && tok.Kind != lexer.KindNewline {
		p.afterRecover = false
		if tok.Kind == lexer.KindIndent {
			p.recovering = true
			return Step{Outcome: Consumed}
		}
	}
	if tok.Kind == lexer.KindComment {
		return Step{Outcome: Consumed}
	}

	switch p.state {
	case 0:
		switch {
		case tok.Kind == lexer.KindName:
			p.args = []any{tok.Text}
			p.state = 1
			return Step{Outcome: Consumed}
		case tok.Kind == lexer.KindDedent:
			return p.await(tok, p.proc.Done(), func(any) Step {
				if len(p.stack) == 0 {
					p.ended = true
					return Step{Outcome: Finished}
				}
				p.pop()
				return Step{Outcome: Consumed}
			})
		case tok.Kind == lexer.KindEndMarker, tok.IsOp("."):
			return p.finishAll(tok)
		case tok.Kind == lexer.KindNewline:
			p.prompt()
			return Step{Outcome: Consumed}
		}

	case 1, 2:
		switch {
		case tok.Kind == lexer.KindName:
			p.args = append(p.args, tok.Text)
			p.state = 2
			return Step{Outcome: Consumed}
		case tok.IsOp("*"), tok.IsOp("+"), tok.IsOp("-"),
			tok.Kind == lexer.KindOperator && isPlaceholder(tok.Text):
			p.args = append(p.args, tok.Text)
			p.state = 1
			return Step{Outcome: Consumed}
		case tok.Kind == lexer.KindNumber, tok.Kind == lexer.KindString:
			p.args = append(p.args, tok.Value)
			p.state = 1
			return Step{Outcome: Consumed}
		case p.state == 2 && tok.IsOp("."):
			p.state = 5
			return Step{Outcome: Consumed}
		case tok.IsOp(":"):
			p.state = 3
			args, err := p.takeArgs()
			if err != nil {
				return p.fail(tok, err)
			}
			return p.await(tok, p.proc.ComplexStatement(args), func(v any) Step {
				sub, ok := v.(interp.Interpreter)
				if !ok {
					return p.fail(tok, fmt.Errorf("%s: block opened without an interpreter", args.Words()))
				}
				p.stack = append(p.stack, p.proc)
				p.proc = sub
				return Step{Outcome: Consumed}
			})
		case tok.Kind == lexer.KindNewline:
			if !p.popAfter {
				p.state = 0
			}
			args, err := p.takeArgs()
			if err != nil {
				return p.fail(tok, err)
			}
			return p.await(tok, p.proc.SimpleStatement(args), func(any) Step {
				if !p.popAfter {
					p.prompt()
					return Step{Outcome: Consumed}
				}
				return p.await(tok, p.proc.Done(), func(any) Step {
					p.pop()
					p.popAfter = false
					p.state = 0
					p.prompt()
					return Step{Outcome: Consumed}
				})
			})
		}

	case 3:
		switch tok.Kind {
		case lexer.KindNewline:
			p.state = 4
			p.prompt()
			return Step{Outcome: Consumed}
		case lexer.KindName:
			p.args = []any{tok.Text}
			p.state = 1
			p.popAfter = true
			return Step{Outcome: Consumed}
		}
		p.pop()

	case 4:
		switch tok.Kind {
		case lexer.KindIndent:
			p.state = 0
			return Step{Outcome: Consumed}
		case lexer.KindNewline:
			return Step{Outcome: Consumed}
		}
		p.pop()

	case 5:
		if tok.Kind == lexer.KindName {
			last := len(p.args) - 1
			p.args[last] = fmt.Sprint(p.args[last]) + "." + tok.Text
			p.state = 2
			return Step{Outcome: Consumed}
		}
	}

	if p.popAfter {
		p.pop()
		p.popAfter = false
	}
	return p.fail(tok, &SyntaxError{Token: tok, State: p.state, Filename: p.filename})
}

// Resume settles the pending interpreter call and continues.
func (p *Parser) Resume(v any, err error) Step {
	cont := p.cont
	if cont == nil {
		return Step{Outcome: Failed, Err: errors.New("parser is not suspended")}
	}
	p.cont = nil
	return cont(v, err)
}

// Reject reports an error that did not come from a token, such as a line
// the lexer could not read. The rest of the line is skipped.
func (p *Parser) Reject(err error) Step {
	if p.cont != nil {
		return Step{Outcome: Failed, Err: ErrBusy}
	}
	return p.fail(lexer.Token{}, err)
}

// await runs next with f's value once f settles, or suspends until it does.
// A rejection goes through fail with tok.
func (p *Parser) await(tok lexer.Token, f *async.Future, next func(v any) Step) Step {
	cont := func(v any, err error) Step {
		if err != nil {
			return p.fail(tok, err)
		}
		return next(v)
	}
	if f.Ready() {
		return cont(f.Result())
	}
	p.cont = cont
	return Step{Outcome: Suspended, Pending: f}
}

// finishAll closes the current interpreter and every enclosing one.
func (p *Parser) finishAll(tok lexer.Token) Step {
	return p.await(tok, p.proc.Done(), func(any) Step {
		if len(p.stack) == 0 {
			p.ended = true
			return Step{Outcome: Finished}
		}
		p.pop()
		return p.finishAll(tok)
	})
}

func (p *Parser) pop() {
	if len(p.stack) == 0 {
		return
	}
	p.proc = p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
}

func (p *Parser) takeArgs() (ir.Name, error) {
	args, err := ir.MakeName(p.args...)
	p.args = nil
	return args, err
}

// fail hands err to the outermost interpreter and resets to state 0.
// Unless the failure happened at the end of a top-level line, input is
// skipped up to the next one.
func (p *Parser) fail(tok lexer.Token, err error) Step {
	p.proc = p.top
	p.stack = nil
	p.args = nil
	p.popAfter = false
	p.state = 0

	if errors.Is(err, interp.ErrExit) {
		p.ended = true
		return Step{Outcome: Finished}
	}
	if tok.Kind == lexer.KindEndMarker {
		p.ended = true
	}
	atLineEnd := (tok.Kind == lexer.KindNewline || tok.Kind == lexer.KindDedent) && p.depth == 0
	p.recovering = !atLineEnd && !p.ended

	p.top.Error(err)
	p.prompt()
	return Step{Outcome: Failed, Err: err}
}

// skip discards tokens while recovering from an error.
func (p *Parser) skip(tok lexer.Token) Step {
	switch tok.Kind {
	case lexer.KindNewline, lexer.KindDedent:
		if p.depth <= 0 {
			p.depth = 0
			p.recovering = false
			p.afterRecover = tok.Kind == lexer.KindNewline
		}
	case lexer.KindEndMarker:
		p.recovering = false
		return p.Feed(tok)
	}
	return Step{Outcome: Consumed}
}

func isPlaceholder(s string) bool {
	return len(s) > 1 && (s[0] == '$' || s[0] == '*')
}

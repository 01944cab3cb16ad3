package interp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/lexer"
)

// Statement is one recorded statement. Block is nil for simple statements.
type Statement struct {
	Args  ir.Name
	Block *Block
}

// Block is a recorded statement list.
type Block struct {
	Statements []*Statement
}

// Len returns the number of top-level statements.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Statements)
}

// Lines renders the block the way it would be typed, one tab per level.
// Parsing the lines again yields the same statements.
func (b *Block) Lines() []string {
	var out []string
	b.lines(&out, 0)
	return out
}

func (b *Block) lines(out *[]string, depth int) {
	if b == nil {
		return
	}
	indent := strings.Repeat("\t", depth)
	for _, s := range b.Statements {
		if s.Block == nil {
			*out = append(*out, indent+StatementText(s.Args))
			continue
		}
		*out = append(*out, indent+StatementText(s.Args)+":")
		s.Block.lines(out, depth+1)
	}
}

// StatementText renders args as statement words. Strings that would not
// lex back as the same atom are quoted and floats keep their decimal point.
func StatementText(args ir.Name) string {
	parts := make([]string, args.Len())
	for i, a := range args.Atoms() {
		switch v := a.(type) {
		case int64:
			parts[i] = strconv.FormatInt(v, 10)
		case float64:
			parts[i] = formatFloat(v)
		case string:
			if i == 0 || lexer.IsName(v) || lexer.IsPlaceholder(v) || v == "*" || v == "+" || v == "-" {
				parts[i] = v
			} else {
				parts[i] = lexer.Quote(v)
			}
		default:
			parts[i] = ir.AtomString(a)
		}
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}

// Recorder collects the statements of a block for later execution.
//
// A live recorder is the interpreter a complex word hands to the parser:
// its immediate words run as they arrive and Done passes the collected
// block to the word. Blocks nested inside a recorded block are recorded
// without running anything, since they only execute on replay.
type Recorder struct {
	ctx    *event.Context
	words  *Registry
	live   bool
	block  *Block
	onDone func(*Block) *async.Future
	errs   []error
}

// NewRecorder creates a live recorder. onDone may be nil.
func NewRecorder(ctx *event.Context, words *Registry, onDone func(*Block) *async.Future) *Recorder {
	return &Recorder{
		ctx:    ctx,
		words:  words,
		live:   true,
		block:  &Block{},
		onDone: onDone,
	}
}

// Block returns what has been recorded so far.
func (r *Recorder) Block() *Block { return r.block }

// SimpleStatement implements Interpreter.
func (r *Recorder) SimpleStatement(args ir.Name) *async.Future {
	w, call, err := resolve(r.words, r.ctx, args)
	if err != nil {
		return async.Failed(err)
	}
	if r.live && isImmediate(w) {
		return runSimple(w, call)
	}
	r.block.Statements = append(r.block.Statements, &Statement{Args: args})
	return async.Resolved(nil)
}

// ComplexStatement implements Interpreter.
func (r *Recorder) ComplexStatement(args ir.Name) *async.Future {
	w, call, err := resolve(r.words, r.ctx, args)
	if err != nil {
		return async.Failed(err)
	}
	if _, ok := w.(ComplexWord); !ok {
		return async.Failed(Errorf(call.Words, "does not take a block"))
	}
	words := r.words
	if s, ok := w.(Scoped); ok {
		words = s.LocalWords()
	}
	st := &Statement{Args: args, Block: &Block{}}
	r.block.Statements = append(r.block.Statements, st)
	return async.Resolved(&Recorder{ctx: r.ctx, words: words, block: st.Block})
}

// Done implements Interpreter.
func (r *Recorder) Done() *async.Future {
	if r.onDone == nil {
		return async.Resolved(nil)
	}
	return r.onDone(r.block)
}

// Error implements Interpreter.
func (r *Recorder) Error(err error) {
	r.errs = append(r.errs, err)
	slog.Debug("error inside recorded block", "error", err)
}

// Errors returns the errors reported to this recorder.
func (r *Recorder) Errors() []error { return r.errs }

// Prompt implements Interpreter.
func (r *Recorder) Prompt() bool { return false }

// Replay feeds b to target in order, waiting for each statement. Nested
// blocks are opened, replayed and closed the way the parser would.
func Replay(ctx context.Context, target Interpreter, b *Block) error {
	if b == nil {
		return nil
	}
	for _, s := range b.Statements {
		if s.Block == nil {
			if _, err := target.SimpleStatement(s.Args).Wait(ctx); err != nil {
				return err
			}
			continue
		}
		v, err := target.ComplexStatement(s.Args).Wait(ctx)
		if err != nil {
			return err
		}
		sub, ok := v.(Interpreter)
		if !ok {
			return fmt.Errorf("%s: block opened without an interpreter", s.Args.Words())
		}
		if err := Replay(ctx, sub, s.Block); err != nil {
			return err
		}
		if _, err := sub.Done().Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/lexer"
)

// ErrFeedClosed is returned when adding a line to a closed LineFeed.
var ErrFeedClosed = errors.New("line feed is closed")

var errKilled = errors.New("connection killed")

// LineFeed is a LineSource that lines are pushed into, for input arriving
// from another goroutine. ReadLine blocks until a line or Close arrives.
type LineFeed struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	err    error
	ready  chan struct{}
}

// NewLineFeed creates an open, empty feed.
func NewLineFeed() *LineFeed {
	return &LineFeed{ready: make(chan struct{}, 1)}
}

// AddLine queues one line of input.
func (f *LineFeed) AddLine(line string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	f.lines = append(f.lines, line)
	f.mu.Unlock()
	f.signal()
	return nil
}

// Close ends the input after the queued lines.
func (f *LineFeed) Close() {
	f.closeWith(io.EOF, false)
}

// abort ends the input immediately, dropping queued lines.
func (f *LineFeed) abort() {
	f.closeWith(errKilled, true)
}

func (f *LineFeed) closeWith(err error, drop bool) {
	f.mu.Lock()
	if !f.closed || drop {
		f.closed = true
		f.err = err
		if drop {
			f.lines = nil
		}
	}
	f.mu.Unlock()
	f.signal()
}

func (f *LineFeed) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// ReadLine implements lexer.LineSource.
func (f *LineFeed) ReadLine() (string, error) {
	for {
		f.mu.Lock()
		if len(f.lines) > 0 {
			line := f.lines[0]
			f.lines = f.lines[1:]
			f.mu.Unlock()
			return line, nil
		}
		if f.closed {
			err := f.err
			f.mu.Unlock()
			return "", err
		}
		f.mu.Unlock()
		<-f.ready
	}
}

// Conn drives one Parser over one input and is the unit the engine drops
// at shutdown.
type Conn struct {
	p   *Parser
	lx  *lexer.Lexer
	src lexer.LineSource

	mu     sync.Mutex
	cancel context.CancelFunc
	killed bool
	ended  bool

	line  atomic.Int64
	state atomic.Int64
}

// NewConn creates a connection reading src. The parser reports filename
// in syntax errors.
func NewConn(p *Parser, src lexer.LineSource, filename string) *Conn {
	p.filename = filename
	c := &Conn{p: p, src: src}
	if _, ok := src.(*LineFeed); ok {
		c.lx = lexer.New(src, filename)
	} else {
		c.lx = lexer.New(lexer.LineSourceFunc(c.readLine), filename)
	}
	return c
}

// readLine reads from a source the connection cannot close itself. Once
// the connection has ended no further lines are read, so the lexer emits
// its closing Dedents and EndMarker.
func (c *Conn) readLine() (string, error) {
	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return "", io.EOF
	}
	return c.src.ReadLine()
}

// Parser returns the connection's parser.
func (c *Conn) Parser() *Parser { return c.p }

// Filename returns the input name.
func (c *Conn) Filename() string { return c.lx.Filename() }

// Run parses the input to the end. A killed connection returns nil;
// a failing LineSource or a cancelled ctx returns the error.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.p.prompt()
	for {
		if err := ctx.Err(); err != nil {
			return c.exitErr(err)
		}
		tok, err := c.lx.Next()
		var st Step
		if err != nil {
			var lexErr *lexer.Error
			if !errors.As(err, &lexErr) {
				return c.exitErr(err)
			}
			st = c.p.Reject(err)
		} else {
			c.line.Store(int64(tok.Start.Line))
			st = c.p.Feed(tok)
		}
		for st.Outcome == Suspended {
			v, err := st.Pending.Wait(ctx)
			if ctx.Err() != nil {
				return c.exitErr(ctx.Err())
			}
			st = c.p.Resume(v, err)
		}
		c.state.Store(int64(c.p.State()))
		if st.Outcome == Finished {
			return nil
		}
	}
}

func (c *Conn) exitErr(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.killed || errors.Is(err, errKilled) {
		return nil
	}
	return err
}

// EndConnection implements engine.Connection. Without kill the input ends
// after the line being parsed, so the parser finishes its open blocks
// normally; with kill parsing stops at once and open blocks are abandoned.
// A LineFeed still delivers the lines queued before the call.
func (c *Conn) EndConnection(kill bool) {
	c.mu.Lock()
	c.ended = true
	if kill {
		c.killed = true
		if c.cancel != nil {
			c.cancel()
		}
	}
	c.mu.Unlock()

	if feed, ok := c.src.(*LineFeed); ok {
		if kill {
			feed.abort()
		} else {
			feed.Close()
		}
	}
}

// List implements event.Listable.
func (c *Conn) List() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if !yield("input", c.Filename()) {
			return
		}
		if !yield("line", strconv.FormatInt(c.line.Load(), 10)) {
			return
		}
		yield("state", strconv.FormatInt(c.state.Load(), 10))
	}
}

// Parse runs src to completion against top.
func Parse(ctx context.Context, top interp.Interpreter, src lexer.LineSource, filename string, opts ...Option) error {
	return NewConn(New(top, opts...), src, filename).Run(ctx)
}

// Parsers tracks running connections. It implements engine.Collection.
type Parsers struct {
	mu    sync.Mutex
	next  int
	conns map[string]*Conn
}

// NewParsers creates an empty collection.
func NewParsers() *Parsers {
	return &Parsers{conns: make(map[string]*Conn)}
}

// Track adds c and returns the function that removes it again.
func (ps *Parsers) Track(c *Conn) func() {
	ps.mu.Lock()
	ps.next++
	key := fmt.Sprintf("%s#%d", c.Filename(), ps.next)
	ps.conns[key] = c
	ps.mu.Unlock()
	return func() {
		ps.mu.Lock()
		delete(ps.conns, key)
		ps.mu.Unlock()
	}
}

// Len returns the number of tracked connections.
func (ps *Parsers) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.conns)
}

// CollectionName implements engine.Collection.
func (ps *Parsers) CollectionName() string { return "parser" }

// Items implements engine.Collection.
func (ps *Parsers) Items() iter.Seq2[string, any] {
	ps.mu.Lock()
	keys := make([]string, 0, len(ps.conns))
	snapshot := make(map[string]*Conn, len(ps.conns))
	for k, c := range ps.conns {
		keys = append(keys, k)
		snapshot[k] = c
	}
	ps.mu.Unlock()
	sort.Strings(keys)

	return func(yield func(string, any) bool) {
		for _, k := range keys {
			if !yield(k, snapshot[k]) {
				return
			}
		}
	}
}

// Package event defines the immutable Event and the Context it carries.
package event

import (
	"fmt"
	"iter"
	"time"

	"github.com/roach88/homevent/internal/ir"
)

// Event is a named unit of work. It is immutable after construction and
// shared read-only by every worker that processes it.
type Event struct {
	ctx   *Context
	name  ir.Name
	id    int64
	level ir.Level
	at    time.Time
}

// New creates an Event at LevelDebug. The id comes from the engine clock.
func New(ctx *Context, id int64, name ir.Name) *Event {
	if ctx == nil {
		ctx = NewContext(nil)
	}
	return &Event{
		ctx:   ctx,
		name:  name,
		id:    id,
		level: ir.LevelDebug,
		at:    time.Now(),
	}
}

// WithLevel returns a copy of e with a different log level.
func (e *Event) WithLevel(l ir.Level) *Event {
	cp := *e
	cp.level = l
	return &cp
}

// Context returns the causal context the event was raised in.
func (e *Event) Context() *Context { return e.ctx }

// Name returns the event name.
func (e *Event) Name() ir.Name { return e.name }

// ID returns the logical clock value stamped at creation.
func (e *Event) ID() int64 { return e.id }

// Level returns the level loggers see the event at.
func (e *Event) Level() ir.Level { return e.level }

// Time returns the wall-clock creation time. Ordering uses ID, never Time.
func (e *Event) Time() time.Time { return e.at }

// String renders the event for log messages.
func (e *Event) String() string {
	return fmt.Sprintf("<Event:%s #%d>", e.name, e.id)
}

// Report yields the description lines of e. The sequence is finite and can
// be ranged over any number of times.
func (e *Event) Report(verbose bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		if !yield("EVENT: " + e.name.Words()) {
			return
		}
		if !verbose {
			return
		}
		if !yield(fmt.Sprintf("  id: %d", e.id)) {
			return
		}
		if !yield("  level: " + e.level.String()) {
			return
		}
		if s := e.ctx.Session(); s != "" {
			if !yield("  session: " + s) {
				return
			}
		}
		if v, ok := e.ctx.Lookup(AttrChain); ok {
			yield(fmt.Sprintf("  chain: %v", v))
		}
	}
}

package engine

import "sync/atomic"

// Clock hands out event ids. Ids only ever grow, so they order events
// without consulting wall time. Any goroutine may call Next: every input
// stream raises its own events.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first id is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock whose first id is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.last.Store(start)
	return c
}

// Next issues a fresh id.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current is the last id issued, or the start value if none was.
func (c *Clock) Current() int64 {
	return c.last.Load()
}

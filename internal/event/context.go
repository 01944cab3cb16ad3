package event

import (
	"context"
	"io"
	"maps"
	"slices"
	"sync"
)

// Well-known context attributes.
const (
	AttrOut      = "out"
	AttrFilename = "filename"
	AttrLogger   = "logger"
	AttrWords    = "words"
	AttrSession  = "session"
	AttrChain    = "chain"
	AttrEvent    = "event"
	AttrTask     = "task"
)

// Context is a chain of attribute maps. A child sees every attribute of its
// parents unless it sets its own value for the same key.
//
// Contexts are created per input stream and per event chain and are dropped
// when that stream or chain ends; nothing keeps a global list of them.
//
// Thread-safety: all methods are safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	parent *Context
	attrs  map[string]any
}

// NewContext creates a root context holding a copy of attrs.
func NewContext(attrs map[string]any) *Context {
	c := &Context{attrs: make(map[string]any, len(attrs))}
	maps.Copy(c.attrs, attrs)
	return c
}

// Child derives an empty child context.
func (c *Context) Child() *Context {
	return &Context{parent: c, attrs: make(map[string]any)}
}

// With derives a child context with key set to val.
func (c *Context) With(key string, val any) *Context {
	child := c.Child()
	child.attrs[key] = val
	return child
}

// Parent returns the context c was derived from, or nil for a root.
func (c *Context) Parent() *Context {
	if c == nil {
		return nil
	}
	return c.parent
}

// Lookup returns the innermost value for key. A nil Context has no
// attributes.
func (c *Context) Lookup(key string) (any, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.attrs[key]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key is set anywhere in the chain.
func (c *Context) Has(key string) bool {
	_, ok := c.Lookup(key)
	return ok
}

// Set stores val on c itself; parents are never modified.
func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = val
}

// Keys returns every visible attribute name, sorted.
func (c *Context) Keys() []string {
	seen := make(map[string]struct{})
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for k := range cur.attrs {
			seen[k] = struct{}{}
		}
		cur.mu.RUnlock()
	}
	return slices.Sorted(maps.Keys(seen))
}

// Out returns the output sink, or io.Discard when none is set.
func (c *Context) Out() io.Writer {
	if v, ok := c.Lookup(AttrOut); ok {
		if w, ok := v.(io.Writer); ok && w != nil {
			return w
		}
	}
	return io.Discard
}

// Filename returns the input's file name, or "<stdin>".
func (c *Context) Filename() string {
	return c.stringAttr(AttrFilename, "<stdin>")
}

// Session returns the session id assigned to the input stream.
func (c *Context) Session() string {
	return c.stringAttr(AttrSession, "")
}

// Task returns the context.Context that engine calls made on behalf of this
// context run under. It carries the current chain, so events triggered
// from an event handler are attributed to it.
func (c *Context) Task() context.Context {
	if v, ok := c.Lookup(AttrTask); ok {
		if ctx, ok := v.(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

func (c *Context) stringAttr(key, def string) string {
	if v, ok := c.Lookup(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

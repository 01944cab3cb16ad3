package event

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homevent/internal/ir"
)

func TestContext_ChildInheritsAndShadows(t *testing.T) {
	root := NewContext(map[string]any{"a": 1, "b": 2})
	child := root.With("b", 3)

	v, ok := child.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, _ = child.Lookup("b")
	assert.Equal(t, 3, v)

	v, _ = root.Lookup("b")
	assert.Equal(t, 2, v, "parent must not see the child's value")

	child.Set("c", 4)
	assert.False(t, root.Has("c"))
	assert.Equal(t, []string{"a", "b", "c"}, child.Keys())
}

func TestContext_NilIsEmpty(t *testing.T) {
	var c *Context
	_, ok := c.Lookup("x")
	assert.False(t, ok)
	assert.Nil(t, c.Parent())
}

func TestContext_Accessors(t *testing.T) {
	var buf bytes.Buffer
	c := NewContext(map[string]any{AttrOut: &buf, AttrFilename: "init.hev", AttrSession: "s1"})

	assert.Same(t, &buf, c.Out())
	assert.Equal(t, "init.hev", c.Filename())
	assert.Equal(t, "s1", c.Session())

	empty := NewContext(nil)
	assert.Equal(t, io.Discard, empty.Out())
	assert.Equal(t, "<stdin>", empty.Filename())
}

func TestContext_ConcurrentSet(t *testing.T) {
	c := NewContext(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("k", i)
			c.Lookup("k")
		}(i)
	}
	wg.Wait()
	assert.True(t, c.Has("k"))
}

func TestContext_SatisfiesNameAttrs(t *testing.T) {
	c := NewContext(map[string]any{"room": "hall"})
	n, err := ir.NewName("light", "$room").Apply(c, 0)
	require.NoError(t, err)
	assert.True(t, n.EqualString("light¦hall"))
}

func TestEvent_Report(t *testing.T) {
	ctx := NewContext(map[string]any{AttrSession: "s-1"})
	ev := New(ctx, 7, ir.NewName("say", "hello"))

	assert.Equal(t, []string{"EVENT: say hello"}, ReportLines(ev, false))

	verbose := ReportLines(ev, true)
	assert.Equal(t, []string{
		"EVENT: say hello",
		"  id: 7",
		"  level: DEBUG",
		"  session: s-1",
	}, verbose)

	// restartable
	assert.Equal(t, verbose, ReportLines(ev, true))
}

func TestEvent_ReportStopsEarly(t *testing.T) {
	ev := New(nil, 1, ir.NewName("x"))
	count := 0
	for range ev.Report(true) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestEvent_WithLevelCopies(t *testing.T) {
	ev := New(nil, 1, ir.NewName("x"))
	loud := ev.WithLevel(ir.LevelInfo)

	assert.Equal(t, ir.LevelDebug, ev.Level())
	assert.Equal(t, ir.LevelInfo, loud.Level())
	assert.Equal(t, ev.ID(), loud.ID())
	assert.Equal(t, "<Event:x #1>", ev.String())
}

func TestContext_Task(t *testing.T) {
	assert.Equal(t, context.Background(), NewContext(nil).Task())

	type key struct{}
	task := context.WithValue(context.Background(), key{}, "x")
	c := NewContext(nil).With(AttrTask, task).Child()
	assert.Equal(t, "x", c.Task().Value(key{}))
}

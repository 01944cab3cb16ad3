package engine

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homevent/internal/ir"
)

func TestClock_StartValues(t *testing.T) {
	assert.Equal(t, int64(0), NewClock().Current())
	assert.Equal(t, int64(1), NewClock().Next())

	c := NewClockAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next())
	assert.Equal(t, int64(42), c.Current(), "Current must not advance the clock")
}

func TestClock_ConcurrentIdsAreDistinct(t *testing.T) {
	c := NewClock()
	const streams, perStream = 50, 200

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []int64
	)
	for range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perStream)
			prev := int64(0)
			for range perStream {
				id := c.Next()
				assert.Greater(t, id, prev, "ids seen by one goroutine must grow")
				prev = id
				local = append(local, id)
			}
			mu.Lock()
			ids = append(ids, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.Sort(ids)
	require.Len(t, ids, streams*perStream)
	assert.Len(t, slices.Compact(ids), streams*perStream, "no id may be issued twice")
	assert.Equal(t, int64(streams*perStream), c.Current())
}

func TestClock_StampsEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.NewEvent(nil, "a")
	require.NoError(t, err)
	b, err := e.NewEvent(nil, ir.NewName("b"))
	require.NoError(t, err)

	assert.Less(t, a.ID(), b.ID())
	assert.Equal(t, b.ID(), e.Clock().Current())
}

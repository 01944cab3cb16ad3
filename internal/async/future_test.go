package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_FirstSettleWins(t *testing.T) {
	f := New()
	assert.False(t, f.Ready())

	assert.True(t, f.Resolve(1))
	assert.False(t, f.Resolve(2))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, f.Ready())
}

func TestFuture_RejectNilBecomesAbandoned(t *testing.T) {
	f := New()
	f.Reject(nil)
	_, err := f.Result()
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_WaitReturnsResult(t *testing.T) {
	f := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Resolve("ok")
	}()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestFuture_Go(t *testing.T) {
	v, err := Go(func() (any, error) { return 42, nil }).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Go(func() (any, error) { return nil, boom }).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFuture_GoRecoversPanic(t *testing.T) {
	_, err := Go(func() (any, error) { panic("bad") }).Wait(context.Background())

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad", pe.Value)
}

func TestFuture_ThenChains(t *testing.T) {
	f := New()
	g := f.Then(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return v.(int) * 2, nil
	})
	assert.False(t, g.Ready())

	f.Resolve(21)
	v, err := g.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFuture_OnSettleAfterSettleRunsImmediately(t *testing.T) {
	f := Resolved("x")
	var got any
	f.OnSettle(func(v any, _ error) { got = v })
	assert.Equal(t, "x", got)
}

func TestFuture_ConcurrentSettle(t *testing.T) {
	f := New()
	var wg sync.WaitGroup
	wins := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if f.Resolve(i) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestFuture_Forward(t *testing.T) {
	src := New()
	dst := New()
	src.Forward(dst)
	src.Reject(errors.New("x"))

	_, err := dst.Wait(context.Background())
	assert.EqualError(t, err, "x")
}

func TestSettled(t *testing.T) {
	v, err := Settled(1, nil).Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	boom := errors.New("boom")
	_, err = Settled(nil, boom).Result()
	assert.ErrorIs(t, err, boom)
}

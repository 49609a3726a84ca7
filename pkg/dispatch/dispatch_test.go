package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediate_RunsSynchronously(t *testing.T) {
	exec := NewImmediate()
	ran := false

	require.NoError(t, exec.Post(func() { ran = true }))
	assert.True(t, ran)
}

func TestImmediate_ReentrantPostsRunAfterCurrent(t *testing.T) {
	exec := NewImmediate()
	var order []string

	_ = exec.Post(func() {
		order = append(order, "outer-start")
		_ = exec.Post(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestLoop_PreservesOrder(t *testing.T) {
	loop := NewLoop(WithMailboxSize(8))
	loop.Start()
	defer loop.Stop()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	wg.Add(20)
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestLoop_PostAfterStop(t *testing.T) {
	loop := NewLoop()
	loop.Start()
	loop.Stop()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	assert.ErrorIs(t, loop.Post(func() {}), ErrStopped)
}

func TestLoop_PanicHandler(t *testing.T) {
	recovered := make(chan any, 1)
	loop := NewLoop(WithPanicHandler(func(r any) { recovered <- r }))
	loop.Start()
	defer loop.Stop()

	require.NoError(t, loop.Post(func() { panic("boom") }))

	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}

	done := make(chan struct{})
	require.NoError(t, loop.Post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	var fired []string

	clock.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "late") })
	clock.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early") })
	stopped := clock.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "stopped") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"early"}, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, time.Unix(0, 0).Add(1150*time.Millisecond), clock.Now())
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PostRunsOnDrainGoroutine(t *testing.T) {
	q := New(4)
	q.Start(context.Background())
	defer q.Stop()

	done := make(chan struct{})
	q.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted task did not run")
	}
}

func TestQueue_PostNowRunsInline(t *testing.T) {
	q := New(4)
	ran := false
	q.PostNow(func() { ran = true })
	assert.True(t, ran)
}

func TestQueue_TickCoalescesToLatest(t *testing.T) {
	q := New(4)

	calls := 0
	q.Tick(func() { calls++ })
	q.Tick(func() { calls += 10 })

	q.DrainTick()
	assert.Equal(t, 10, calls)

	q.DrainTick()
	assert.Equal(t, 10, calls, "second drain with no new tick must be a no-op")
}

func TestQueue_StopWaitsForDrainGoroutine(t *testing.T) {
	q := New(4)
	q.Start(context.Background())

	order := make(chan int, 2)
	q.Post(func() {
		time.Sleep(10 * time.Millisecond)
		order <- 1
	})

	q.Stop()
	require.Len(t, order, 1)
}

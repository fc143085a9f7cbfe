package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_ReentrantEnqueueNeverBlocks(t *testing.T) {
	r := newRunner("test", zerolog.Nop())
	go r.Run()
	defer r.Stop()

	// A fill chain can enqueue follow-up work from inside a running
	// task; even a long chain must not stall the runner on itself.
	const depth = 10000
	var ran atomic.Int64
	done := make(chan struct{})

	var chain func()
	chain = func() {
		if ran.Add(1) == depth {
			close(done)
			return
		}
		require.True(t, r.Enqueue(chain))
	}
	require.True(t, r.Enqueue(chain))

	select {
	case <-done:
	case <-time.After(eventually):
		t.Fatalf("chain stalled after %d tasks", ran.Load())
	}
	assert.Equal(t, int64(depth), ran.Load())
}

func TestRunner_StopDrainsPendingTasks(t *testing.T) {
	r := newRunner("test", zerolog.Nop())
	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		require.True(t, r.Enqueue(func() { ran.Add(1) }))
	}

	go r.Run()
	r.Stop()

	assert.Equal(t, int64(100), ran.Load())
	assert.False(t, r.Enqueue(func() {}))
}

func TestRunner_TasksRunInOrder(t *testing.T) {
	r := newRunner("test", zerolog.Nop())
	var got []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		i := i
		r.Enqueue(func() { got = append(got, i) })
	}
	r.Enqueue(func() { close(done) })

	go r.Run()
	defer r.Stop()

	select {
	case <-done:
	case <-time.After(eventually):
		t.Fatal("tasks did not finish")
	}
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

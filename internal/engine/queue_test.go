package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subdispatch/internal/ir"
)

func TestTriggerQueue_FIFO(t *testing.T) {
	q := newTriggerQueue()

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(ir.Trigger{ID: id}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTriggerQueue_SignalsAvailability(t *testing.T) {
	q := newTriggerQueue()
	q.Enqueue(ir.Trigger{ID: "A"})

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("enqueue did not signal")
	}
}

func TestTriggerQueue_Close(t *testing.T) {
	q := newTriggerQueue()
	q.Enqueue(ir.Trigger{ID: "A"})
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(ir.Trigger{ID: "B"}), "closed queue rejects enqueue")

	got, ok := q.TryDequeue()
	require.True(t, ok, "queued triggers survive Close")
	assert.Equal(t, "A", got.ID)

	// Drain the pending signal, then the closed channel must read as closed.
	for {
		if _, open := <-q.Wait(); !open {
			break
		}
	}
}

package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockscan/internal/capture"
)

func detection(payload string) event {
	return event{typ: eventDetection, detection: capture.Detection{Payload: payload, SymbologyTag: "code128"}}
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, p := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(detection(p)))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.detection.Payload)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignals(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(detection("late"))
	}()

	select {
	case <-q.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("no signal after enqueue")
	}
	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", got.detection.Payload)
}

func TestEventQueue_CloseWakesWaiters(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait not released by Close")
	}
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(detection("x")), "enqueue after close should fail")
}

func TestEventQueue_Drain(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(detection("a"))
	q.Enqueue(detection("b"))

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := newEventQueue()
	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(detection(fmt.Sprintf("%d-%d", p, j)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())

	// Per-producer order is preserved.
	last := make(map[string]int)
	for {
		ev, ok := q.TryDequeue()
		if !ok {
			break
		}
		var p, j int
		_, err := fmt.Sscanf(ev.detection.Payload, "%d-%d", &p, &j)
		require.NoError(t, err)
		key := fmt.Sprint(p)
		if prev, seen := last[key]; seen {
			assert.Greater(t, j, prev)
		}
		last[key] = j
	}
}

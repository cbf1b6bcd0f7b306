package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtran241/edge-computing-models/internal/model"
)

func payload(i int) model.Envelope {
	return model.NewPayloadEnvelope(model.Payload{
		Architecture: model.ArchEdge,
		Algorithm:    "SW",
		Data:         json.RawMessage(fmt.Sprintf("%d", i)),
	})
}

func startWorker(t *testing.T, q *Queue, fn ProcessFunc) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background(), fn) }()
	t.Cleanup(func() { q.Stop() })
	return done
}

func TestQueueProcessesInFIFOOrder(t *testing.T) {
	q := New(Options{PollTimeout: 10 * time.Millisecond})

	var mu sync.Mutex
	var got []string
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Enqueue("peer", payload(i)))
	}
	startWorker(t, q, func(_ context.Context, it Item) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(it.Envelope.Payload.Data))
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, fmt.Sprintf("%d", i), v)
	}
	assert.Equal(t, uint64(50), q.Counters().Processed)
}

func TestQueueContinuesAfterFailures(t *testing.T) {
	q := New(Options{PollTimeout: 10 * time.Millisecond})
	startWorker(t, q, func(_ context.Context, it Item) error {
		switch string(it.Envelope.Payload.Data) {
		case "0":
			return errors.New("boom")
		case "1":
			panic("worse")
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue("peer", payload(i)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	c := q.Counters()
	assert.Equal(t, uint64(2), c.Failed)
	assert.Equal(t, uint64(1), c.Processed)
}

func TestQueueStopRejectsAndDrops(t *testing.T) {
	q := New(Options{PollTimeout: 10 * time.Millisecond})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var processed []string
	var mu sync.Mutex
	done := startWorker(t, q, func(_ context.Context, it Item) error {
		started <- struct{}{}
		<-release
		mu.Lock()
		processed = append(processed, string(it.Envelope.Payload.Data))
		mu.Unlock()
		return nil
	})

	require.NoError(t, q.Enqueue("peer", payload(0)))
	<-started
	require.NoError(t, q.Enqueue("peer", payload(1)))
	require.NoError(t, q.Enqueue("peer", payload(2)))

	stopped := make(chan int, 1)
	go func() { stopped <- q.Stop() }()

	require.Eventually(t, q.isStopped, time.Second, time.Millisecond)
	assert.ErrorIs(t, q.Enqueue("peer", payload(3)), ErrStopped)

	close(release)
	assert.Equal(t, 2, <-stopped)
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, []string{"0"}, processed)
	mu.Unlock()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, uint64(2), q.Counters().Dropped)
	assert.False(t, q.Running())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, q.Drain(ctx))
	assert.ErrorIs(t, q.Run(context.Background(), nil), ErrStopped)
}

func TestQueueRunTwice(t *testing.T) {
	q := New(Options{PollTimeout: 10 * time.Millisecond})
	startWorker(t, q, func(context.Context, Item) error { return nil })

	require.Eventually(t, q.Running, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, q.Run(context.Background(), nil), ErrAlreadyRunning)
}

func TestQueueDrainHonoursContext(t *testing.T) {
	q := New(Options{})
	require.NoError(t, q.Enqueue("peer", payload(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}

func TestQueueMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := New(Options{Name: "edge", Registerer: reg})
	require.NoError(t, q.Enqueue("peer", payload(0)))
	require.NoError(t, q.Enqueue("peer", payload(1)))

	assert.Equal(t, float64(2), testutil.ToFloat64(q.metrics.enqueued))
	assert.Equal(t, float64(2), testutil.ToFloat64(q.metrics.depth))

	q.Stop()
	assert.Equal(t, float64(2), testutil.ToFloat64(q.metrics.dropped))
	assert.Equal(t, float64(0), testutil.ToFloat64(q.metrics.depth))
}

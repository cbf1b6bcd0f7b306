// Package queue decouples network reads from compute: callbacks enqueue,
// a single worker goroutine dequeues and processes in FIFO order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ef-ds/deque"

	"github.com/minhtran241/edge-computing-models/internal/model"
)

var (
	// ErrStopped is returned by Enqueue and Run once Stop has begun.
	ErrStopped        = errors.New("queue stopped")
	ErrAlreadyRunning = errors.New("queue worker already running")
	ErrItemPanicked   = errors.New("queue item panicked")
)

const DefaultPollTimeout = time.Second

// Item is one unit of work. Each item is handed to the worker exactly once.
type Item struct {
	PeerID     string
	Envelope   model.Envelope
	EnqueuedAt time.Time
}

type ProcessFunc func(ctx context.Context, it Item) error

// Counters are cumulative since construction.
type Counters struct {
	Enqueued  uint64
	Processed uint64
	Failed    uint64
	Dropped   uint64
}

type Queue struct {
	logger      *slog.Logger
	pollTimeout time.Duration
	metrics     *metrics

	mu          sync.Mutex
	items       deque.Deque
	outstanding int
	idle        chan struct{}
	started     bool
	stopped     bool

	notify   chan struct{}
	stopCh   chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	dropped  int
	running  atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	droppedN  atomic.Uint64
}

func New(opts Options) *Queue {
	opts = opts.withDefaults()
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		logger:      opts.Logger.With("component", "queue", "queue", opts.Name),
		pollTimeout: opts.PollTimeout,
		metrics:     newMetrics(opts.Registerer, opts.Name),
		idle:        idle,
		notify:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

// Enqueue never blocks.
func (q *Queue) Enqueue(peerID string, env model.Envelope) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.items.PushBack(Item{PeerID: peerID, Envelope: env, EnqueuedAt: time.Now()})
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	depth := q.items.Len()
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.metrics.enqueued.Inc()
	q.metrics.depth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) Running() bool {
	return q.running.Load()
}

// isStopped reports whether Stop has begun; Enqueue fails from then on.
func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

func (q *Queue) Counters() Counters {
	return Counters{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.droppedN.Load(),
	}
}

// Run is the worker loop. It returns when Stop is called or ctx ends; an
// in-flight item is never interrupted by either.
func (q *Queue) Run(ctx context.Context, fn ProcessFunc) error {
	q.mu.Lock()
	switch {
	case q.stopped:
		q.mu.Unlock()
		return ErrStopped
	case q.started:
		q.mu.Unlock()
		return ErrAlreadyRunning
	}
	q.started = true
	q.running.Store(true)
	q.mu.Unlock()

	defer close(q.exited)
	defer q.running.Store(false)

	for q.running.Load() {
		it, ok := q.dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		q.process(ctx, fn, it)
	}
	return nil
}

// Drain waits until every enqueued item has been processed or dropped.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue: %w", ctx.Err())
	}
}

// Stop clears the running flag, waits for the worker to finish its current
// item, and discards anything not yet dequeued. It returns how many items
// were dropped. Repeated calls return the same count.
func (q *Queue) Stop() int {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		started := q.started
		q.mu.Unlock()

		q.running.Store(false)
		close(q.stopCh)
		if started {
			<-q.exited
		}

		q.mu.Lock()
		n := q.items.Len()
		q.items = deque.Deque{}
		q.settleLocked(n)
		q.mu.Unlock()

		q.dropped = n
		q.droppedN.Add(uint64(n))
		q.metrics.dropped.Add(float64(n))
		q.metrics.depth.Set(0)
		if n > 0 {
			q.logger.Warn("queue stopped with pending items", "dropped", n)
		}
	})
	return q.dropped
}

// dequeue waits at most one poll interval for an item.
func (q *Queue) dequeue(ctx context.Context) (Item, bool) {
	if it, ok := q.pop(); ok {
		return it, true
	}
	t := time.NewTimer(q.pollTimeout)
	defer t.Stop()
	select {
	case <-q.notify:
	case <-t.C:
	case <-ctx.Done():
		return Item{}, false
	case <-q.stopCh:
		return Item{}, false
	}
	return q.pop()
}

func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return Item{}, false
	}
	v, ok := q.items.PopFront()
	if !ok {
		return Item{}, false
	}
	q.metrics.depth.Set(float64(q.items.Len()))
	return v.(Item), true
}

func (q *Queue) process(ctx context.Context, fn ProcessFunc, it Item) {
	start := time.Now()
	err := invoke(ctx, fn, it)
	q.metrics.duration.Observe(time.Since(start).Seconds())

	if err != nil {
		q.failed.Add(1)
		q.metrics.failed.Inc()
		q.logger.Error("queue item failed", "peer_id", it.PeerID, "kind", it.Envelope.Kind().String(), "error", err)
	} else {
		q.processed.Add(1)
		q.metrics.processed.Inc()
	}

	q.mu.Lock()
	q.settleLocked(1)
	q.mu.Unlock()
}

func (q *Queue) settleLocked(n int) {
	if n == 0 || q.outstanding == 0 {
		return
	}
	q.outstanding -= n
	if q.outstanding <= 0 {
		q.outstanding = 0
		close(q.idle)
	}
}

func invoke(ctx context.Context, fn ProcessFunc, it Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrItemPanicked, r)
		}
	}()
	return fn(ctx, it)
}

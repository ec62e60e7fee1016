package dispatch

import (
	"context"
	"sync"
	"time"
)

// Queue hands work from network goroutines to the one goroutine that owns the consumer
// state. Producers call Enqueue from anywhere; only the consumer calls DrainAndRunAll.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	spare   []func() // reused backing array for the next batch
}

func NewQueue() *Queue {
	return &Queue{
		pending: make([]func(), 0, 64),
	}
}

// Enqueue appends an action. Nil actions are ignored.
func (q *Queue) Enqueue(action func()) {
	if action == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, action)
	q.mu.Unlock()
}

// DrainAndRunAll runs, in FIFO order, every action that was queued when it was called and
// returns how many ran. Actions enqueued while the batch runs wait for the next drain.
func (q *Queue) DrainAndRunAll() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.spare = nil
	q.mu.Unlock()

	for i, action := range batch {
		batch[i] = nil // drop the reference so the closure can be collected
		action()
	}

	q.mu.Lock()
	if q.spare == nil {
		q.spare = batch[:0]
	}
	q.mu.Unlock()

	return len(batch)
}

// Len reports how many actions are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run is the consumer tick: it drains q every interval until ctx is done, then drains once
// more so nothing queued before cancellation is lost.
func Run(ctx context.Context, q *Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.DrainAndRunAll()
			return
		case <-ticker.C:
			q.DrainAndRunAll()
		}
	}
}

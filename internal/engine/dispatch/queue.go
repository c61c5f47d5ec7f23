// Package dispatch runs download jobs through bounded priority lanes.
package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/anatolykoptev/go_music/internal/engine"
)

type item[T any] struct {
	tier  int
	at    time.Time
	seq   uint64
	value T
}

// itemHeap orders by tier, then enqueue time, then submission sequence.
type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

func (h itemHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap[T]) Push(x any) { *h = append(*h, x.(*item[T])) }

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a capacity-bounded priority queue. Push never blocks; Pop
// blocks until an item or cancellation.
type Queue[T any] struct {
	mu       sync.Mutex
	items    itemHeap[T]
	capacity int
	seq      uint64
	pending  int // pushed and not yet Done

	signal chan struct{}
}

// NewQueue creates a queue holding at most capacity waiting items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{capacity: capacity, signal: make(chan struct{}, 1)}
}

// TryPush enqueues v or returns engine.ErrQueueFull immediately.
func (q *Queue[T]) TryPush(tier int, at time.Time, v T) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return engine.ErrQueueFull
	}
	heap.Push(&q.items, &item[T]{tier: tier, at: at, seq: q.seq, value: v})
	q.seq++
	q.pending++
	q.mu.Unlock()

	q.wake()
	return nil
}

// Pop removes the highest-priority item, waiting while the queue is empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(*item[T])
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return it.value, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Done marks one popped item as fully processed.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	if q.pending > 0 {
		q.pending--
	}
	q.mu.Unlock()
}

// Len is the number of waiting items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap is the maximum number of waiting items.
func (q *Queue[T]) Cap() int { return q.capacity }

// Full reports whether TryPush would be rejected right now.
func (q *Queue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.capacity
}

// Pending counts items pushed and not yet marked Done, running ones included.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

package queue

import (
	"context"
	"time"
)

// Result carries the outcome of a queued operation back to its caller.
// Exactly one Result is delivered per accepted item, after which the
// channel is closed.
type Result[T any] struct {
	Value T
	Err   error
}

// item is a unit of queued work. An item lives in exactly one place at a
// time: the waiting heap, or an in-flight goroutine.
type item[T any] struct {
	op         func(context.Context) (T, error)
	priority   Priority
	maxRetries int
	retryCount int

	// enqueuedAt orders the heap and is the earliest dispatch time;
	// retries restamp it into the future.
	enqueuedAt time.Time

	// acceptedAt is fixed at admission and drives the staleness sweep.
	acceptedAt time.Time

	// index is the heap slot, maintained by itemHeap; -1 when not waiting.
	index int

	result chan Result[T]
}

// deliver resolves the caller exactly once. The result channel is
// buffered, so delivery never blocks on an absent reader.
func (it *item[T]) deliver(value T, err error) {
	it.result <- Result[T]{Value: value, Err: err}
	close(it.result)
}

// retryItem is the state transition applied to a failed item with retry
// budget remaining: one more retry consumed, priority demoted one step,
// dispatch deferred by retryCount times the base delay. It returns a new
// record; the original is not mutated.
func retryItem[T any](it *item[T], now time.Time, baseDelay time.Duration) *item[T] {
	next := *it
	next.retryCount = it.retryCount + 1
	next.priority = it.priority.demote()
	next.enqueuedAt = now.Add(time.Duration(next.retryCount) * baseDelay)
	next.index = -1
	return &next
}

// itemHeap orders waiting items by (priority desc, enqueuedAt asc) so the
// head is always the next item to dispatch.
type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	it := x.(*item[T])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

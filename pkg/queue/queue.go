// Package queue provides a bounded priority queue for outbound requests.
//
// Waiting items are kept in a heap ordered by (priority, enqueue time) and
// dispatched through a semaphore that caps the number of operations in
// flight. Failed operations with retry budget remaining are demoted one
// priority step and re-enqueued with a growing delay; items that wait too
// long are shed by a background staleness sweep. The hard size cap
// provides backpressure: a slow dependency surfaces as immediate
// queue-full errors rather than unbounded memory growth.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// Queue dispatches prioritized operations with bounded concurrency.
type Queue[T any] struct {
	cfg Config

	mu      sync.Mutex
	waiting itemHeap[T]
	closed  bool

	sem      *semaphore.Weighted
	inFlight int64

	// wake nudges the dispatcher after a push; buffered so notify never blocks
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	dispatchDone chan struct{}
	sweepDone    chan struct{}

	// now is replaceable for deterministic tests
	now func() time.Time

	stats   *Statistics
	metrics *queueMetrics
	logger  Logger
	onFull  func()
}

// New creates a queue and starts its dispatch loop and staleness sweep.
func New[T any](cfg Config, opts ...Option[T]) (*Queue[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := applyOptions(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		cfg:          cfg,
		waiting:      make(itemHeap[T], 0, cfg.MaxQueueSize),
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
		sweepDone:    make(chan struct{}),
		now:          time.Now,
		stats:        NewStatistics(),
		logger:       options.logger,
		onFull:       options.onFull,
	}

	if options.metricsReg != nil {
		metrics, err := newQueueMetrics(options.metricsReg, options.metricsPrefix)
		if err != nil {
			cancel()
			return nil, errors.Wrap(err, "queue", "New", "register metrics")
		}
		q.metrics = metrics
	}

	go q.dispatch()
	go q.sweep()

	return q, nil
}

// Enqueue admits an operation at the given priority with the given retry
// budget (negative uses the configured default). It returns a channel that
// receives exactly one Result and is then closed. When the waiting queue
// is at capacity the operation is rejected immediately, the queue is
// unmodified, and the queue-full callback (if any) fires.
func (q *Queue[T]) Enqueue(op func(context.Context) (T, error), priority Priority, maxRetries int) (<-chan Result[T], error) {
	if op == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nil operation", errors.ErrInvalidConfig),
			"queue", "Enqueue", "admit request")
	}
	if maxRetries < 0 {
		maxRetries = q.cfg.MaxRetries
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.WrapCapacity(errors.ErrQueueClosed, "queue", "Enqueue", "admit request")
	}
	if len(q.waiting) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		q.stats.Reject()
		if q.metrics != nil {
			q.metrics.recordReject()
		}
		q.logger.Printf("queue full, shedding %s priority request", priority)
		if q.onFull != nil {
			q.onFull()
		}
		return nil, errors.WrapCapacity(errors.ErrQueueFull, "queue", "Enqueue", "admit request")
	}

	now := q.now()
	it := &item[T]{
		op:         op,
		priority:   priority,
		maxRetries: maxRetries,
		enqueuedAt: now,
		acceptedAt: now,
		result:     make(chan Result[T], 1),
	}
	heap.Push(&q.waiting, it)
	length := len(q.waiting)
	q.mu.Unlock()

	q.stats.ObserveWaiting(length)
	if q.metrics != nil {
		q.metrics.updateWaiting(length)
	}
	q.notify()

	return it.result, nil
}

// WaitingLen returns the current number of waiting items.
func (q *Queue[T]) WaitingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// InFlight returns the current number of operations in flight.
func (q *Queue[T]) InFlight() int64 {
	return atomic.LoadInt64(&q.inFlight)
}

// Stats returns the queue's statistics tracker.
func (q *Queue[T]) Stats() *Statistics {
	return q.stats
}

// Clear rejects all waiting items with the given reason and empties the
// waiting queue. In-flight operations are unaffected.
func (q *Queue[T]) Clear(reason string) {
	q.mu.Lock()
	removed := q.drainLocked()
	q.mu.Unlock()

	err := errors.WrapCancelled(
		fmt.Errorf("queue cleared: %s", reason),
		"queue", "Clear", "reject waiting item")
	var zero T
	for _, it := range removed {
		q.stats.Reject()
		if q.metrics != nil {
			q.metrics.recordReject()
		}
		it.deliver(zero, err)
	}
	if q.metrics != nil {
		q.metrics.updateWaiting(0)
	}
	if len(removed) > 0 {
		q.logger.Printf("cleared %d waiting items: %s", len(removed), reason)
	}
}

// Close stops the dispatch loop and the staleness sweep, rejects all
// waiting items, and cancels in-flight operations. It is idempotent.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	removed := q.drainLocked()
	q.mu.Unlock()

	err := errors.WrapCapacity(errors.ErrQueueClosed, "queue", "Close", "reject waiting item")
	var zero T
	for _, it := range removed {
		q.stats.Reject()
		it.deliver(zero, err)
	}

	q.cancel()

	for _, done := range []chan struct{}{q.dispatchDone, q.sweepDone} {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			return fmt.Errorf("timeout waiting for queue goroutines to finish")
		}
	}
	return nil
}

// drainLocked empties the waiting heap and returns the removed items.
// Must be called with mutex held.
func (q *Queue[T]) drainLocked() []*item[T] {
	removed := make([]*item[T], 0, len(q.waiting))
	for q.waiting.Len() > 0 {
		removed = append(removed, heap.Pop(&q.waiting).(*item[T]))
	}
	return removed
}

func (q *Queue[T]) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch pops ready items in (priority, enqueue time) order and runs
// them, holding a semaphore slot per in-flight operation.
func (q *Queue[T]) dispatch() {
	defer close(q.dispatchDone)

	for {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		it := q.next()
		if it == nil {
			q.sem.Release(1)
			return
		}
		go q.run(it)
	}
}

// next blocks until the head of the waiting heap is eligible to dispatch,
// then pops and returns it. Returns nil on shutdown. A retried item may
// carry a future enqueue time; next sleeps until the head is due, waking
// early if a push changes the head.
func (q *Queue[T]) next() *item[T] {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil
		}
		var delay time.Duration
		if len(q.waiting) > 0 {
			head := q.waiting[0]
			now := q.now()
			if !head.enqueuedAt.After(now) {
				it := heap.Pop(&q.waiting).(*item[T])
				length := len(q.waiting)
				q.mu.Unlock()
				if q.metrics != nil {
					q.metrics.updateWaiting(length)
				}
				return it
			}
			delay = head.enqueuedAt.Sub(now)
		}
		q.mu.Unlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				return nil
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			select {
			case <-q.ctx.Done():
				return nil
			case <-q.wake:
			}
		}
	}
}

// run executes one item and settles or re-enqueues it.
func (q *Queue[T]) run(it *item[T]) {
	defer q.sem.Release(1)

	count := atomic.AddInt64(&q.inFlight, 1)
	if q.metrics != nil {
		q.metrics.updateInFlight(count)
	}
	defer func() {
		count := atomic.AddInt64(&q.inFlight, -1)
		if q.metrics != nil {
			q.metrics.updateInFlight(count)
		}
	}()

	opCtx, cancel := context.WithTimeout(q.ctx, q.cfg.Timeout)
	start := q.now()
	value, err := it.op(opCtx)
	cancel()
	latency := q.now().Sub(start)

	if err == nil {
		q.stats.Success(latency)
		if q.metrics != nil {
			q.metrics.recordSuccess(latency)
		}
		it.deliver(value, nil)
		return
	}

	var zero T

	// Cancelled callers gave up, circuit-open clears on the breaker's own
	// cooldown, and capacity or exhausted failures will not pass on a
	// re-run. Only transient and timeout failures spend the retry budget.
	if !errors.IsRetryable(err) {
		q.stats.Failure(latency)
		if q.metrics != nil {
			q.metrics.recordFailure(latency)
		}
		it.deliver(zero, err)
		return
	}

	if it.retryCount < it.maxRetries {
		q.stats.Retry()
		if q.metrics != nil {
			q.metrics.recordRetry()
		}
		q.logger.Printf("retrying %s priority request (attempt %d of %d): %v",
			it.priority, it.retryCount+1, it.maxRetries, err)
		q.requeue(retryItem(it, q.now(), q.cfg.RetryDelay))
		return
	}

	q.stats.Failure(latency)
	if q.metrics != nil {
		q.metrics.recordFailure(latency)
	}
	if it.maxRetries > 0 {
		err = errors.WrapExhausted(
			fmt.Errorf("%w after %d retries: %w", errors.ErrMaxRetriesExceeded, it.retryCount, err),
			"queue", "run", "retry request")
	}
	it.deliver(zero, err)
}

// requeue pushes a retried item back through the standard insertion path.
// If the queue closed or filled in the meantime the item is rejected.
func (q *Queue[T]) requeue(it *item[T]) {
	var zero T

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.deliver(zero, errors.WrapCapacity(errors.ErrQueueClosed, "queue", "requeue", "re-admit request"))
		return
	}
	if len(q.waiting) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		q.stats.Reject()
		if q.metrics != nil {
			q.metrics.recordReject()
		}
		it.deliver(zero, errors.WrapCapacity(errors.ErrQueueFull, "queue", "requeue", "re-admit request"))
		return
	}
	heap.Push(&q.waiting, it)
	length := len(q.waiting)
	q.mu.Unlock()

	q.stats.ObserveWaiting(length)
	if q.metrics != nil {
		q.metrics.updateWaiting(length)
	}
	q.notify()
}

// sweep periodically rejects waiting items that have exceeded StaleAfter.
func (q *Queue[T]) sweep() {
	defer close(q.sweepDone)

	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.sweepStale()
		}
	}
}

func (q *Queue[T]) sweepStale() {
	now := q.now()

	q.mu.Lock()
	var removed []*item[T]
	for i := 0; i < q.waiting.Len(); {
		if now.Sub(q.waiting[i].acceptedAt) > q.cfg.StaleAfter {
			removed = append(removed, heap.Remove(&q.waiting, i).(*item[T]))
			continue
		}
		i++
	}
	length := len(q.waiting)
	q.mu.Unlock()

	if len(removed) == 0 {
		return
	}

	err := errors.WrapTimeout(errors.ErrRequestStale, "queue", "sweep", "expire waiting item")
	var zero T
	for _, it := range removed {
		q.stats.Stale()
		if q.metrics != nil {
			q.metrics.recordStale()
		}
		it.deliver(zero, err)
	}
	if q.metrics != nil {
		q.metrics.updateWaiting(length)
	}
	q.logger.Printf("staleness sweep rejected %d waiting items", len(removed))
}

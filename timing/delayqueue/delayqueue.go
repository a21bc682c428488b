// Package delayqueue provides the timed FIFO every pipeline stage is built
// from.
//
// An item pushed with latency L at cycle t becomes visible at cycle
// max(t+L, readyCycle(tail)); items never overtake each other. A queue can
// also model a throughput-limited functional unit: PushThrottled makes the
// queue report Full until the reissue interval has drained.
package delayqueue

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"
)

type entry[T any] struct {
	item  T
	ready uint64
}

// DelayQueue is a FIFO whose items become visible only after their latency.
type DelayQueue[T any] struct {
	name     string
	capacity int

	now       uint64
	busyUntil uint64
	items     []entry[T]
}

// New creates a queue. Capacity 0 means unbounded.
func New[T any](name string, capacity int) *DelayQueue[T] {
	sim.NameMustBeValid(name)

	return &DelayQueue[T]{
		name:     name,
		capacity: capacity,
	}
}

// Name returns the name of the queue.
func (q *DelayQueue[T]) Name() string {
	return q.name
}

// Now returns the internal cycle count.
func (q *DelayQueue[T]) Now() uint64 {
	return q.now
}

// Capacity returns the maximum number of items; 0 means unbounded.
func (q *DelayQueue[T]) Capacity() int {
	return q.capacity
}

// Len returns the number of items, visible or not.
func (q *DelayQueue[T]) Len() int {
	return len(q.items)
}

// Full returns true if the queue is at capacity or a throttled push is still
// draining its reissue interval.
func (q *DelayQueue[T]) Full() bool {
	if q.now < q.busyUntil {
		return true
	}

	return q.capacity > 0 && len(q.items) >= q.capacity
}

// Push enqueues an item that becomes visible after latency cycles.
func (q *DelayQueue[T]) Push(item T, latency uint64) {
	if q.capacity > 0 && len(q.items) >= q.capacity {
		log.Panicf("delay queue %s overflow", q.name)
	}

	ready := q.now + latency
	if n := len(q.items); n > 0 && q.items[n-1].ready > ready {
		ready = q.items[n-1].ready
	}

	q.items = append(q.items, entry[T]{item: item, ready: ready})
}

// PushThrottled enqueues an item and blocks further pushes for interval
// cycles.
func (q *DelayQueue[T]) PushThrottled(item T, latency, interval uint64) {
	if q.now < q.busyUntil {
		log.Panicf("delay queue %s is still busy", q.name)
	}

	q.Push(item, latency)
	q.busyUntil = q.now + interval
}

// Empty returns true if no item is visible.
func (q *DelayQueue[T]) Empty() bool {
	return len(q.items) == 0 || q.items[0].ready > q.now
}

// Top returns the oldest visible item.
func (q *DelayQueue[T]) Top() T {
	if q.Empty() {
		log.Panicf("delay queue %s has no visible item", q.name)
	}

	return q.items[0].item
}

// Pop removes and returns the oldest visible item.
func (q *DelayQueue[T]) Pop() T {
	item := q.Top()

	var zero entry[T]
	q.items[0] = zero
	q.items = q.items[1:]

	return item
}

// Peek returns the oldest item whether or not it is visible.
func (q *DelayQueue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	return q.items[0].item, true
}

// ReadyIn returns the number of cycles until the oldest item is visible.
func (q *DelayQueue[T]) ReadyIn() (uint64, bool) {
	if len(q.items) == 0 {
		return 0, false
	}

	if q.items[0].ready <= q.now {
		return 0, true
	}

	return q.items[0].ready - q.now, true
}

// Cycle advances the internal time by one tick.
func (q *DelayQueue[T]) Cycle() {
	q.now++
}

// Clear drops every item and any pending reissue interval.
func (q *DelayQueue[T]) Clear() {
	q.items = nil
	q.busyUntil = q.now
}

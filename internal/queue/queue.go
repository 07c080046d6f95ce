// Package queue holds events waiting for delivery.
package queue

import (
	"sync"

	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// Queue is an ordered, mutex-guarded buffer of pending events.
// maxBatchSize is a flush threshold, not a capacity: the queue keeps growing
// while deliveries fail or a flush is in flight.
type Queue struct {
	mu           sync.Mutex
	events       []model.Event
	maxBatchSize int
}

// New creates an empty queue that reports flush readiness at maxBatchSize events.
func New(maxBatchSize int) *Queue {
	return &Queue{maxBatchSize: maxBatchSize}
}

// Enqueue appends an event to the tail.
func (q *Queue) Enqueue(event model.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
}

// ShouldFlush reports whether the queue has reached the batch threshold.
func (q *Queue) ShouldFlush() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) >= q.maxBatchSize
}

// Len returns the number of pending events. The value may be stale as soon as it returns.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// IsEmpty reports whether no events are pending.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes and returns every pending event in enqueue order.
// An empty queue yields an empty, non-nil slice.
func (q *Queue) Drain() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return []model.Event{}
	}
	drained := q.events
	q.events = nil
	return drained
}

// Requeue puts events back at the head of the queue, ahead of anything
// enqueued since they were drained. Relative order on both sides is kept.
func (q *Queue) Requeue(events []model.Event) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	combined := make([]model.Event, 0, len(events)+len(q.events))
	combined = append(combined, events...)
	combined = append(combined, q.events...)
	q.events = combined
}

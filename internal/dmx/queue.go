package dmx

import (
	"container/list"
	"sync"
)

// Queue is the unbounded FIFO between the sample producer and the Listener.
//
// Callers keep to one producer goroutine (Add) and one consumer goroutine
// (Peek/Poll). The mutex makes every call safe on its own, but Peek followed
// by Poll only returns the same sample when nobody else polls in between.
type Queue struct {
	mu      sync.Mutex
	samples *list.List
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{samples: list.New()}
}

// Add appends sample to the tail.
func (q *Queue) Add(sample int) {
	q.mu.Lock()
	q.samples.PushBack(sample)
	q.mu.Unlock()
}

// Poll removes and returns the head. ok is false when the queue is empty.
func (q *Queue) Poll() (sample int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.samples.Front()
	if front == nil {
		return 0, false
	}
	q.samples.Remove(front)
	return front.Value.(int), true
}

// Peek returns the head without removing it. ok is false when the queue is empty.
func (q *Queue) Peek() (sample int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.samples.Front()
	if front == nil {
		return 0, false
	}
	return front.Value.(int), true
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.samples.Len()
}

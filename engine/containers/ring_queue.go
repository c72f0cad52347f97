package containers

import "errors"

var ErrQueueEmpty = errors.New("queue is empty")

// RingQueue is a growable FIFO backed by a ring buffer. It is not safe for
// concurrent use.
type RingQueue[T any] struct {
	data       []T
	readIndex  int
	writeIndex int
	count      int
}

// NewRingQueue creates a queue with room for size elements before it grows.
func NewRingQueue[T any](size int) *RingQueue[T] {
	if size < 1 {
		size = 1
	}
	return &RingQueue[T]{
		data: make([]T, size),
	}
}

// Enqueue adds an element at the back of the queue, growing it when full.
func (rq *RingQueue[T]) Enqueue(value T) {
	if rq.count == len(rq.data) {
		rq.grow()
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % len(rq.data)
	rq.count++
}

// Dequeue removes and returns the front element.
func (rq *RingQueue[T]) Dequeue() (T, error) {
	var zero T
	if rq.IsEmpty() {
		return zero, ErrQueueEmpty
	}
	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = zero
	rq.readIndex = (rq.readIndex + 1) % len(rq.data)
	rq.count--
	return value, nil
}

// Peek returns the front element without removing it.
func (rq *RingQueue[T]) Peek() (T, error) {
	if rq.IsEmpty() {
		var zero T
		return zero, ErrQueueEmpty
	}
	return rq.data[rq.readIndex], nil
}

// TakeFirst scans the queue front to back and removes the first element for
// which match returns true. Elements behind it keep their relative order.
func (rq *RingQueue[T]) TakeFirst(match func(T) bool) (T, bool) {
	var zero T
	for i := 0; i < rq.count; i++ {
		idx := (rq.readIndex + i) % len(rq.data)
		if !match(rq.data[idx]) {
			continue
		}
		value := rq.data[idx]
		// Close the gap by shifting the tail one step towards the front.
		for j := i; j < rq.count-1; j++ {
			cur := (rq.readIndex + j) % len(rq.data)
			next := (rq.readIndex + j + 1) % len(rq.data)
			rq.data[cur] = rq.data[next]
		}
		rq.writeIndex = (rq.writeIndex - 1 + len(rq.data)) % len(rq.data)
		rq.data[rq.writeIndex] = zero
		rq.count--
		return value, true
	}
	return zero, false
}

// Each calls fn for every element front to back.
func (rq *RingQueue[T]) Each(fn func(T)) {
	for i := 0; i < rq.count; i++ {
		fn(rq.data[(rq.readIndex+i)%len(rq.data)])
	}
}

// Clear drops every element and returns how many were dropped.
func (rq *RingQueue[T]) Clear() int {
	n := rq.count
	clear(rq.data)
	rq.readIndex, rq.writeIndex, rq.count = 0, 0, 0
	return n
}

func (rq *RingQueue[T]) Len() int {
	return rq.count
}

// IsEmpty checks if the queue is empty
func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.count == 0
}

func (rq *RingQueue[T]) grow() {
	data := make([]T, len(rq.data)*2)
	for i := 0; i < rq.count; i++ {
		data[i] = rq.data[(rq.readIndex+i)%len(rq.data)]
	}
	rq.data = data
	rq.readIndex = 0
	rq.writeIndex = rq.count
}

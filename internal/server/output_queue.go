package server

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	DefaultQueueCapacity      = 1024
	DefaultSubscriberCapacity = 256
	DefaultHistoryLines       = 200
)

// OutputQueue is a bounded FIFO of console lines. When full, Push drops the
// oldest line instead of blocking, so a slow consumer never stalls the
// producer.
type OutputQueue struct {
	mu     sync.Mutex
	items  []string
	head   int
	size   int
	closed bool

	dropped atomic.Uint64
	notify  chan struct{}
	done    chan struct{}
}

// NewOutputQueue creates a queue holding at most capacity lines.
func NewOutputQueue(capacity int) *OutputQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &OutputQueue{
		items:  make([]string, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends line. It returns false once the queue is closed.
func (q *OutputQueue) Push(line string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.size == len(q.items) {
		q.items[q.head] = ""
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped.Add(1)
	}
	q.items[(q.head+q.size)%len(q.items)] = line
	q.size++
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop blocks until a line is available, the queue is closed and drained, or
// ctx is done. The boolean is false in the latter two cases.
func (q *OutputQueue) Pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			line := q.items[q.head]
			q.items[q.head] = ""
			q.head = (q.head + 1) % len(q.items)
			q.size--
			more := q.size > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return line, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return "", false
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return "", false
		}
	}
}

// Close stops accepting lines. Lines already queued can still be popped.
func (q *OutputQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued lines.
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *OutputQueue) Cap() int {
	return len(q.items)
}

// Dropped returns how many lines were discarded on overflow.
func (q *OutputQueue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *OutputQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

package capture

import (
	"sync"
	"sync/atomic"
)

// frameQueue is a bounded channel of raw frames that overwrites the oldest
// entry when full. Producers never block; a replaced frame is released.
type frameQueue struct {
	mu     sync.Mutex
	ch     chan *RawFrame
	done   chan struct{}
	closed bool
	drops  atomic.Uint64
}

func newFrameQueue(depth int) *frameQueue {
	if depth < 1 {
		depth = 1
	}
	return &frameQueue{
		ch:   make(chan *RawFrame, depth),
		done: make(chan struct{}),
	}
}

// Push enqueues f, evicting the oldest frame if the queue is full.
// Returns false if the queue is closed; the caller keeps ownership then.
func (q *frameQueue) Push(f *RawFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	for {
		select {
		case q.ch <- f:
			return true
		default:
		}
		select {
		case old := <-q.ch:
			old.Release()
			q.drops.Add(1)
		default:
		}
	}
}

// Pop blocks until a frame is available or the queue is closed
func (q *frameQueue) Pop() (*RawFrame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	case <-q.done:
		return nil, false
	}
}

// Close wakes consumers and releases anything still queued. Idempotent.
func (q *frameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	for {
		select {
		case f := <-q.ch:
			f.Release()
		default:
			return
		}
	}
}

// Drops returns how many frames were evicted unconsumed
func (q *frameQueue) Drops() uint64 {
	return q.drops.Load()
}

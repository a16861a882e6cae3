package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy selects what a full FrameQueue does with new frames.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued frame to make room (ring
	// semantics). This is the default: recent audio matters more than old
	// audio for live segmentation.
	DropOldest OverflowPolicy = "drop_oldest"

	// DropNewest discards the incoming frame and keeps the queue as is.
	DropNewest OverflowPolicy = "drop_newest"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == DropOldest || p == DropNewest
}

// ErrQueueClosed is returned by Pop once the queue is closed and drained,
// and by Push after Close.
var ErrQueueClosed = errors.New("audio: frame queue closed")

// ErrPopTimeout is returned by Pop when no frame arrived within the timeout.
var ErrPopTimeout = errors.New("audio: frame queue pop timed out")

// FrameQueue is a bounded thread-safe queue carrying frames from a capture
// producer to the segmentation consumer.
//
// Push never blocks: when the queue is full the configured OverflowPolicy
// decides which frame is dropped, and the drop is counted. Overflow is an
// operational condition, never an error.
type FrameQueue struct {
	ch     chan Frame
	policy OverflowPolicy
	drops  atomic.Uint64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames. A
// non-positive capacity defaults to 64. An unknown policy defaults to
// DropOldest.
func NewFrameQueue(capacity int, policy OverflowPolicy) *FrameQueue {
	if capacity <= 0 {
		capacity = 64
	}
	if !policy.IsValid() {
		policy = DropOldest
	}
	return &FrameQueue{
		ch:     make(chan Frame, capacity),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Push enqueues a frame without blocking. When the queue is full the
// overflow policy is applied and the dropped frame is counted. Returns
// ErrQueueClosed after Close.
func (q *FrameQueue) Push(f Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	select {
	case q.ch <- f:
		q.mu.Unlock()
		return nil
	default:
	}

	// Queue full: apply the overflow policy. The lock excludes concurrent
	// Push/Close, so evicting one slot is enough to make room.
	switch q.policy {
	case DropNewest:
		q.drops.Add(1)
	default: // DropOldest
		select {
		case <-q.ch:
		default:
		}
		q.drops.Add(1)
		select {
		case q.ch <- f:
		default:
		}
	}
	q.mu.Unlock()
	return nil
}

// Pop dequeues the next frame in arrival order, waiting up to timeout.
// Returns ErrPopTimeout when no frame arrives in time so that consumers can
// observe stop requests promptly, and ErrQueueClosed once the queue is
// closed and empty.
func (q *FrameQueue) Pop(timeout time.Duration) (Frame, error) {
	// Drain buffered frames even after Close.
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		return f, nil
	case <-q.done:
		// Closed while waiting; one last non-blocking drain.
		select {
		case f := <-q.ch:
			return f, nil
		default:
			return Frame{}, ErrQueueClosed
		}
	case <-timer.C:
		return Frame{}, ErrPopTimeout
	}
}

// Len returns the number of frames currently buffered.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Drops returns the total number of frames dropped due to overflow.
func (q *FrameQueue) Drops() uint64 { return q.drops.Load() }

// Close marks the queue closed. Buffered frames remain poppable; further
// pushes fail with ErrQueueClosed. Close is idempotent.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

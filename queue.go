package simcast

import (
	"sync"
	"time"
)

// DefaultQueueSize bounds buffered frames between receive and decode.
// Small on purpose: excess frames are stale frames.
const DefaultQueueSize = 10

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Sent      uint64 `json:"sent"`
	Keyframes uint64 `json:"keyframes"`
	Size      int    `json:"queue_size"`
	Capacity  int    `json:"max_size"`
}

// FrameQueue is a bounded FIFO of encoded frames with a drop-oldest
// policy. Put never blocks: at capacity the oldest frame is evicted to
// keep latency from accumulating. Designed for one producer (the ingest
// connection) and one consumer (the output pull loop).
type FrameQueue struct {
	mu       sync.Mutex
	frames   []*Frame
	capacity int
	gen      uint64 // bumped by Clear so waiters can tell eviction from timeout
	wake     chan struct{}

	received  uint64
	dropped   uint64
	sent      uint64
	keyframes uint64
}

// NewFrameQueue creates a queue holding at most capacity frames.
// Non-positive capacities fall back to DefaultQueueSize.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &FrameQueue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Put appends a frame, evicting the oldest first when full.
func (q *FrameQueue) Put(frame *Frame) {
	q.mu.Lock()
	if len(q.frames) == q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
	}
	frame.ReceivedAt = time.Now()
	q.frames = append(q.frames, frame)
	q.received++
	if frame.Keyframe {
		q.keyframes++
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Get removes and returns the oldest frame, blocking until one arrives
// or the timeout expires. Returns nil on timeout, and nil immediately
// if the queue is cleared while waiting.
func (q *FrameQueue) Get(timeout time.Duration) *Frame {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.sent++
			q.mu.Unlock()
			return frame
		}
		gen := q.gen
		q.mu.Unlock()

		select {
		case <-q.wake:
			q.mu.Lock()
			cleared := len(q.frames) == 0 && q.gen != gen
			q.mu.Unlock()
			if cleared {
				return nil
			}
		case <-timer.C:
			return nil
		}
	}
}

// PeekLatest returns the most recent frame without removing it,
// or nil when the queue is empty.
func (q *FrameQueue) PeekLatest() *Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil
	}
	return q.frames[len(q.frames)-1]
}

// Clear empties the queue and wakes any in-flight Get with no frame.
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.frames = q.frames[:0]
	q.gen++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the current number of buffered frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Stats returns a snapshot of queue counters.
func (q *FrameQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Received:  q.received,
		Dropped:   q.dropped,
		Sent:      q.sent,
		Keyframes: q.keyframes,
		Size:      len(q.frames),
		Capacity:  q.capacity,
	}
}

package simcast

import (
	"testing"
	"time"
)

func testFrame(ts uint64, key bool) *Frame {
	return &Frame{Timestamp: ts, Data: []byte{0x00, 0x00, 0x00, 0x01, 0x41}, Keyframe: key}
}

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue(4)
	for i := uint64(1); i <= 3; i++ {
		q.Put(testFrame(i, false))
	}

	for want := uint64(1); want <= 3; want++ {
		frame := q.Get(time.Second)
		if frame == nil {
			t.Fatalf("Get() = nil, want frame %d", want)
		}
		if frame.Timestamp != want {
			t.Errorf("Get() timestamp = %d, want %d", frame.Timestamp, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestFrameQueue_DropOldest(t *testing.T) {
	q := NewFrameQueue(3)
	for i := uint64(1); i <= 5; i++ {
		q.Put(testFrame(i, false))
	}

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	// Frames 1 and 2 were evicted; the head is now 3.
	frame := q.Get(time.Second)
	if frame == nil || frame.Timestamp != 3 {
		t.Errorf("Get() = %v, want frame 3", frame)
	}

	stats := q.Stats()
	if stats.Received != 5 {
		t.Errorf("Received = %d, want 5", stats.Received)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
	if stats.Sent != 1 {
		t.Errorf("Sent = %d, want 1", stats.Sent)
	}
}

func TestFrameQueue_KeyframeCount(t *testing.T) {
	q := NewFrameQueue(10)
	q.Put(testFrame(1, true))
	q.Put(testFrame(2, false))
	q.Put(testFrame(3, true))

	if got := q.Stats().Keyframes; got != 2 {
		t.Errorf("Keyframes = %d, want 2", got)
	}
}

func TestFrameQueue_GetTimeout(t *testing.T) {
	q := NewFrameQueue(4)
	start := time.Now()
	frame := q.Get(50 * time.Millisecond)
	if frame != nil {
		t.Errorf("Get() = %v, want nil on timeout", frame)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Get() returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestFrameQueue_GetWakesOnPut(t *testing.T) {
	q := NewFrameQueue(4)
	done := make(chan *Frame, 1)
	go func() {
		done <- q.Get(5 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(testFrame(42, false))

	select {
	case frame := <-done:
		if frame == nil || frame.Timestamp != 42 {
			t.Errorf("Get() = %v, want frame 42", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not wake on Put")
	}
}

func TestFrameQueue_ClearWakesWaiter(t *testing.T) {
	q := NewFrameQueue(4)
	done := make(chan *Frame, 1)
	go func() {
		done <- q.Get(5 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Clear()

	select {
	case frame := <-done:
		if frame != nil {
			t.Errorf("Get() = %v, want nil after Clear", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not wake on Clear")
	}
}

func TestFrameQueue_Clear(t *testing.T) {
	q := NewFrameQueue(4)
	q.Put(testFrame(1, false))
	q.Put(testFrame(2, false))
	q.Clear()

	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", q.Len())
	}
	if frame := q.Get(10 * time.Millisecond); frame != nil {
		t.Errorf("Get() = %v after Clear, want nil", frame)
	}
}

func TestFrameQueue_PeekLatest(t *testing.T) {
	q := NewFrameQueue(4)
	if q.PeekLatest() != nil {
		t.Error("PeekLatest() on empty queue should be nil")
	}
	q.Put(testFrame(1, false))
	q.Put(testFrame(2, false))

	frame := q.PeekLatest()
	if frame == nil || frame.Timestamp != 2 {
		t.Errorf("PeekLatest() = %v, want frame 2", frame)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, PeekLatest should not consume", q.Len())
	}
}

func TestNewFrameQueue_DefaultCapacity(t *testing.T) {
	q := NewFrameQueue(0)
	if got := q.Stats().Capacity; got != DefaultQueueSize {
		t.Errorf("Capacity = %d, want %d", got, DefaultQueueSize)
	}
}

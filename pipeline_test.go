package simcast

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestPipeline(dec *fakeDecoder) *Pipeline {
	return NewPipeline(fakeFactory(dec), PipelineConfig{
		QueueSize: 4,
		Width:     64,
		Height:    48,
		FPS:       30,
	})
}

func videoMessage(ts uint64, data []byte) *Message {
	return &Message{Type: MsgTypeVideoFrame, Timestamp: ts, Payload: data}
}

func TestPipeline_VideoFrameEnqueued(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{out: decodedFrame(64, 48)})
	defer p.Close()

	p.HandleMessage(videoMessage(1000, keyframeData), nil)

	frame := p.Queue().PeekLatest()
	if frame == nil {
		t.Fatal("queue empty after video message")
	}
	if frame.Timestamp != 1000 {
		t.Errorf("Timestamp = %d, want 1000", frame.Timestamp)
	}
	if !frame.Keyframe {
		t.Error("keyframe payload not classified as keyframe")
	}
}

func TestPipeline_HeartbeatAcked(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{})
	defer p.Close()

	var replied []byte
	reply := func(data []byte) error {
		replied = data
		return nil
	}
	p.HandleMessage(&Message{Type: MsgTypeHeartbeat}, reply)

	want := HeartbeatAck()
	if len(replied) != len(want) {
		t.Fatalf("reply = %x, want %x", replied, want)
	}
	for i := range want {
		if replied[i] != want[i] {
			t.Fatalf("reply = %x, want %x", replied, want)
		}
	}
}

func TestPipeline_HeartbeatNilReply(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{})
	defer p.Close()
	// Must not panic when the transport cannot respond.
	p.HandleMessage(&Message{Type: MsgTypeHeartbeat}, nil)
}

func TestPipeline_ConfigAttachedToKeyframes(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{out: decodedFrame(64, 48)})
	defer p.Close()

	p.HandleMessage(&Message{Type: MsgTypeDecoderConfig, Payload: spsPPSData}, nil)
	if !p.HasConfig() {
		t.Fatal("HasConfig() = false after config message")
	}

	p.HandleMessage(videoMessage(1, keyframeData), nil)
	frame := p.Queue().PeekLatest()
	if frame == nil || len(frame.ParameterSets) == 0 {
		t.Error("keyframe should carry the stored parameter sets")
	}

	p.HandleMessage(videoMessage(2, deltaData), nil)
	frame = p.Queue().PeekLatest()
	if frame == nil || frame.ParameterSets != nil {
		t.Error("delta frame should not carry parameter sets")
	}
}

func TestPipeline_NextFrameDecodes(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{out: decodedFrame(64, 48)})
	defer p.Close()

	p.HandleMessage(videoMessage(1, keyframeData), nil)

	frame, err := p.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Errorf("frame = %dx%d, want 64x48", frame.Width, frame.Height)
	}
	if frame.PTS != 90000/30 {
		t.Errorf("PTS = %d, want %d", frame.PTS, 90000/30)
	}
}

func TestPipeline_BlankFrameOnUnderflow(t *testing.T) {
	p := NewPipeline(fakeFactory(&fakeDecoder{}), PipelineConfig{
		QueueSize: 4, Width: 32, Height: 24, FPS: 100,
	})
	defer p.Close()

	frame, err := p.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if frame.Width != 32 || frame.Height != 24 {
		t.Errorf("blank frame = %dx%d, want configured 32x24", frame.Width, frame.Height)
	}
	if frame.Data[0][0] != 16 || frame.Data[1][0] != 128 || frame.Data[2][0] != 128 {
		t.Errorf("blank frame planes = %d/%d/%d, want 16/128/128",
			frame.Data[0][0], frame.Data[1][0], frame.Data[2][0])
	}
}

func TestPipeline_RepeatsLastFrameOnUnderflow(t *testing.T) {
	dec := &fakeDecoder{out: decodedFrame(64, 48)}
	p := NewPipeline(fakeFactory(dec), PipelineConfig{
		QueueSize: 4, Width: 32, Height: 24, FPS: 100,
	})
	defer p.Close()

	p.HandleMessage(videoMessage(1, keyframeData), nil)
	first, err := p.NextFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Nothing queued now; the decoded frame should repeat, not a blank.
	second, err := p.NextFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.Width != 64 || second.Height != 48 {
		t.Errorf("repeat frame = %dx%d, want 64x48", second.Width, second.Height)
	}
	if second.PTS <= first.PTS {
		t.Errorf("PTS not monotonic: %d then %d", first.PTS, second.PTS)
	}
}

func TestPipeline_PTSMonotonic(t *testing.T) {
	p := NewPipeline(fakeFactory(&fakeDecoder{}), PipelineConfig{
		QueueSize: 4, Width: 16, Height: 16, FPS: 100,
	})
	defer p.Close()

	var last int64
	for i := 0; i < 5; i++ {
		frame, err := p.NextFrame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if frame.PTS <= last {
			t.Fatalf("PTS %d not greater than previous %d", frame.PTS, last)
		}
		last = frame.PTS
	}
	if last != 5*(90000/100) {
		t.Errorf("final PTS = %d, want %d", last, 5*(90000/100))
	}
}

func TestPipeline_NextFrameCancelled(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.NextFrame(ctx); err == nil {
		t.Error("NextFrame() = nil error on cancelled context")
	}
}

func TestPipeline_EndStreamRestarts(t *testing.T) {
	dec := &fakeDecoder{out: decodedFrame(64, 48)}
	p := newTestPipeline(dec)
	defer p.Close()

	p.HandleMessage(&Message{Type: MsgTypeDecoderConfig, Payload: spsPPSData}, nil)
	p.HandleMessage(videoMessage(1, keyframeData), nil)
	if _, err := p.NextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.HandleMessage(videoMessage(2, deltaData), nil)

	p.HandleMessage(&Message{Type: MsgTypeEndStream}, nil)

	if p.Queue().Len() != 0 {
		t.Errorf("queue has %d frames after end-stream, want 0", p.Queue().Len())
	}
	if !dec.closed {
		t.Error("old decoder not closed on restart")
	}
	// Config survives the restart for the next stream.
	if !p.HasConfig() {
		t.Error("parameter sets lost across restart")
	}
	if got := p.Stats().SessionState; got != SessionAwaitingKeyframe.String() {
		t.Errorf("session state = %s after restart, want %s", got, SessionAwaitingKeyframe)
	}
}

func TestPipeline_DeviceInfoCached(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{})
	defer p.Close()

	p.HandleMessage(&Message{Type: MsgTypeDeviceInfo, Payload: []byte(`{"name":"iPhone 15","scale":3}`)}, nil)

	info := p.DeviceInfo()
	if info == nil || info["name"] != "iPhone 15" {
		t.Errorf("DeviceInfo() = %v, want cached name", info)
	}

	// Malformed JSON is dropped without replacing the cache.
	p.HandleMessage(&Message{Type: MsgTypeDeviceInfo, Payload: []byte(`{broken`)}, nil)
	if info := p.DeviceInfo(); info == nil || info["name"] != "iPhone 15" {
		t.Errorf("DeviceInfo() = %v after bad payload, want previous value", info)
	}
}

func TestPipeline_Stats(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{out: decodedFrame(64, 48)})
	defer p.Close()

	p.HandleMessage(videoMessage(1, keyframeData), nil)
	p.HandleMessage(videoMessage(2, deltaData), nil)
	if _, err := p.NextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}

	stats := p.Stats()
	if stats.FramesIngest != 2 {
		t.Errorf("FramesIngest = %d, want 2", stats.FramesIngest)
	}
	if stats.FramesOut != 1 {
		t.Errorf("FramesOut = %d, want 1", stats.FramesOut)
	}
	if stats.Queue.Received != 2 {
		t.Errorf("Queue.Received = %d, want 2", stats.Queue.Received)
	}
	if stats.SessionState != SessionDecoding.String() {
		t.Errorf("SessionState = %s, want Decoding", stats.SessionState)
	}
}

func TestPipeline_NextFrameConcurrentCallers(t *testing.T) {
	dec := &fakeDecoder{out: decodedFrame(64, 48)}
	p := NewPipeline(fakeFactory(dec), PipelineConfig{
		QueueSize: 4, Width: 64, Height: 48, FPS: 250,
	})
	defer p.Close()

	p.HandleMessage(videoMessage(1, keyframeData), nil)

	// Two callers racing on the repeated-frame path must each get their
	// own frame header with a unique PTS, never a shared mutable object.
	const callers = 2
	const perCaller = 30
	results := make(chan *VideoFrame, callers*perCaller)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				frame, err := p.NextFrame(context.Background())
				if err != nil {
					t.Errorf("NextFrame() error = %v", err)
					return
				}
				results <- frame
			}
		}()
	}
	wg.Wait()
	close(results)

	seenPtr := make(map[*VideoFrame]bool)
	seenPTS := make(map[int64]bool)
	for frame := range results {
		if seenPtr[frame] {
			t.Fatal("two calls returned the same frame header")
		}
		seenPtr[frame] = true
		if seenPTS[frame.PTS] {
			t.Fatalf("PTS %d handed out twice", frame.PTS)
		}
		seenPTS[frame.PTS] = true
	}
	if len(seenPtr) != callers*perCaller {
		t.Errorf("got %d frames, want %d", len(seenPtr), callers*perCaller)
	}
}

func TestPipeline_NextFrameTimeoutIsBounded(t *testing.T) {
	p := NewPipeline(fakeFactory(&fakeDecoder{}), PipelineConfig{
		QueueSize: 4, Width: 16, Height: 16, FPS: 50,
	})
	defer p.Close()

	start := time.Now()
	if _, err := p.NextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	// One frame interval at 50fps is 20ms; allow generous slack.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("NextFrame() took %v on empty queue, want about one frame interval", elapsed)
	}
}

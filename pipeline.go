package simcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// ReplyFunc sends a message back to the capture source over whatever
// transport delivered the original message.
type ReplyFunc func(data []byte) error

// PipelineConfig sets the pipeline's queue bound and output defaults.
// Width/Height/FPS are used for blank-frame synthesis until real
// dimensions are known.
type PipelineConfig struct {
	QueueSize int
	Width     int
	Height    int
	FPS       int
}

// PipelineStats is a snapshot of pipeline counters for /status.
type PipelineStats struct {
	Queue        QueueStats `json:"queue"`
	FramesOut    uint64     `json:"frames_out"`
	FramesIngest uint64     `json:"frames_ingest"`
	DecodeErrors uint64     `json:"decode_errors"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	SessionState string     `json:"session_state"`
	HasConfig    bool       `json:"has_config"`
}

// Pipeline coordinates the path from wire messages to raw frames:
// ingest messages land in the bounded queue, NextFrame pulls them
// through a keyframe-gated decoder session, and underflow is papered
// over with the last decoded frame (or a blank one) so the output
// cadence never stalls.
type Pipeline struct {
	queue      *FrameQueue
	newDecoder DecoderFactory
	cfg        PipelineConfig

	mu            sync.Mutex
	session       *DecoderSession
	parameterSets []byte
	lastFrame     *VideoFrame
	width         int
	height        int
	pts           int64
	framesOut     uint64
	framesIngest  uint64
	ingestStart   time.Time
	deviceInfo    map[string]any
}

// NewPipeline creates a pipeline. The factory is invoked once per
// stream; end-of-stream recreates the session from scratch.
func NewPipeline(factory DecoderFactory, cfg PipelineConfig) *Pipeline {
	if cfg.Width <= 0 {
		cfg.Width = 1080
	}
	if cfg.Height <= 0 {
		cfg.Height = 1920
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Pipeline{
		queue:      NewFrameQueue(cfg.QueueSize),
		newDecoder: factory,
		cfg:        cfg,
		session:    NewDecoderSession(factory, VideoDecoderConfig{}),
		width:      cfg.Width,
		height:     cfg.Height,
	}
}

// Queue exposes the frame queue for stats and tests.
func (p *Pipeline) Queue() *FrameQueue {
	return p.queue
}

// HandleMessage dispatches one parsed wire message. Per-message
// failures are logged and swallowed; a bad message never takes the
// stream down. reply may be nil when the transport cannot respond.
func (p *Pipeline) HandleMessage(msg *Message, reply ReplyFunc) {
	switch msg.Type {
	case MsgTypeVideoFrame:
		p.handleVideoFrame(msg)
	case MsgTypeDecoderConfig:
		p.handleConfig(msg.Payload)
	case MsgTypeHeartbeat:
		if reply != nil {
			if err := reply(HeartbeatAck()); err != nil {
				log.Printf("pipeline: heartbeat ack failed: %v", err)
			}
		}
	case MsgTypeStats:
		p.handleSourceJSON("source stats", msg.Payload, false)
	case MsgTypeDeviceInfo:
		p.handleSourceJSON("device info", msg.Payload, true)
	case MsgTypeEndStream:
		log.Printf("pipeline: stream ended")
		p.Restart()
	}
}

func (p *Pipeline) handleVideoFrame(msg *Message) {
	payload := append([]byte(nil), msg.Payload...)
	key := IsKeyframe(payload)

	p.mu.Lock()
	p.framesIngest++
	count := p.framesIngest
	if p.ingestStart.IsZero() {
		p.ingestStart = time.Now()
	}
	start := p.ingestStart
	var ps []byte
	if key && p.parameterSets != nil {
		ps = append([]byte(nil), p.parameterSets...)
	}
	p.mu.Unlock()

	if count <= 5 {
		log.Printf("pipeline: frame %d: keyframe=%v size=%d ts=%d nals=%v",
			count, key, len(payload), msg.Timestamp, DescribeNALUnits(payload))
	}

	p.queue.Put(&Frame{
		Timestamp:     msg.Timestamp,
		Data:          payload,
		Keyframe:      key,
		ParameterSets: ps,
	})

	// Periodic stats (every 30 frames, ~1s at 30fps)
	if count%30 == 0 {
		elapsed := time.Since(start).Seconds()
		fps := 0.0
		if elapsed > 0 {
			fps = float64(count) / elapsed
		}
		qs := p.queue.Stats()
		log.Printf("pipeline: %d frames, %.1f fps, queue %d/%d, keyframes %d, dropped %d",
			count, fps, qs.Size, qs.Capacity, qs.Keyframes, qs.Dropped)
	}
}

func (p *Pipeline) handleConfig(payload []byte) {
	if len(payload) == 0 {
		return
	}
	ps := append([]byte(nil), payload...)

	p.mu.Lock()
	p.parameterSets = ps
	session := p.session
	p.mu.Unlock()

	session.SetParameterSets(ps)
	log.Printf("pipeline: decoder config: %d bytes, nals=%v", len(ps), DescribeNALUnits(ps))
}

// handleSourceJSON parses best-effort JSON payloads from the source.
// Malformed payloads are logged and dropped.
func (p *Pipeline) handleSourceJSON(what string, payload []byte, cache bool) {
	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		log.Printf("pipeline: failed to parse %s: %v", what, err)
		return
	}
	if cache {
		p.mu.Lock()
		p.deviceInfo = parsed
		p.mu.Unlock()
	}
	log.Printf("pipeline: %s: %v", what, parsed)
}

// NextFrame returns the next raw frame for the output track. It pulls
// from the queue with a one-frame-interval timeout; on underflow or
// decode failure it repeats the last decoded frame, or synthesizes a
// blank one before anything has decoded. Every returned frame carries
// a monotonically increasing 90kHz PTS.
func (p *Pipeline) NextFrame(ctx context.Context) (*VideoFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	interval := time.Second / time.Duration(p.cfg.FPS)
	queued := p.queue.Get(interval)

	p.mu.Lock()
	p.pts += int64(90000 / p.cfg.FPS)
	pts := p.pts
	session := p.session
	p.mu.Unlock()

	var frame *VideoFrame
	if queued != nil && session != nil {
		if decoded := session.Decode(queued); decoded != nil {
			// The decoder reuses its output buffer; copy before handing
			// the frame to the track.
			frame = decoded.Clone()
			p.mu.Lock()
			p.lastFrame = frame
			p.width = frame.Width
			p.height = frame.Height
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	if frame == nil {
		if p.lastFrame != nil {
			frame = p.lastFrame
		} else {
			frame = NewBlankFrame(p.width, p.height)
		}
	}
	p.framesOut++
	p.mu.Unlock()

	// The cached frame's planes are shared read-only; a fresh header per
	// call keeps the PTS stamp off frames already handed out.
	out := *frame
	out.PTS = pts
	return &out, nil
}

// Restart clears the queue and starts a fresh decoder session, so the
// next stream begins at a keyframe again. The last decoded frame is
// kept to bridge the gap for connected viewers.
func (p *Pipeline) Restart() {
	p.queue.Clear()

	p.mu.Lock()
	old := p.session
	p.session = NewDecoderSession(p.newDecoder, VideoDecoderConfig{})
	if p.parameterSets != nil {
		p.session.SetParameterSets(p.parameterSets)
	}
	p.framesIngest = 0
	p.ingestStart = time.Time{}
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("pipeline: close session: %v", err)
		}
	}
}

// Dimensions returns the current output dimensions.
func (p *Pipeline) Dimensions() (width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// FPS returns the configured output frame rate.
func (p *Pipeline) FPS() int {
	return p.cfg.FPS
}

// DeviceInfo returns the most recent device description from the
// source, or nil if none has arrived.
func (p *Pipeline) DeviceInfo() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceInfo
}

// HasConfig reports whether parameter sets have been received.
func (p *Pipeline) HasConfig() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parameterSets != nil
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	session := p.session
	stats := PipelineStats{
		FramesOut:    p.framesOut,
		FramesIngest: p.framesIngest,
		Width:        p.width,
		Height:       p.height,
		HasConfig:    p.parameterSets != nil,
	}
	p.mu.Unlock()

	stats.Queue = p.queue.Stats()
	if session != nil {
		stats.DecodeErrors = session.DecodeErrors()
		stats.SessionState = session.State().String()
	}
	return stats
}

// Close releases the decoder session.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}

package simcast

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// WebRTCServer turns pipeline frames into WebRTC video for browser
// viewers. A single pump goroutine is the pipeline's only consumer;
// it fans each frame out to per-viewer channels, and every viewer runs
// its own encoder and packetizer over the shared (read-only) planes.
type WebRTCServer struct {
	pipeline *Pipeline
	bitrate  int

	viewers atomic.Int32

	mu       sync.Mutex
	subs     map[chan *VideoFrame]struct{}
	stopPump context.CancelFunc
}

// NewWebRTCServer creates a viewer endpoint over the given pipeline.
func NewWebRTCServer(pipeline *Pipeline, bitrateBps int) *WebRTCServer {
	if bitrateBps <= 0 {
		bitrateBps = 2_000_000
	}
	return &WebRTCServer{
		pipeline: pipeline,
		bitrate:  bitrateBps,
		subs:     make(map[chan *VideoFrame]struct{}),
	}
}

// Viewers returns the number of connected viewers.
func (s *WebRTCServer) Viewers() int {
	return int(s.viewers.Load())
}

// subscribe registers a viewer frame channel. The first subscriber
// starts the pump; the queue stays untouched while nobody watches.
func (s *WebRTCServer) subscribe() chan *VideoFrame {
	ch := make(chan *VideoFrame, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	if len(s.subs) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopPump = cancel
		go s.pump(ctx)
	}
	s.mu.Unlock()
	return ch
}

func (s *WebRTCServer) unsubscribe(ch chan *VideoFrame) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		if len(s.subs) == 0 && s.stopPump != nil {
			s.stopPump()
			s.stopPump = nil
		}
	}
	s.mu.Unlock()
}

// pump pulls frames at the output cadence and fans each one out to
// every subscriber. A slow viewer has its stale frame replaced rather
// than stalling the rest.
func (s *WebRTCServer) pump(ctx context.Context) {
	for {
		frame, err := s.pipeline.NextFrame(ctx)
		if err != nil {
			return
		}

		s.mu.Lock()
		for ch := range s.subs {
			select {
			case ch <- frame:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- frame:
				default:
				}
			}
		}
		s.mu.Unlock()
	}
}

// viewerLifecycle guards the viewer counter: a viewer is counted once
// on its first Connected and uncounted once on its first terminal
// state, so Failed followed by Closed cannot double-decrement and a
// connection that dies before connecting never decrements at all.
type viewerLifecycle struct {
	started atomic.Bool
	ended   atomic.Bool
}

func (v *viewerLifecycle) start() bool {
	return v.started.CompareAndSwap(false, true)
}

func (v *viewerLifecycle) end() bool {
	return v.ended.CompareAndSwap(false, true) && v.started.Load()
}

func (s *WebRTCServer) viewerStateChanged(life *viewerLifecycle, state webrtc.PeerConnectionState, start, stop func()) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if life.start() {
			s.viewers.Add(1)
			start()
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if life.end() {
			s.viewers.Add(-1)
		}
		stop()
	}
}

// HandleOffer answers a browser's SDP offer posted as JSON.
func (s *WebRTCServer) HandleOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	answer, err := s.createViewer(offer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(answer)
}

func (s *WebRTCServer) createViewer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "simcast",
	)
	if err != nil {
		pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, err
	}

	// RTCP reader doubles as the PLI signal: any feedback wakes the
	// stream loop to force a keyframe.
	pliCh := make(chan struct{}, 1)
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
			select {
			case pliCh <- struct{}{}:
			default:
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	life := &viewerLifecycle{}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("webrtc: viewer %s", state)
		s.viewerStateChanged(life, state,
			func() { go s.streamToViewer(ctx, pc, track, pliCh) },
			func() {
				cancel()
				pc.Close()
			})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		cancel()
		pc.Close()
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		cancel()
		pc.Close()
		return nil, err
	}
	done := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		cancel()
		pc.Close()
		return nil, err
	}
	<-done

	return pc.LocalDescription(), nil
}

func (s *WebRTCServer) streamToViewer(ctx context.Context, pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP, pliCh chan struct{}) {
	fps := s.pipeline.FPS()
	frameDuration := uint32(90000 / fps)

	frames := s.subscribe()
	defer s.unsubscribe(frames)

	packetizer := rtp.NewPacketizer(
		1200, 102, rand.Uint32(),
		&codecs.H264Payloader{},
		rtp.NewRandomSequencer(),
		90000,
	)

	var encoder VideoEncoder
	defer func() {
		if encoder != nil {
			encoder.Close()
		}
	}()

	for pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		var frame *VideoFrame
		select {
		case <-ctx.Done():
			return
		case <-pliCh:
			if encoder != nil {
				encoder.RequestKeyframe()
			}
			continue
		case frame = <-frames:
		}

		// The source resolution can change mid-stream (rotation, new
		// device); recreate the encoder to match.
		if encoder != nil {
			cfg := encoder.Config()
			if cfg.Width != frame.Width || cfg.Height != frame.Height {
				encoder.Close()
				encoder = nil
			}
		}
		if encoder == nil {
			enc, err := NewH264Encoder(VideoEncoderConfig{
				Width:      frame.Width,
				Height:     frame.Height,
				FPS:        fps,
				BitrateBps: s.bitrate,
				Profile:    H264ProfileBaseline,
			})
			if err != nil {
				log.Printf("webrtc: encoder: %v", err)
				return
			}
			encoder = enc
			log.Printf("webrtc: encoding %dx%d @%dfps", frame.Width, frame.Height, fps)
		}

		encoded, err := encoder.Encode(frame)
		if err != nil {
			log.Printf("webrtc: encode: %v", err)
			continue
		}
		if encoded == nil {
			continue // Encoder buffering
		}

		for _, pkt := range packetizer.Packetize(encoded.Data, frameDuration) {
			if err := track.WriteRTP(pkt); err != nil {
				return
			}
		}
	}
}

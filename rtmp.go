package simcast

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	rtmp "github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// RTMPSource accepts an RTMP publish (e.g. from OBS or ffmpeg) and
// feeds it into the pipeline as decoder-config and video-frame
// messages, so RTMP and WebSocket capture share one ingest path.
type RTMPSource struct {
	addr     string
	pipeline *Pipeline

	publishers atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	server   *rtmp.Server
}

// NewRTMPSource creates an RTMP listener on addr (e.g. ":1935").
func NewRTMPSource(addr string, pipeline *Pipeline) *RTMPSource {
	return &RTMPSource{addr: addr, pipeline: pipeline}
}

// Start begins accepting RTMP connections.
func (s *RTMPSource) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpHandler{source: s},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Printf("rtmp: serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	log.Printf("rtmp: listening on %s", s.addr)
	return nil
}

// Stop closes the listener.
func (s *RTMPSource) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// Connected reports whether a publisher is streaming.
func (s *RTMPSource) Connected() bool {
	return s.publishers.Load() > 0
}

// rtmpHandler bridges one RTMP publish session to the pipeline.
type rtmpHandler struct {
	rtmp.DefaultHandler
	source     *RTMPSource
	publishing bool
}

func (h *rtmpHandler) OnPublish(_ *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	log.Printf("rtmp: publish start: %s", cmd.PublishingName)
	h.publishing = true
	h.source.publishers.Add(1)
	return nil
}

func (h *rtmpHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	data := buf.Bytes()
	if len(data) < 5 {
		return nil
	}

	// FLV video tag: frame type + codec ID, then AVC packet type and
	// composition time.
	codecID := data[0] & 0x0F
	if codecID != 7 { // AVC only
		return nil
	}
	avcType := data[1]
	body := data[5:]

	ts := uint64(timestamp) * 1000 // ms -> µs

	switch avcType {
	case 0: // AVCDecoderConfigurationRecord
		sps, pps := ExtractAVCConfig(body)
		if sps == nil || pps == nil {
			log.Printf("rtmp: sequence header without SPS/PPS")
			return nil
		}
		ps := BuildParameterSets(sps, pps)
		h.source.pipeline.HandleMessage(&Message{
			Type:      MsgTypeDecoderConfig,
			Timestamp: ts,
			Payload:   ps,
		}, nil)
	case 1: // AVCC NALUs
		nalus := ParseAVCCNALUs(body)
		if len(nalus) == 0 {
			return nil
		}
		h.source.pipeline.HandleMessage(&Message{
			Type:      MsgTypeVideoFrame,
			Timestamp: ts,
			Payload:   BuildAnnexB(nalus),
		}, nil)
	}
	return nil
}

func (h *rtmpHandler) OnClose() {
	if h.publishing {
		h.publishing = false
		h.source.publishers.Add(-1)
		log.Printf("rtmp: publisher disconnected")
		h.source.pipeline.HandleMessage(&Message{Type: MsgTypeEndStream}, nil)
	}
}

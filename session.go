package simcast

import (
	"fmt"
	"log"
	"sync"
)

// SessionState tracks the decode gate of a DecoderSession.
type SessionState int

const (
	// SessionAwaitingKeyframe discards delta frames until a keyframe arrives.
	SessionAwaitingKeyframe SessionState = iota
	// SessionDecoding feeds every frame to the decoder.
	SessionDecoding
)

func (s SessionState) String() string {
	switch s {
	case SessionAwaitingKeyframe:
		return "AwaitingKeyframe"
	case SessionDecoding:
		return "Decoding"
	default:
		return "Unknown"
	}
}

// decodeErrorLogCap bounds how many decode failures are logged per
// session before suppression kicks in.
const decodeErrorLogCap = 10

// DecoderSession wraps a VideoDecoder with stream-level state:
// it discards frames until the first keyframe, prepends parameter sets
// to keyframes, and absorbs per-frame decode failures. Once decoding
// has started the session never reverts to waiting; a new session is
// created for each stream.
type DecoderSession struct {
	newDecoder DecoderFactory
	config     VideoDecoderConfig

	mu            sync.Mutex
	decoder       VideoDecoder
	state         SessionState
	parameterSets []byte
	width         int
	height        int
	decodeErrors  uint64
	framesDecoded uint64
}

// NewDecoderSession creates a session in the AwaitingKeyframe state.
// The decoder itself is created lazily on the first keyframe.
func NewDecoderSession(factory DecoderFactory, config VideoDecoderConfig) *DecoderSession {
	return &DecoderSession{
		newDecoder: factory,
		config:     config,
	}
}

// SetParameterSets stores SPS/PPS for prepending to keyframes.
// Empty payloads are ignored so a malformed config message cannot
// clobber a working set.
func (s *DecoderSession) SetParameterSets(ps []byte) {
	if len(ps) == 0 {
		return
	}
	s.mu.Lock()
	s.parameterSets = append([]byte(nil), ps...)
	s.mu.Unlock()
}

// Decode runs one frame through the session. Returns nil without error
// when the frame is gated, the decoder is buffering, or decode failed
// (failures are counted and log-capped, never fatal).
func (s *DecoderSession) Decode(frame *Frame) *VideoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionAwaitingKeyframe {
		if !frame.Keyframe {
			return nil
		}
		s.state = SessionDecoding
		log.Printf("decoder session: first keyframe, starting decode")
	}

	if len(frame.ParameterSets) > 0 {
		s.parameterSets = append([]byte(nil), frame.ParameterSets...)
	}

	if s.decoder == nil {
		dec, err := s.newDecoder(s.config)
		if err != nil {
			s.recordError(fmt.Errorf("create decoder: %w", err))
			return nil
		}
		s.decoder = dec
	}

	data := frame.Data
	if frame.Keyframe && len(s.parameterSets) > 0 {
		// The source sends SPS/PPS separately; the decoder needs them
		// ahead of the IDR NAL.
		joined := make([]byte, 0, len(s.parameterSets)+len(data))
		joined = append(joined, s.parameterSets...)
		joined = append(joined, data...)
		data = joined
	}

	ft := FrameTypeDelta
	if frame.Keyframe {
		ft = FrameTypeKey
	}

	decoded, err := s.decoder.Decode(&EncodedFrame{
		Data:      data,
		FrameType: ft,
	})
	if err != nil {
		s.recordError(err)
		return nil
	}
	if decoded == nil {
		return nil // Decoder buffering
	}

	if decoded.Width != s.width || decoded.Height != s.height {
		s.width = decoded.Width
		s.height = decoded.Height
		log.Printf("decoder session: video dimensions %dx%d", s.width, s.height)
	}

	s.framesDecoded++
	return decoded
}

func (s *DecoderSession) recordError(err error) {
	s.decodeErrors++
	if s.decodeErrors <= decodeErrorLogCap {
		log.Printf("decoder session: decode error (%d): %v", s.decodeErrors, err)
	} else if s.decodeErrors == decodeErrorLogCap+1 {
		log.Printf("decoder session: suppressing further decode errors")
	}
}

// State returns the current gate state.
func (s *DecoderSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dimensions returns the most recent decoded dimensions (zero before
// the first decoded frame).
func (s *DecoderSession) Dimensions() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// ParameterSets returns the currently stored SPS/PPS, or nil.
func (s *DecoderSession) ParameterSets() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parameterSets == nil {
		return nil
	}
	return append([]byte(nil), s.parameterSets...)
}

// DecodeErrors returns the number of decode failures so far.
func (s *DecoderSession) DecodeErrors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeErrors
}

// FramesDecoded returns the number of successfully decoded frames.
func (s *DecoderSession) FramesDecoded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesDecoded
}

// Close releases the underlying decoder.
func (s *DecoderSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoder != nil {
		err := s.decoder.Close()
		s.decoder = nil
		return err
	}
	return nil
}

package simcast

import (
	"encoding/binary"
	"fmt"
)

// Wire protocol between the capture source and the relay.
//
// Every message is a fixed 9-byte header followed by a variable payload:
//   - Byte 0: message type (uint8)
//   - Bytes 1-8: timestamp in microseconds (uint64, big-endian)
//   - Bytes 9+: payload
const (
	MsgTypeVideoFrame    byte = 0x01 // Annex-B H.264 access unit
	MsgTypeDecoderConfig byte = 0x02 // SPS/PPS parameter sets
	MsgTypeHeartbeat     byte = 0x03 // Keepalive, acked with zero timestamp
	MsgTypeStats         byte = 0x04 // JSON stats from the source
	MsgTypeDeviceInfo    byte = 0x05 // JSON device description
	MsgTypeEndStream     byte = 0xFF // Capture ended
)

// headerSize is the fixed message header length.
const headerSize = 9

// Message is a decoded wire protocol message. Payload aliases the input
// buffer; callers that retain it past the read loop must copy.
type Message struct {
	Type      byte
	Timestamp uint64 // Microseconds
	Payload   []byte
}

// ParseMessage decodes the 9-byte header and splits off the payload.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	msg := &Message{
		Type:      data[0],
		Timestamp: binary.BigEndian.Uint64(data[1:headerSize]),
		Payload:   data[headerSize:],
	}

	switch msg.Type {
	case MsgTypeVideoFrame, MsgTypeDecoderConfig, MsgTypeHeartbeat,
		MsgTypeStats, MsgTypeDeviceInfo, MsgTypeEndStream:
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Type)
	}
}

// EncodeMessage builds a wire message from its parts.
func EncodeMessage(msgType byte, timestamp uint64, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint64(buf[1:headerSize], timestamp)
	copy(buf[headerSize:], payload)
	return buf
}

// HeartbeatAck is the reply sent back to the source for each heartbeat:
// the heartbeat type tag with a zeroed timestamp and no payload.
func HeartbeatAck() []byte {
	return EncodeMessage(MsgTypeHeartbeat, 0, nil)
}

// MessageTypeName returns a human-readable name for a message type.
func MessageTypeName(msgType byte) string {
	switch msgType {
	case MsgTypeVideoFrame:
		return "video-frame"
	case MsgTypeDecoderConfig:
		return "decoder-config"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypeStats:
		return "stats"
	case MsgTypeDeviceInfo:
		return "device-info"
	case MsgTypeEndStream:
		return "end-stream"
	default:
		return fmt.Sprintf("unknown-0x%02x", msgType)
	}
}

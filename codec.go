package simcast

import "errors"

// Common codec errors.
var (
	ErrNotSupported   = errors.New("operation not supported")
	ErrBufferTooSmall = errors.New("buffer too small")
)

// H264Profile defines H.264 encoding profiles.
type H264Profile int

const (
	H264ProfileBaseline H264Profile = iota
	H264ProfileMain
	H264ProfileHigh
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// VideoDecoderConfig configures a video decoder.
type VideoDecoderConfig struct {
	Threads int // Decoder threads (0 = auto)
}

// DecoderStats provides decoding metrics.
type DecoderStats struct {
	FramesDecoded    uint64 // Total frames decoded
	KeyframesDecoded uint64 // Total keyframes decoded
	BytesDecoded     uint64 // Total bytes of encoded input
	CorruptedFrames  uint64 // Frames the decoder rejected
}

// VideoDecoder decodes H.264 access units to raw frames.
type VideoDecoder interface {
	// Decode decodes an Annex-B access unit.
	// Returns nil if the decoder is buffering and no frame is ready.
	// The returned frame is valid until the next Decode() call.
	Decode(encoded *EncodedFrame) (*VideoFrame, error)

	// Reset drops decoder state so the next input must be a keyframe.
	Reset() error

	// Dimensions returns the most recent output dimensions.
	Dimensions() (width, height int)

	// Stats returns decoding statistics.
	Stats() DecoderStats

	// Close releases decoder resources.
	Close() error
}

// DecoderFactory creates a fresh decoder. The pipeline recreates
// decoders across stream restarts rather than reusing them.
type DecoderFactory func(config VideoDecoderConfig) (VideoDecoder, error)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Width      int         // Frame width
	Height     int         // Frame height
	FPS        int         // Target framerate
	BitrateBps int         // Target bitrate in bits per second
	Threads    int         // Encoder threads (0 = auto)
	Profile    H264Profile // H.264 profile
}

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesEncoded    uint64 // Total frames encoded
	KeyframesEncoded uint64 // Total keyframes encoded
	BytesEncoded     uint64 // Total bytes of encoded output
}

// VideoEncoder encodes raw frames to an H.264 bitstream.
type VideoEncoder interface {
	// Encode encodes a raw frame.
	// Returns nil if the encoder is buffering and no output is ready.
	// The returned EncodedFrame data is valid until the next Encode() call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	// SetBitrate updates the target bitrate dynamically.
	SetBitrate(bitrateBps int) error

	// SPS returns the encoder's Sequence Parameter Set.
	SPS() []byte

	// PPS returns the encoder's Picture Parameter Set.
	PPS() []byte

	// Config returns the encoder configuration.
	Config() VideoEncoderConfig

	// Stats returns encoding statistics.
	Stats() EncoderStats

	// Close releases encoder resources.
	Close() error
}

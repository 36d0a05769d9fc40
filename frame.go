package simcast

import "time"

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	default:
		return 0
	}
}

// Frame is a single encoded video frame as received from the capture
// source: Annex-B H.264 data plus wire metadata.
type Frame struct {
	Timestamp     uint64    // Capture timestamp in microseconds
	Data          []byte    // H.264 NAL unit(s), Annex-B format
	Keyframe      bool      // True if the frame can start a decode
	ParameterSets []byte    // SPS/PPS attached to keyframes (may be nil)
	ReceivedAt    time.Time // Local receive time
}

// Clone creates a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	clone := &Frame{
		Timestamp:  f.Timestamp,
		Keyframe:   f.Keyframe,
		ReceivedAt: f.ReceivedAt,
	}
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	if f.ParameterSets != nil {
		clone.ParameterSets = make([]byte, len(f.ParameterSets))
		copy(clone.ParameterSets, f.ParameterSets)
	}
	return clone
}

// VideoFrame represents a raw decoded video frame.
// The Data slices may point to external memory (e.g., C memory via FFI).
// Callers must ensure the data remains valid for the lifetime of the frame.
type VideoFrame struct {
	Data   [][]byte    // Plane data (3 planes for I420)
	Stride []int       // Stride for each plane in bytes
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format
	PTS    int64       // Presentation timestamp (90kHz clock)
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		PTS:    f.PTS,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// NewBlankFrame creates a black I420 frame at the given dimensions.
// Y=16 is black in YUV, U=V=128 is neutral chroma.
func NewBlankFrame(width, height int) *VideoFrame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)

	y := make([]byte, ySize)
	u := make([]byte, uvSize)
	v := make([]byte, uvSize)
	for i := range y {
		y[i] = 16
	}
	for i := range u {
		u[i] = 128
		v[i] = 128
	}

	return &VideoFrame{
		Data:   [][]byte{y, u, v},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// FrameType indicates whether an encoded frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds encoded video data.
// The Data slice is owned by the encoder and valid until the next Encode() call.
type EncodedFrame struct {
	Data      []byte    // Encoded bitstream data, Annex-B format
	FrameType FrameType // Key or delta frame
	Timestamp uint32    // RTP timestamp (90kHz clock)
	Duration  uint32    // Duration in RTP timestamp units
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// Clone creates a deep copy of the encoded frame.
func (f *EncodedFrame) Clone() *EncodedFrame {
	clone := &EncodedFrame{
		FrameType: f.FrameType,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return clone
}

// VideoFrameBuffer is a pre-allocated buffer for repeated decode output.
type VideoFrameBuffer struct {
	Y []byte // Y plane buffer
	U []byte // U plane buffer
	V []byte // V plane buffer

	Width   int
	Height  int
	StrideY int
	StrideU int
	StrideV int
	Format  PixelFormat
	PTS     int64
}

// NewVideoFrameBuffer creates a new pre-allocated I420 frame buffer.
func NewVideoFrameBuffer(width, height int) *VideoFrameBuffer {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return &VideoFrameBuffer{
		Y:       make([]byte, ySize),
		U:       make([]byte, uvSize),
		V:       make([]byte, uvSize),
		Width:   width,
		Height:  height,
		StrideY: width,
		StrideU: width / 2,
		StrideV: width / 2,
		Format:  PixelFormatI420,
	}
}

// ToVideoFrame creates a VideoFrame pointing to this buffer's data.
// The returned frame is only valid while the buffer is not modified.
func (b *VideoFrameBuffer) ToVideoFrame() VideoFrame {
	return VideoFrame{
		Data:   [][]byte{b.Y, b.U, b.V},
		Stride: []int{b.StrideY, b.StrideU, b.StrideV},
		Width:  b.Width,
		Height: b.Height,
		Format: b.Format,
		PTS:    b.PTS,
	}
}

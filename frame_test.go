package simcast

import (
	"testing"
	"time"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatI420, "I420"},
		{PixelFormatNV12, "NV12"},
		{PixelFormat(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_PlaneCount(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   int
	}{
		{PixelFormatI420, 3},
		{PixelFormatNV12, 2},
		{PixelFormat(99), 0},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.PlaneCount(); got != tt.want {
				t.Errorf("PixelFormat.PlaneCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{2, 2, 6},
		{1080, 1920, 1080 * 1920 * 3 / 2},
		{16, 16, 384},
	}
	for _, tt := range tests {
		if got := I420Size(tt.w, tt.h); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestNewBlankFrame(t *testing.T) {
	frame := NewBlankFrame(16, 8)

	if frame.Width != 16 || frame.Height != 8 {
		t.Errorf("dims = %dx%d, want 16x8", frame.Width, frame.Height)
	}
	if frame.Format != PixelFormatI420 {
		t.Errorf("format = %v, want I420", frame.Format)
	}
	if len(frame.Data) != 3 {
		t.Fatalf("planes = %d, want 3", len(frame.Data))
	}
	if len(frame.Data[0]) != 16*8 || len(frame.Data[1]) != 8*4 || len(frame.Data[2]) != 8*4 {
		t.Errorf("plane sizes = %d/%d/%d", len(frame.Data[0]), len(frame.Data[1]), len(frame.Data[2]))
	}
	// Black in video range: Y=16, neutral chroma.
	for _, y := range frame.Data[0] {
		if y != 16 {
			t.Fatalf("Y plane value = %d, want 16", y)
		}
	}
	for plane := 1; plane <= 2; plane++ {
		for _, c := range frame.Data[plane] {
			if c != 128 {
				t.Fatalf("chroma plane %d value = %d, want 128", plane, c)
			}
		}
	}
	if frame.Stride[0] != 16 || frame.Stride[1] != 8 || frame.Stride[2] != 8 {
		t.Errorf("strides = %v, want [16 8 8]", frame.Stride)
	}
}

func TestFrame_Clone(t *testing.T) {
	orig := &Frame{
		Timestamp:     123,
		Data:          []byte{1, 2, 3},
		Keyframe:      true,
		ParameterSets: []byte{4, 5},
		ReceivedAt:    time.Now(),
	}
	clone := orig.Clone()

	clone.Data[0] = 99
	clone.ParameterSets[0] = 99
	if orig.Data[0] != 1 || orig.ParameterSets[0] != 4 {
		t.Error("Clone() shares buffers with the original")
	}
	if clone.Timestamp != orig.Timestamp || clone.Keyframe != orig.Keyframe {
		t.Error("Clone() lost scalar fields")
	}
}

func TestVideoFrame_Clone(t *testing.T) {
	orig := NewBlankFrame(8, 8)
	orig.PTS = 3000
	clone := orig.Clone()

	clone.Data[0][0] = 200
	if orig.Data[0][0] != 16 {
		t.Error("Clone() shares plane buffers with the original")
	}
	if clone.PTS != 3000 || clone.Width != 8 || clone.Height != 8 {
		t.Error("Clone() lost fields")
	}
}

func TestVideoFrameBuffer_ToVideoFrame(t *testing.T) {
	buf := NewVideoFrameBuffer(16, 8)
	buf.PTS = 123
	frame := buf.ToVideoFrame()

	if frame.Width != 16 || frame.Height != 8 || frame.PTS != 123 {
		t.Errorf("frame = %dx%d pts %d, want 16x8 pts 123", frame.Width, frame.Height, frame.PTS)
	}
	if len(frame.Data) != 3 {
		t.Fatalf("planes = %d, want 3", len(frame.Data))
	}
	if frame.Stride[0] != buf.StrideY || frame.Stride[1] != buf.StrideU {
		t.Errorf("strides = %v", frame.Stride)
	}
}

func TestEncodedFrame_IsKeyframe(t *testing.T) {
	key := &EncodedFrame{FrameType: FrameTypeKey}
	delta := &EncodedFrame{FrameType: FrameTypeDelta}
	if !key.IsKeyframe() || delta.IsKeyframe() {
		t.Error("IsKeyframe() classification wrong")
	}
}

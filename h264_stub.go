//go:build !((darwin || linux) && !noh264)

package simcast

// Stubs for platforms without the native H.264 binding.

func IsH264Available() bool        { return false }
func IsH264EncoderAvailable() bool { return false }
func IsH264DecoderAvailable() bool { return false }

// H264Encoder is unavailable without the native binding.
type H264Encoder struct{}

func NewH264Encoder(config VideoEncoderConfig) (*H264Encoder, error) {
	return nil, ErrNotSupported
}

func (e *H264Encoder) Encode(frame *VideoFrame) (*EncodedFrame, error) { return nil, ErrNotSupported }
func (e *H264Encoder) RequestKeyframe()                                {}
func (e *H264Encoder) SetBitrate(bitrateBps int) error                 { return ErrNotSupported }
func (e *H264Encoder) SPS() []byte                                     { return nil }
func (e *H264Encoder) PPS() []byte                                     { return nil }
func (e *H264Encoder) Config() VideoEncoderConfig                      { return VideoEncoderConfig{} }
func (e *H264Encoder) Stats() EncoderStats                             { return EncoderStats{} }
func (e *H264Encoder) Close() error                                    { return nil }

func NewH264Decoder(config VideoDecoderConfig) (VideoDecoder, error) {
	return nil, ErrNotSupported
}

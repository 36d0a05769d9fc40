// Package simcast relays an iOS device or simulator screen to browser
// viewers in real time and routes their input back to the device.
//
// Key pieces include:
//   - Receiver/RTMPSource: ingest of H.264 video over WebSocket or RTMP
//   - FrameQueue: bounded drop-oldest buffer between ingest and decode
//   - DecoderSession/Pipeline: keyframe-gated decode with steady output cadence
//   - WebRTCServer: per-viewer encode and RTP delivery via pion/webrtc
//   - ControlChannel/WDAManager: touch and key input through WebDriverAgent
//
// # Architecture
//
//	Capture app -> Receiver/RTMPSource -> FrameQueue -> DecoderSession -> WebRTCServer -> browser
//	Browser -> ControlChannel -> CoordinateTranslator -> WDAManager -> device
//
// # Native Libraries
//
// H.264 encode/decode loads libmedia_h264 via purego (CGO_ENABLED=0).
// Set SIMCAST_H264_LIB_PATH to the directory containing the library.
// The noh264 build tag disables the binding.
package simcast

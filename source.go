package simcast

import "context"

// FrameSource delivers encoded video from a capture endpoint into the
// pipeline. Implementations own their transport (WebSocket server,
// RTMP listener) and feed parsed messages to Pipeline.HandleMessage.
type FrameSource interface {
	// Start begins accepting connections. It returns once the listener
	// is up; delivery happens on background goroutines until the
	// context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop shuts the source down and disconnects any active publisher.
	Stop() error

	// Connected reports whether a publisher is currently streaming.
	Connected() bool
}

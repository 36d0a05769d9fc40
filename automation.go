package simcast

import "errors"

// ErrNotConnected is returned by automation operations when the
// device backend is unreachable.
var ErrNotConnected = errors.New("device automation not connected")

// DeviceButton names a hardware button for PressButton.
type DeviceButton string

const (
	ButtonHome       DeviceButton = "home"
	ButtonVolumeUp   DeviceButton = "volumeUp"
	ButtonVolumeDown DeviceButton = "volumeDown"
)

// DeviceAutomation dispatches touch and key input to a device.
// Coordinates are device points; translation from video pixels happens
// before calls reach this interface.
type DeviceAutomation interface {
	// Connected reports whether the backend is reachable.
	Connected() bool

	// Tap performs a single tap at (x, y).
	Tap(x, y int) error

	// DoubleTap performs two quick taps at (x, y).
	DoubleTap(x, y int) error

	// LongPress holds a touch at (x, y) for durationMs milliseconds.
	LongPress(x, y int, durationMs int) error

	// Swipe drags from (x1, y1) to (x2, y2) over durationMs milliseconds.
	Swipe(x1, y1, x2, y2 int, durationMs int) error

	// PressButton presses a hardware button.
	PressButton(button DeviceButton) error

	// TypeText types a string into the focused element.
	TypeText(text string) error

	// LaunchApp launches an app by bundle identifier.
	LaunchApp(bundleID string) error

	// DeviceInfo returns backend-specific device details.
	DeviceInfo() (map[string]any, error)

	// ScreenSize returns the screen size and the pixel-to-point scale
	// the backend's coordinates use.
	ScreenSize() (width, height int, scale float64, err error)
}

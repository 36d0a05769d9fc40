package simcast

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Command is a control-channel command. Exactly one variant is set,
// selected by the wire "type" field.
type Command struct {
	Tap         *TapCommand
	DoubleTap   *TapCommand
	LongPress   *LongPressCommand
	Swipe       *SwipeCommand
	Scroll      *ScrollCommand
	PressButton *PressButtonCommand
	TypeText    *TypeTextCommand
	LaunchApp   *LaunchAppCommand
	Status      bool

	// VideoWidth/VideoHeight are the dimensions the client's
	// coordinates are expressed in. Zero means untranslated.
	VideoWidth  int
	VideoHeight int

	wireType string
}

type TapCommand struct {
	X int
	Y int
}

type LongPressCommand struct {
	X          int
	Y          int
	DurationMs int
}

type SwipeCommand struct {
	X1         int
	Y1         int
	X2         int
	Y2         int
	DurationMs int
}

type ScrollCommand struct {
	X      int
	Y      int
	DeltaX int
	DeltaY int
}

type PressButtonCommand struct {
	Button DeviceButton
}

type TypeTextCommand struct {
	Text string
}

type LaunchAppCommand struct {
	BundleID string
}

// commandEnvelope is the raw wire shape; every field of every variant
// lives here and ParseCommand picks out the relevant ones.
type commandEnvelope struct {
	Type        string  `json:"type"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	X2          int     `json:"x2"`
	Y2          int     `json:"y2"`
	DeltaX      int     `json:"deltaX"`
	DeltaY      int     `json:"deltaY"`
	Duration    float64 `json:"duration"` // seconds
	Button      string  `json:"button"`
	Text        string  `json:"text"`
	BundleID    string  `json:"bundleId"`
	VideoWidth  int     `json:"videoWidth"`
	VideoHeight int     `json:"videoHeight"`
}

// ParseCommand decodes one control message. Unknown types are errors;
// the client gets them back on the error channel rather than being
// silently ignored.
func ParseCommand(data []byte) (*Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	cmd := &Command{
		VideoWidth:  env.VideoWidth,
		VideoHeight: env.VideoHeight,
		wireType:    env.Type,
	}
	durationMs := int(env.Duration * 1000)

	switch env.Type {
	case "tap":
		cmd.Tap = &TapCommand{X: env.X, Y: env.Y}
	case "doubletap":
		cmd.DoubleTap = &TapCommand{X: env.X, Y: env.Y}
	case "longpress":
		if durationMs <= 0 {
			durationMs = 1000
		}
		cmd.LongPress = &LongPressCommand{X: env.X, Y: env.Y, DurationMs: durationMs}
	case "swipe":
		if durationMs <= 0 {
			durationMs = 300
		}
		cmd.Swipe = &SwipeCommand{X1: env.X, Y1: env.Y, X2: env.X2, Y2: env.Y2, DurationMs: durationMs}
	case "scroll":
		cmd.Scroll = &ScrollCommand{X: env.X, Y: env.Y, DeltaX: env.DeltaX, DeltaY: env.DeltaY}
	case "pressbutton":
		switch DeviceButton(env.Button) {
		case ButtonHome, ButtonVolumeUp, ButtonVolumeDown:
			cmd.PressButton = &PressButtonCommand{Button: DeviceButton(env.Button)}
		default:
			return nil, fmt.Errorf("unknown button %q", env.Button)
		}
	case "typetext":
		cmd.TypeText = &TypeTextCommand{Text: env.Text}
	case "launchapp":
		if env.BundleID == "" {
			return nil, fmt.Errorf("launchapp requires bundleId")
		}
		cmd.LaunchApp = &LaunchAppCommand{BundleID: env.BundleID}
	case "status":
		cmd.Status = true
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
	return cmd, nil
}

// scrollSwipeDistance is how far (in video pixels) a scroll gesture
// swipes on the device.
const scrollSwipeDistance = 100

// scrollSwipeDurationMs is the duration of a scroll-derived swipe.
const scrollSwipeDurationMs = 200

// ControlChannel serves the control WebSocket: it parses commands,
// translates coordinates, and dispatches to the automation backend.
type ControlChannel struct {
	automation DeviceAutomation
	translator *CoordinateTranslator
	pipeline   *Pipeline
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewControlChannel creates a control channel.
func NewControlChannel(automation DeviceAutomation, translator *CoordinateTranslator, pipeline *Pipeline) *ControlChannel {
	return &ControlChannel{
		automation: automation,
		translator: translator,
		pipeline:   pipeline,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// ServeHTTP upgrades the request and runs the control loop.
func (c *ControlChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control: upgrade failed: %v", err)
		return
	}
	wmu := &sync.Mutex{}

	c.mu.Lock()
	c.conns[conn] = wmu
	c.mu.Unlock()

	log.Printf("control: client connected from %s", conn.RemoteAddr())
	c.sendStatus(conn, wmu)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleMessage(conn, wmu, data)
	}

	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	conn.Close()
	log.Printf("control: client disconnected")
}

func (c *ControlChannel) handleMessage(conn *websocket.Conn, wmu *sync.Mutex, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		c.sendJSON(conn, wmu, map[string]any{
			"type":  "error",
			"error": err.Error(),
		})
		return
	}

	if cmd.Status {
		c.sendStatus(conn, wmu)
		return
	}

	if err := c.dispatch(cmd); err != nil {
		c.sendJSON(conn, wmu, map[string]any{
			"type":    "error",
			"error":   err.Error(),
			"command": cmd.wireType,
		})
		return
	}
	c.sendJSON(conn, wmu, map[string]any{
		"type":    "result",
		"success": true,
		"command": cmd.wireType,
	})
}

// dispatch translates coordinates and invokes the automation backend.
func (c *ControlChannel) dispatch(cmd *Command) error {
	vw, vh := cmd.VideoWidth, cmd.VideoHeight
	if vw <= 0 || vh <= 0 {
		// Client didn't say; assume the pipeline's current output size.
		vw, vh = c.pipeline.Dimensions()
	}

	switch {
	case cmd.Tap != nil:
		x, y := c.translator.Point(cmd.Tap.X, cmd.Tap.Y, vw, vh)
		return c.automation.Tap(x, y)
	case cmd.DoubleTap != nil:
		x, y := c.translator.Point(cmd.DoubleTap.X, cmd.DoubleTap.Y, vw, vh)
		return c.automation.DoubleTap(x, y)
	case cmd.LongPress != nil:
		x, y := c.translator.Point(cmd.LongPress.X, cmd.LongPress.Y, vw, vh)
		return c.automation.LongPress(x, y, cmd.LongPress.DurationMs)
	case cmd.Swipe != nil:
		x1, y1 := c.translator.Point(cmd.Swipe.X1, cmd.Swipe.Y1, vw, vh)
		x2, y2 := c.translator.Point(cmd.Swipe.X2, cmd.Swipe.Y2, vw, vh)
		return c.automation.Swipe(x1, y1, x2, y2, cmd.Swipe.DurationMs)
	case cmd.Scroll != nil:
		x, y := c.translator.Point(cmd.Scroll.X, cmd.Scroll.Y, vw, vh)
		dx, dy := scrollDelta(cmd.Scroll)
		dx, dy = c.translator.Delta(dx, dy, vw, vh)
		return c.automation.Swipe(x, y, x+dx, y+dy, scrollSwipeDurationMs)
	case cmd.PressButton != nil:
		return c.automation.PressButton(cmd.PressButton.Button)
	case cmd.TypeText != nil:
		return c.automation.TypeText(cmd.TypeText.Text)
	case cmd.LaunchApp != nil:
		return c.automation.LaunchApp(cmd.LaunchApp.BundleID)
	default:
		return fmt.Errorf("empty command")
	}
}

// scrollDelta converts a wheel scroll to a fixed-distance swipe delta
// on the dominant axis, in video pixels. The swipe moves opposite to
// the delta sign: scrolling down (positive deltaY) drags content up.
func scrollDelta(s *ScrollCommand) (dx, dy int) {
	if abs(s.DeltaY) >= abs(s.DeltaX) {
		switch {
		case s.DeltaY > 0:
			return 0, -scrollSwipeDistance
		case s.DeltaY < 0:
			return 0, scrollSwipeDistance
		}
		return 0, 0
	}
	if s.DeltaX > 0 {
		return -scrollSwipeDistance, 0
	}
	return scrollSwipeDistance, 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (c *ControlChannel) statusPayload() map[string]any {
	g := c.translator.Geometry()
	status := map[string]any{
		"type":         "status",
		"wdaConnected": c.automation.Connected(),
		"screenWidth":  g.DeviceWidth,
		"screenHeight": g.DeviceHeight,
	}
	if info := c.pipeline.DeviceInfo(); info != nil {
		status["deviceInfo"] = info
	}
	return status
}

func (c *ControlChannel) sendStatus(conn *websocket.Conn, wmu *sync.Mutex) {
	c.sendJSON(conn, wmu, c.statusPayload())
}

// BroadcastStatus pushes the current status to all control clients.
// Called when the automation backend connects or disconnects.
func (c *ControlChannel) BroadcastStatus() {
	payload := c.statusPayload()

	c.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(c.conns))
	for conn, wmu := range c.conns {
		conns[conn] = wmu
	}
	c.mu.Unlock()

	for conn, wmu := range conns {
		c.sendJSON(conn, wmu, payload)
	}
}

func (c *ControlChannel) sendJSON(conn *websocket.Conn, wmu *sync.Mutex, v any) {
	wmu.Lock()
	defer wmu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		log.Printf("control: write failed: %v", err)
	}
}

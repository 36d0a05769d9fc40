package simcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// WDAClient is a minimal WebDriverAgent REST client. It creates one
// session and dispatches W3C pointer actions and WDA extension
// endpoints against it.
type WDAClient struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewWDAClient creates a client for a WebDriverAgent instance at
// baseURL (e.g. "http://localhost:8100").
func NewWDAClient(baseURL string) *WDAClient {
	return &WDAClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status checks whether WebDriverAgent is responding.
func (c *WDAClient) Status() error {
	resp, err := c.http.Get(c.baseURL + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wda status: HTTP %d", resp.StatusCode)
	}
	return nil
}

// CreateSession establishes a WebDriverAgent session.
func (c *WDAClient) CreateSession() error {
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{},
			"firstMatch":  []any{map[string]any{}},
		},
	}
	var result struct {
		SessionID string `json:"sessionId"`
		Value     struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := c.post("/session", body, &result); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	id := result.Value.SessionID
	if id == "" {
		id = result.SessionID
	}
	if id == "" {
		return fmt.Errorf("create session: no session id in response")
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	return nil
}

// SessionID returns the active session id, or "".
func (c *WDAClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// WindowSize returns the device screen size in points.
func (c *WDAClient) WindowSize() (width, height int, err error) {
	sid := c.SessionID()
	if sid == "" {
		return 0, 0, ErrNotConnected
	}
	var result struct {
		Value struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"value"`
	}
	if err := c.get("/session/"+sid+"/window/size", &result); err != nil {
		return 0, 0, err
	}
	return int(result.Value.Width), int(result.Value.Height), nil
}

// pointerAction is one step in a W3C pointer action sequence.
type pointerAction map[string]any

func (c *WDAClient) performActions(actions []pointerAction) error {
	sid := c.SessionID()
	if sid == "" {
		return ErrNotConnected
	}
	body := map[string]any{
		"actions": []any{
			map[string]any{
				"type": "pointer",
				"id":   "finger1",
				"parameters": map[string]any{
					"pointerType": "touch",
				},
				"actions": actions,
			},
		},
	}
	return c.post("/session/"+sid+"/actions", body, nil)
}

// Tap taps at (x, y) in points.
func (c *WDAClient) Tap(x, y int) error {
	return c.performActions([]pointerAction{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	})
}

// DoubleTap performs two quick taps at (x, y).
func (c *WDAClient) DoubleTap(x, y int) error {
	return c.performActions([]pointerAction{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
		{"type": "pause", "duration": 100},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	})
}

// LongPress holds a touch at (x, y) for durationMs milliseconds.
func (c *WDAClient) LongPress(x, y int, durationMs int) error {
	return c.performActions([]pointerAction{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": durationMs},
		{"type": "pointerUp", "button": 0},
	})
}

// Swipe drags from (x1, y1) to (x2, y2) over durationMs milliseconds.
func (c *WDAClient) Swipe(x1, y1, x2, y2 int, durationMs int) error {
	return c.performActions([]pointerAction{
		{"type": "pointerMove", "duration": 0, "x": x1, "y": y1},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerMove", "duration": durationMs, "x": x2, "y": y2},
		{"type": "pointerUp", "button": 0},
	})
}

// PressButton presses a hardware button (home, volumeUp, volumeDown).
func (c *WDAClient) PressButton(button DeviceButton) error {
	sid := c.SessionID()
	if sid == "" {
		return ErrNotConnected
	}
	return c.post("/session/"+sid+"/wda/pressButton", map[string]any{
		"name": string(button),
	}, nil)
}

// TypeText types text into the focused element.
func (c *WDAClient) TypeText(text string) error {
	sid := c.SessionID()
	if sid == "" {
		return ErrNotConnected
	}
	chars := make([]string, 0, len(text))
	for _, r := range text {
		chars = append(chars, string(r))
	}
	return c.post("/session/"+sid+"/wda/keys", map[string]any{
		"value": chars,
	}, nil)
}

// LaunchApp launches an app by bundle identifier.
func (c *WDAClient) LaunchApp(bundleID string) error {
	sid := c.SessionID()
	if sid == "" {
		return ErrNotConnected
	}
	return c.post("/session/"+sid+"/wda/apps/launch", map[string]any{
		"bundleId": bundleID,
	}, nil)
}

// DeviceInfo returns WDA's device description.
func (c *WDAClient) DeviceInfo() (map[string]any, error) {
	sid := c.SessionID()
	if sid == "" {
		return nil, ErrNotConnected
	}
	var result struct {
		Value map[string]any `json:"value"`
	}
	if err := c.get("/session/"+sid+"/wda/device/info", &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

func (c *WDAClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return c.decode(resp, out)
}

func (c *WDAClient) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return c.decode(resp, out)
}

func (c *WDAClient) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("wda: HTTP %d: %s", resp.StatusCode, data)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wdaReconnectInterval is how often the manager retries a dead WDA.
const wdaReconnectInterval = 5 * time.Second

// WDAManager maintains a WebDriverAgent connection with automatic
// reconnection and implements DeviceAutomation on top of it. WDA
// reports coordinates in points, so ScreenSize returns scale 1.
type WDAManager struct {
	client *WDAClient

	mu        sync.Mutex
	connected bool
	width     int
	height    int

	onConnect func(width, height int)
}

// NewWDAManager creates a manager for the WDA instance at baseURL.
func NewWDAManager(baseURL string) *WDAManager {
	return &WDAManager{client: NewWDAClient(baseURL)}
}

// OnConnect registers a callback invoked with the screen size each
// time a session is (re)established.
func (m *WDAManager) OnConnect(fn func(width, height int)) {
	m.onConnect = fn
}

// Run maintains the connection until the context is cancelled.
func (m *WDAManager) Run(ctx context.Context) {
	ticker := time.NewTicker(wdaReconnectInterval)
	defer ticker.Stop()

	m.tryConnect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Connected() {
				if err := m.client.Status(); err != nil {
					log.Printf("wda: connection lost: %v", err)
					m.mu.Lock()
					m.connected = false
					m.mu.Unlock()
				}
				continue
			}
			m.tryConnect()
		}
	}
}

func (m *WDAManager) tryConnect() {
	if err := m.client.Status(); err != nil {
		return
	}
	if err := m.client.CreateSession(); err != nil {
		log.Printf("wda: session: %v", err)
		return
	}
	w, h, err := m.client.WindowSize()
	if err != nil {
		log.Printf("wda: window size: %v", err)
		return
	}

	m.mu.Lock()
	m.connected = true
	m.width = w
	m.height = h
	m.mu.Unlock()

	log.Printf("wda: connected, screen %dx%d points", w, h)
	if m.onConnect != nil {
		m.onConnect(w, h)
	}
}

// Connected reports whether a WDA session is active.
func (m *WDAManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *WDAManager) guard() error {
	if !m.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (m *WDAManager) Tap(x, y int) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.Tap(x, y)
}

func (m *WDAManager) DoubleTap(x, y int) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.DoubleTap(x, y)
}

func (m *WDAManager) LongPress(x, y int, durationMs int) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.LongPress(x, y, durationMs)
}

func (m *WDAManager) Swipe(x1, y1, x2, y2 int, durationMs int) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.Swipe(x1, y1, x2, y2, durationMs)
}

func (m *WDAManager) PressButton(button DeviceButton) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.PressButton(button)
}

func (m *WDAManager) TypeText(text string) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.TypeText(text)
}

func (m *WDAManager) LaunchApp(bundleID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.LaunchApp(bundleID)
}

func (m *WDAManager) DeviceInfo() (map[string]any, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.client.DeviceInfo()
}

func (m *WDAManager) ScreenSize() (width, height int, scale float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, 0, 0, ErrNotConnected
	}
	return m.width, m.height, 1, nil
}

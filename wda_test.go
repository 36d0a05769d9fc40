package simcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeWDA is an httptest stand-in for WebDriverAgent.
type fakeWDA struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	method string
	path   string
	body   map[string]any
}

func (f *fakeWDA) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{"ready": true}})
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"sessionId": "test-session"},
		})
	})
	mux.HandleFunc("/session/test-session/window/size", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"width": 390, "height": 844},
		})
	})
	mux.HandleFunc("/session/test-session/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(map[string]any{"value": nil})
	})
	return mux
}

func (f *fakeWDA) record(r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{method: r.Method, path: r.URL.Path, body: body})
	f.mu.Unlock()
}

func (f *fakeWDA) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return recordedRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func newTestWDAClient(t *testing.T) (*WDAClient, *fakeWDA) {
	t.Helper()
	fake := &fakeWDA{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	c := NewWDAClient(srv.URL)
	if err := c.CreateSession(); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return c, fake
}

func TestWDAClient_CreateSession(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if c.SessionID() != "test-session" {
		t.Errorf("SessionID() = %q, want test-session", c.SessionID())
	}

	req := fake.last()
	caps, ok := req.body["capabilities"].(map[string]any)
	if !ok {
		t.Fatalf("session request body = %v, want capabilities", req.body)
	}
	if _, ok := caps["alwaysMatch"]; !ok {
		t.Error("capabilities missing alwaysMatch")
	}
}

func TestWDAClient_WindowSize(t *testing.T) {
	c, _ := newTestWDAClient(t)
	w, h, err := c.WindowSize()
	if err != nil {
		t.Fatalf("WindowSize() error = %v", err)
	}
	if w != 390 || h != 844 {
		t.Errorf("WindowSize() = %dx%d, want 390x844", w, h)
	}
}

// actionSteps digs the pointer action list out of a recorded /actions body.
func actionSteps(t *testing.T, req recordedRequest) []map[string]any {
	t.Helper()
	actions, ok := req.body["actions"].([]any)
	if !ok || len(actions) != 1 {
		t.Fatalf("actions body = %v", req.body)
	}
	pointer := actions[0].(map[string]any)
	if pointer["type"] != "pointer" {
		t.Fatalf("action type = %v, want pointer", pointer["type"])
	}
	raw := pointer["actions"].([]any)
	steps := make([]map[string]any, len(raw))
	for i, s := range raw {
		steps[i] = s.(map[string]any)
	}
	return steps
}

func TestWDAClient_Tap(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if err := c.Tap(100, 200); err != nil {
		t.Fatalf("Tap() error = %v", err)
	}

	req := fake.last()
	if req.path != "/session/test-session/actions" {
		t.Fatalf("path = %s, want /session/test-session/actions", req.path)
	}
	steps := actionSteps(t, req)
	wantTypes := []string{"pointerMove", "pointerDown", "pause", "pointerUp"}
	if len(steps) != len(wantTypes) {
		t.Fatalf("got %d steps, want %d", len(steps), len(wantTypes))
	}
	for i, want := range wantTypes {
		if steps[i]["type"] != want {
			t.Errorf("step %d type = %v, want %s", i, steps[i]["type"], want)
		}
	}
	if steps[0]["x"].(float64) != 100 || steps[0]["y"].(float64) != 200 {
		t.Errorf("move step = %v, want x=100 y=200", steps[0])
	}
}

func TestWDAClient_Swipe(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if err := c.Swipe(10, 20, 30, 40, 250); err != nil {
		t.Fatalf("Swipe() error = %v", err)
	}

	steps := actionSteps(t, fake.last())
	if len(steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(steps))
	}
	move := steps[2]
	if move["type"] != "pointerMove" || move["duration"].(float64) != 250 {
		t.Errorf("drag step = %v, want pointerMove with duration 250", move)
	}
	if move["x"].(float64) != 30 || move["y"].(float64) != 40 {
		t.Errorf("drag step = %v, want x=30 y=40", move)
	}
}

func TestWDAClient_LongPress(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if err := c.LongPress(5, 6, 1500); err != nil {
		t.Fatalf("LongPress() error = %v", err)
	}
	steps := actionSteps(t, fake.last())
	if steps[2]["type"] != "pause" || steps[2]["duration"].(float64) != 1500 {
		t.Errorf("hold step = %v, want pause of 1500ms", steps[2])
	}
}

func TestWDAClient_PressButton(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if err := c.PressButton(ButtonHome); err != nil {
		t.Fatalf("PressButton() error = %v", err)
	}
	req := fake.last()
	if req.path != "/session/test-session/wda/pressButton" {
		t.Errorf("path = %s", req.path)
	}
	if req.body["name"] != "home" {
		t.Errorf("body = %v, want name=home", req.body)
	}
}

func TestWDAClient_TypeText(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if err := c.TypeText("hi!"); err != nil {
		t.Fatalf("TypeText() error = %v", err)
	}
	req := fake.last()
	value, ok := req.body["value"].([]any)
	if !ok || len(value) != 3 {
		t.Fatalf("body = %v, want value with 3 chars", req.body)
	}
	if value[0] != "h" || value[1] != "i" || value[2] != "!" {
		t.Errorf("value = %v, want [h i !]", value)
	}
}

func TestWDAClient_LaunchApp(t *testing.T) {
	c, fake := newTestWDAClient(t)
	if err := c.LaunchApp("com.example.app"); err != nil {
		t.Fatalf("LaunchApp() error = %v", err)
	}
	req := fake.last()
	if req.path != "/session/test-session/wda/apps/launch" {
		t.Errorf("path = %s", req.path)
	}
	if req.body["bundleId"] != "com.example.app" {
		t.Errorf("body = %v", req.body)
	}
}

func TestWDAClient_NoSession(t *testing.T) {
	c := NewWDAClient("http://127.0.0.1:1")
	if err := c.Tap(1, 2); err != ErrNotConnected {
		t.Errorf("Tap() error = %v, want ErrNotConnected", err)
	}
	if _, _, err := c.WindowSize(); err != ErrNotConnected {
		t.Errorf("WindowSize() error = %v, want ErrNotConnected", err)
	}
}

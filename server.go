package simcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server is the viewer-facing HTTP server: it serves the player page,
// the WebRTC signaling endpoint, the control WebSocket, and a status
// JSON endpoint.
type Server struct {
	addr       string
	pipeline   *Pipeline
	webrtc     *WebRTCServer
	control    *ControlChannel
	automation DeviceAutomation
	source     FrameSource

	mu   sync.Mutex
	http *http.Server
}

// NewServer wires the viewer endpoints together.
func NewServer(addr string, pipeline *Pipeline, webrtcSrv *WebRTCServer, control *ControlChannel, automation DeviceAutomation, source FrameSource) *Server {
	return &Server{
		addr:       addr,
		pipeline:   pipeline,
		webrtc:     webrtcSrv,
		control:    control,
		automation: automation,
		source:     source,
	}
}

// Start begins serving. It returns once the listener is up.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTML)
	mux.HandleFunc("/offer", s.webrtc.HandleOffer)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/control", s.control)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	log.Printf("server: listening on %s", s.addr)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.pipeline.Stats()
	status := map[string]any{
		"streaming":    s.source.Connected(),
		"viewers":      s.webrtc.Viewers(),
		"wdaConnected": s.automation.Connected(),
		"pipeline":     stats,
	}
	if info := s.pipeline.DeviceInfo(); info != nil {
		status["deviceInfo"] = info
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) serveHTML(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprint(w, viewerPage)
}

const viewerPage = `<!DOCTYPE html>
<html>
<head>
    <title>simcast</title>
    <style>
        body { font-family: system-ui; max-width: 520px; margin: 40px auto; padding: 20px; background: #1a1a2e; color: #eee; }
        h1 { color: #6bcb77; }
        video { width: 100%; background: #000; border-radius: 8px; cursor: crosshair; }
        .controls { margin: 15px 0; display: flex; gap: 10px; flex-wrap: wrap; }
        button { padding: 10px 20px; background: #333; color: #fff; border: 1px solid #555; border-radius: 4px; cursor: pointer; }
        button:hover { background: #444; }
        .status { padding: 10px; background: #252540; border-radius: 4px; margin: 10px 0; font-family: monospace; font-size: 13px; }
    </style>
</head>
<body>
    <h1>simcast</h1>
    <div id="status" class="status">Disconnected</div>
    <video id="video" autoplay playsinline muted></video>
    <div class="controls">
        <button onclick="connect()">Connect</button>
        <button onclick="sendButton('home')">Home</button>
        <button onclick="sendButton('volumeUp')">Vol +</button>
        <button onclick="sendButton('volumeDown')">Vol -</button>
    </div>
<script>
let pc, ws;
const video = document.getElementById('video');

async function connect() {
    pc = new RTCPeerConnection();
    pc.ontrack = e => video.srcObject = new MediaStream([e.track]);
    pc.addTransceiver('video', {direction: 'recvonly'});
    const offer = await pc.createOffer();
    await pc.setLocalDescription(offer);
    await new Promise(r => { pc.onicecandidate = e => !e.candidate && r(); setTimeout(r, 1000); });
    const resp = await fetch('/offer', {method: 'POST', body: JSON.stringify(pc.localDescription)});
    await pc.setRemoteDescription(await resp.json());

    ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/control');
    ws.onmessage = e => {
        const msg = JSON.parse(e.data);
        if (msg.type === 'status') {
            document.getElementById('status').textContent =
                'WDA: ' + (msg.wdaConnected ? 'connected' : 'disconnected') +
                ' | screen: ' + msg.screenWidth + 'x' + msg.screenHeight;
        }
    };
}

function videoCoords(e) {
    const rect = video.getBoundingClientRect();
    const x = Math.round((e.clientX - rect.left) * video.videoWidth / rect.width);
    const y = Math.round((e.clientY - rect.top) * video.videoHeight / rect.height);
    return {x, y, videoWidth: video.videoWidth, videoHeight: video.videoHeight};
}

function send(cmd) {
    if (ws && ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(cmd));
}

function sendButton(name) {
    send({type: 'pressbutton', button: name});
}

let downAt = null;
video.addEventListener('mousedown', e => { downAt = {coords: videoCoords(e), t: Date.now()}; });
video.addEventListener('mouseup', e => {
    if (!downAt) return;
    const up = videoCoords(e);
    const held = Date.now() - downAt.t;
    const dx = up.x - downAt.coords.x, dy = up.y - downAt.coords.y;
    if (Math.abs(dx) > 10 || Math.abs(dy) > 10) {
        send({type: 'swipe', x: downAt.coords.x, y: downAt.coords.y, x2: up.x, y2: up.y,
              duration: held / 1000, videoWidth: up.videoWidth, videoHeight: up.videoHeight});
    } else if (held > 500) {
        send({type: 'longpress', ...downAt.coords, duration: held / 1000});
    } else {
        send({type: 'tap', ...downAt.coords});
    }
    downAt = null;
});
video.addEventListener('dblclick', e => send({type: 'doubletap', ...videoCoords(e)}));
video.addEventListener('wheel', e => {
    e.preventDefault();
    const c = videoCoords(e);
    send({type: 'scroll', ...c, deltaX: Math.round(e.deltaX), deltaY: Math.round(e.deltaY)});
}, {passive: false});

setInterval(async () => {
    try {
        const s = await (await fetch('/status')).json();
        if (!ws || ws.readyState !== WebSocket.OPEN) {
            document.getElementById('status').textContent =
                (s.streaming ? 'Streaming' : 'Waiting for stream') + ' | viewers: ' + s.viewers;
        }
    } catch {}
}, 2000);
</script>
</body>
</html>
`

package simcast

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Receiver is the WebSocket ingest endpoint for on-device capture
// apps. It runs its own HTTP server so capture traffic stays off the
// viewer port, accepts a single publisher at a time, and forwards
// every binary message to the pipeline.
type Receiver struct {
	addr     string
	pipeline *Pipeline
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	conn   *websocket.Conn
	wmu    sync.Mutex // serializes writes to conn

	onConnect    func()
	onDisconnect func()
}

// NewReceiver creates a receiver listening on addr (e.g. ":8765").
func NewReceiver(addr string, pipeline *Pipeline) *Receiver {
	return &Receiver{
		addr:     addr,
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// OnConnect registers a callback invoked when a publisher connects.
func (r *Receiver) OnConnect(fn func()) { r.onConnect = fn }

// OnDisconnect registers a callback invoked when the publisher drops.
func (r *Receiver) OnDisconnect(fn func()) { r.onDisconnect = fn }

// Start begins listening for capture connections.
func (r *Receiver) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleWS)

	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	r.mu.Lock()
	r.server = srv
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("receiver: serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	log.Printf("receiver: listening on %s", r.addr)
	return nil
}

// Stop shuts down the listener and any active connection.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	srv := r.server
	conn := r.conn
	r.server = nil
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

// Connected reports whether a capture source is streaming.
func (r *Receiver) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *Receiver) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("receiver: upgrade failed: %v", err)
		return
	}

	// One publisher at a time. A new connection replaces the old one;
	// the capture app reconnects aggressively so last-writer-wins is
	// the behavior that recovers fastest.
	r.mu.Lock()
	if old := r.conn; old != nil {
		log.Printf("receiver: new publisher, dropping previous connection")
		old.Close()
	}
	r.conn = conn
	r.mu.Unlock()

	log.Printf("receiver: publisher connected from %s", conn.RemoteAddr())
	if r.onConnect != nil {
		r.onConnect()
	}

	reply := func(data []byte) error {
		r.wmu.Lock()
		defer r.wmu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		msg, err := ParseMessage(data)
		if err != nil {
			log.Printf("receiver: bad message: %v", err)
			continue
		}
		r.pipeline.HandleMessage(msg, reply)
	}

	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	stillMine := r.conn == nil
	r.mu.Unlock()
	conn.Close()

	log.Printf("receiver: publisher disconnected")
	if stillMine && r.onDisconnect != nil {
		r.onDisconnect()
	}
}

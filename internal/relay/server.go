package relay

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcast/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the relay's WebSocket listener. Each accepted connection gets
// its own client with read/write pumps; all of them share one Engine.
type Server struct {
	cfg      config.Relay
	engine   *Engine
	listener net.Listener
}

// NewServer creates a relay server with a fresh engine.
func NewServer(cfg config.Relay) *Server {
	return &Server{
		cfg:    cfg,
		engine: NewEngine(),
	}
}

// Engine exposes the routing engine, mainly for tests.
func (s *Server) Engine() *Engine {
	return s.engine
}

// Start begins listening on the configured address. Returns the assigned
// port number (useful when the address requested port 0).
func (s *Server) Start() (int, error) {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(s.engine, conn, s.cfg.SendBuffer, s.cfg.MaxEnvelopeBytes)
	go c.run()
}

// Close shuts down the listener, preventing new connections. Established
// connections drain on their own pumps.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

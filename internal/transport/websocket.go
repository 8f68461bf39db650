package transport

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Consumers connect from app webviews and test harnesses on
		// arbitrary origins.
		return true
	},
}

// WSServer serves the message-framed transport: text frames for sentences,
// binary frames for parameter groups, inbound frames decoded as commands.
type WSServer struct {
	cfg  Config
	addr string
	ln   net.Listener
	srv  *http.Server
}

// NewWSServer prepares a WebSocket listener on addr; Start binds it.
func NewWSServer(addr string, cfg Config) *WSServer {
	return &WSServer{cfg: cfg, addr: addr}
}

// Start binds and serves upgrades at every path.
func (s *WSServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: websocket listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: http.HandlerFunc(s.handle)}
	go s.srv.Serve(ln)
	return nil
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := s.cfg.Hub.Register("websocket", conn.RemoteAddr().String(),
		func(out Outbound) error {
			msgType := websocket.TextMessage
			if out.Binary {
				msgType = websocket.BinaryMessage
			}
			return conn.WriteMessage(msgType, out.Data)
		},
		func() { conn.Close() },
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.Touch()
		s.cfg.handleInbound(data, c.ID())
	}
	s.cfg.Hub.Drop(c, "connection closed")
}

// Stop closes the listener and every connected WebSocket client.
func (s *WSServer) Stop() {
	if s.srv != nil {
		s.srv.Close()
	}
	s.cfg.Hub.DropAll("websocket")
}

// Addr reports the bound address.
func (s *WSServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

package transport

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

const tcpWriteTimeout = 5 * time.Second

// TCPServer serves the stream transport: newline-framed sentences or
// length-prefixed binary groups over plain TCP, the classic WiFi-to-NMEA
// bridge socket.
type TCPServer struct {
	cfg  Config
	addr string
	ln   net.Listener
}

// NewTCPServer prepares a listener on addr; Start binds it.
func NewTCPServer(addr string, cfg Config) *TCPServer {
	return &TCPServer{cfg: cfg, addr: addr}
}

// Start binds and begins accepting. A bind failure is a startup error.
func (s *TCPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: tcp listen %s: %w", s.addr, err)
	}
	s.ln = ln
	go s.acceptLoop()
	return nil
}

func (s *TCPServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}
		go s.handle(conn)
	}
}

func (s *TCPServer) handle(conn net.Conn) {
	c := s.cfg.Hub.Register("tcp", conn.RemoteAddr().String(),
		func(out Outbound) error {
			conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
			_, err := conn.Write(out.Data)
			return err
		},
		func() { conn.Close() },
	)

	// Reader loop: inbound bytes are decoded and forwarded as commands.
	r := bufio.NewReader(conn)
	for {
		frame, err := readWireFrame(r)
		if err != nil {
			break
		}
		c.Touch()
		s.cfg.handleInbound(frame, c.ID())
	}
	s.cfg.Hub.Drop(c, "connection closed")
}

// Stop closes the listener and every connected stream client.
func (s *TCPServer) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.cfg.Hub.DropAll("tcp")
}

// Addr reports the bound address, useful when addr was ":0".
func (s *TCPServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

package transport

import (
	"fmt"
	"net"
	"sync"
)

// UDPServer serves the datagram transport. A consumer subscribes by
// sending any datagram; each subscriber is tracked as a client connection
// and expired by the hub's idle timeout when its keepalives stop. The
// datagram transport is broadcast-only; commands ride the bidirectional
// transports.
type UDPServer struct {
	cfg  Config
	addr string
	conn net.PacketConn

	mu   sync.Mutex
	subs map[string]*Client
}

// NewUDPServer prepares a datagram listener on addr; Start binds it.
func NewUDPServer(addr string, cfg Config) *UDPServer {
	return &UDPServer{cfg: cfg, addr: addr, subs: make(map[string]*Client)}
}

// Start binds and begins reading subscription datagrams.
func (s *UDPServer) Start() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: udp listen %s: %w", s.addr, err)
	}
	s.conn = conn
	go s.readLoop()
	return nil
}

func (s *UDPServer) readLoop() {
	buf := make([]byte, 2048)
	for {
		_, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return // socket closed
		}
		s.subscribe(addr)
	}
}

func (s *UDPServer) subscribe(addr net.Addr) {
	key := addr.String()

	s.mu.Lock()
	if c, ok := s.subs[key]; ok {
		s.mu.Unlock()
		c.Touch()
		return
	}
	s.mu.Unlock()

	c := s.cfg.Hub.Register("udp", key,
		func(out Outbound) error {
			_, err := s.conn.WriteTo(out.Data, addr)
			return err
		},
		func() { s.unsubscribe(key) },
	)

	s.mu.Lock()
	s.subs[key] = c
	s.mu.Unlock()
}

func (s *UDPServer) unsubscribe(key string) {
	s.mu.Lock()
	delete(s.subs, key)
	s.mu.Unlock()
}

// Stop closes the socket and forgets all subscribers.
func (s *UDPServer) Stop() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.cfg.Hub.DropAll("udp")
}

// Addr reports the bound address.
func (s *UDPServer) Addr() string {
	if s.conn == nil {
		return s.addr
	}
	return s.conn.LocalAddr().String()
}

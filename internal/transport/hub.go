package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Outbound is one framed write to a client.
type Outbound struct {
	Data   []byte
	Binary bool
}

// Client is one connected consumer tracked by the hub. The hub owns its
// writer goroutine; the protocol server owns the reader.
type Client struct {
	mu   sync.Mutex
	info models.ClientConnection

	send chan Outbound
	quit chan struct{}
	once sync.Once
	// Datagram subscribers only stay alive through inbound keepalives;
	// a WriteTo to a vanished peer never fails, so successful writes must
	// not count as activity for them.
	writesAreActivity bool
	write             func(Outbound) error
	close             func()
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.info.ID
}

// Touch refreshes the client's activity clock, e.g. on inbound traffic.
func (c *Client) Touch() {
	c.mu.Lock()
	c.info.LastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) snapshot() models.ClientConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Client) recordWrite(n int) {
	c.mu.Lock()
	c.info.BytesSent += int64(n)
	if c.writesAreActivity {
		c.info.LastActivity = time.Now()
	}
	c.mu.Unlock()
}

// Hub is the broadcast fan-out shared by all protocol servers: one
// Broadcast call, N independent per-client bounded queues. A client whose
// queue overflows or whose write fails is disconnected; it is never allowed
// to stall the broadcast path, so delivery latency to healthy clients stays
// independent of the slowest one.
type Hub struct {
	queueDepth  int
	idleTimeout time.Duration
	logs        *logging.LogStore

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub. queueDepth bounds each client's outbound queue;
// idleTimeout closes clients with no activity (0 disables).
func NewHub(queueDepth int, idleTimeout time.Duration, logs *logging.LogStore) *Hub {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Hub{
		queueDepth:  queueDepth,
		idleTimeout: idleTimeout,
		logs:        logs,
		clients:     make(map[string]*Client),
	}
}

// Register adds a client and starts its writer. write performs one framed
// write; closeFn tears down the underlying connection.
func (h *Hub) Register(transport, remoteAddr string, write func(Outbound) error, closeFn func()) *Client {
	now := time.Now()
	c := &Client{
		info: models.ClientConnection{
			ID:           uuid.NewString(),
			Transport:    transport,
			RemoteAddr:   remoteAddr,
			ConnectedAt:  now,
			LastActivity: now,
		},
		send:              make(chan Outbound, h.queueDepth),
		quit:              make(chan struct{}),
		writesAreActivity: transport != models.TransportUDP,
		write:             write,
		close:             closeFn,
	}

	h.mu.Lock()
	h.clients[c.info.ID] = c
	h.mu.Unlock()

	go h.writer(c)
	h.logs.LogAndStore("info", "%s client connected from %s (%s)", transport, remoteAddr, c.info.ID)
	return c
}

func (h *Hub) writer(c *Client) {
	for {
		select {
		case <-c.quit:
			return
		case out := <-c.send:
			if err := c.write(out); err != nil {
				h.drop(c, "write failed")
				return
			}
			c.recordWrite(len(out.Data))
		}
	}
}

// Broadcast queues msg for every connected client. Clients whose queues are
// full are dropped after the fan-out completes.
func (h *Hub) Broadcast(msg models.WireMessage) {
	out := Outbound{Data: msg.Payload, Binary: msg.Kind == models.KindBinaryGroup}

	var overflow []*Client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- out:
		default:
			overflow = append(overflow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range overflow {
		h.drop(c, "outbound queue full")
	}
}

// Drop disconnects one client.
func (h *Hub) Drop(c *Client, reason string) {
	h.drop(c, reason)
}

func (h *Hub) drop(c *Client, reason string) {
	c.once.Do(func() {
		close(c.quit)
		c.close()

		h.mu.Lock()
		delete(h.clients, c.info.ID)
		h.mu.Unlock()

		info := c.snapshot()
		h.logs.LogAndStore("info", "%s client %s disconnected: %s", info.Transport, info.RemoteAddr, reason)
	})
}

// DropAll disconnects every client on one transport and returns how many.
func (h *Hub) DropAll(transport string) int {
	h.mu.RLock()
	var victims []*Client
	for _, c := range h.clients {
		if c.info.Transport == transport {
			victims = append(victims, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range victims {
		h.drop(c, "dropped by fault injection")
	}
	return len(victims)
}

// Counts returns connected clients per transport.
func (h *Hub) Counts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := map[string]int{
		models.TransportTCP:       0,
		models.TransportUDP:       0,
		models.TransportWebSocket: 0,
	}
	for _, c := range h.clients {
		counts[c.info.Transport]++
	}
	return counts
}

// Clients returns a snapshot of every connection record.
func (h *Hub) Clients() []models.ClientConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.ClientConnection, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.snapshot())
	}
	return out
}

// EvictIdle drops clients whose last activity is older than the idle
// timeout. Called periodically by RunJanitor.
func (h *Hub) EvictIdle() int {
	if h.idleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-h.idleTimeout)

	h.mu.RLock()
	var idle []*Client
	for _, c := range h.clients {
		if c.snapshot().LastActivity.Before(cutoff) {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		h.drop(c, "idle timeout")
	}
	return len(idle)
}

// RunJanitor periodically evicts idle clients until ctx is cancelled.
// No-op when the idle timeout is disabled.
func (h *Hub) RunJanitor(ctx context.Context) {
	if h.idleTimeout <= 0 {
		return
	}
	interval := h.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.EvictIdle()
		}
	}
}

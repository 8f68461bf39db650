package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// fakeConn records framed writes and signals when its close func runs.
type fakeConn struct {
	mu     sync.Mutex
	writes []Outbound
	block  chan struct{} // non-nil simulates a stuck client
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) write(out Outbound) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.writes = append(f.writes, out)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) close() {
	close(f.closed)
}

func (f *fakeConn) written() []Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Outbound, len(f.writes))
	copy(out, f.writes)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testHub(queueDepth int, idle time.Duration) *Hub {
	return NewHub(queueDepth, idle, logging.NewLogStore(100))
}

func textMsg(s string) models.WireMessage {
	return models.WireMessage{Payload: []byte(s), Kind: models.KindTextSentence}
}

func TestHub_BroadcastPreservesOrderPerClient(t *testing.T) {
	h := testHub(16, 0)
	conn := newFakeConn()
	h.Register(models.TransportTCP, "1.2.3.4:5", conn.write, conn.close)

	for _, s := range []string{"a", "b", "c"} {
		h.Broadcast(textMsg(s))
	}
	waitFor(t, "3 writes", func() bool { return len(conn.written()) == 3 })

	got := conn.written()
	for i, want := range []string{"a", "b", "c"} {
		if string(got[i].Data) != want {
			t.Errorf("write %d: got %q, want %q", i, got[i].Data, want)
		}
	}
	if got[0].Binary {
		t.Error("text message flagged binary")
	}
}

func TestHub_SlowClientIsDroppedNotWaitedFor(t *testing.T) {
	h := testHub(2, 0)

	stuck := newFakeConn()
	stuck.block = make(chan struct{})
	healthy := newFakeConn()
	h.Register(models.TransportTCP, "stuck:1", stuck.write, stuck.close)
	h.Register(models.TransportTCP, "healthy:1", healthy.write, healthy.close)

	// The stuck client's writer blocks on the first message; its queue
	// absorbs two more, then the overflow drops it. Broadcast must return
	// promptly throughout.
	for i := 0; i < 5; i++ {
		start := time.Now()
		h.Broadcast(textMsg("x"))
		if time.Since(start) > 500*time.Millisecond {
			t.Fatal("Broadcast blocked on a stuck client")
		}
	}

	select {
	case <-stuck.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stuck client was not dropped")
	}
	waitFor(t, "healthy writes", func() bool { return len(healthy.written()) == 5 })
	close(stuck.block)
}

func TestHub_DropAllByTransport(t *testing.T) {
	h := testHub(16, 0)
	tcp1, tcp2, ws := newFakeConn(), newFakeConn(), newFakeConn()
	h.Register(models.TransportTCP, "t1", tcp1.write, tcp1.close)
	h.Register(models.TransportTCP, "t2", tcp2.write, tcp2.close)
	h.Register(models.TransportWebSocket, "w1", ws.write, ws.close)

	if n := h.DropAll(models.TransportTCP); n != 2 {
		t.Fatalf("DropAll(tcp): got %d, want 2", n)
	}
	<-tcp1.closed
	<-tcp2.closed

	counts := h.Counts()
	if counts[models.TransportTCP] != 0 || counts[models.TransportWebSocket] != 1 {
		t.Errorf("counts after drop: %v", counts)
	}
	select {
	case <-ws.closed:
		t.Error("websocket client dropped by DropAll(tcp)")
	default:
	}
}

func TestHub_DropIsIdempotent(t *testing.T) {
	h := testHub(16, 0)
	conn := newFakeConn()
	c := h.Register(models.TransportTCP, "t1", conn.write, conn.close)

	h.Drop(c, "first")
	h.Drop(c, "second") // must not panic or double-close

	if got := h.Counts()[models.TransportTCP]; got != 0 {
		t.Errorf("count after drop: %d", got)
	}
}

func TestHub_CountsAlwaysListEveryTransport(t *testing.T) {
	counts := testHub(16, 0).Counts()
	for _, tr := range []string{models.TransportTCP, models.TransportUDP, models.TransportWebSocket} {
		if _, ok := counts[tr]; !ok {
			t.Errorf("counts missing %s", tr)
		}
	}
}

func TestHub_EvictIdle_UDPWritesAreNotActivity(t *testing.T) {
	h := testHub(16, 50*time.Millisecond)
	udp := newFakeConn()
	tcp := newFakeConn()
	h.Register(models.TransportUDP, "u1", udp.write, udp.close)
	tcpClient := h.Register(models.TransportTCP, "t1", tcp.write, tcp.close)

	// Keep traffic flowing; writes refresh the TCP client but must not
	// keep the datagram subscriber alive.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		h.Broadcast(textMsg("x"))
		tcpClient.Touch()
		time.Sleep(10 * time.Millisecond)
		h.EvictIdle()
	}

	select {
	case <-udp.closed:
	default:
		t.Error("idle UDP subscriber survived eviction despite outbound writes")
	}
	select {
	case <-tcp.closed:
		t.Error("active TCP client evicted")
	default:
	}
}

func TestHub_ClientSnapshotTracksBytes(t *testing.T) {
	h := testHub(16, 0)
	conn := newFakeConn()
	h.Register(models.TransportTCP, "t1", conn.write, conn.close)

	h.Broadcast(textMsg("hello"))
	waitFor(t, "bytes counted", func() bool {
		clients := h.Clients()
		return len(clients) == 1 && clients[0].BytesSent == 5
	})
}

package transport

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

type commandSink struct {
	mu       sync.Mutex
	commands []models.InjectedCommand
	errors   int
}

func (cs *commandSink) config(h *Hub) Config {
	return Config{
		Hub: h,
		OnCommand: func(cmd models.InjectedCommand, clientID string) {
			cs.mu.Lock()
			cs.commands = append(cs.commands, cmd)
			cs.mu.Unlock()
		},
		OnDecodeError: func(err error) {
			cs.mu.Lock()
			cs.errors++
			cs.mu.Unlock()
		},
	}
}

func (cs *commandSink) commandCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.commands)
}

func (cs *commandSink) errorCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.errors
}

// autopilotSentence builds a valid inbound autopilot frame in text form.
func autopilotSentence(t *testing.T) []byte {
	t.Helper()
	enc := codec.NewEncoder(models.BridgeNmea0183)
	msg, err := enc.Encode(models.AutopilotStateEvent{Mode: models.PilotAuto, TargetHeadingDegrees: 90}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return msg.Payload
}

func TestTCPServer_BroadcastAndInboundCommands(t *testing.T) {
	hub := testHub(16, 0)
	sink := &commandSink{}
	srv := NewTCPServer("127.0.0.1:0", sink.config(hub))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return hub.Counts()[models.TransportTCP] == 1 })

	// Outbound: a broadcast reaches the socket as one framed sentence.
	hub.Broadcast(textMsg("$SDDPT,12.3,0.0*67\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if line != "$SDDPT,12.3,0.0*67\r\n" {
		t.Errorf("received %q", line)
	}

	// Inbound: a valid autopilot frame becomes a command.
	if _, err := conn.Write(autopilotSentence(t)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "command", func() bool { return sink.commandCount() == 1 })

	// Inbound garbage is counted, and the connection survives.
	if _, err := conn.Write([]byte("$SDDPT,12.3,0.0*00\r\n")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "decode error", func() bool { return sink.errorCount() == 1 })
	if hub.Counts()[models.TransportTCP] != 1 {
		t.Error("client dropped over a malformed frame")
	}
}

func TestTCPServer_DisconnectRemovesClient(t *testing.T) {
	hub := testHub(16, 0)
	srv := NewTCPServer("127.0.0.1:0", (&commandSink{}).config(hub))
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "registration", func() bool { return hub.Counts()[models.TransportTCP] == 1 })
	conn.Close()
	waitFor(t, "deregistration", func() bool { return hub.Counts()[models.TransportTCP] == 0 })
}

func TestUDPServer_SubscribeByDatagram(t *testing.T) {
	hub := testHub(16, 0)
	srv := NewUDPServer("127.0.0.1:0", (&commandSink{}).config(hub))
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	conn, err := net.Dial("udp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Any datagram subscribes.
	if _, err := conn.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscription", func() bool { return hub.Counts()[models.TransportUDP] == 1 })

	hub.Broadcast(textMsg("$SDDPT,12.3,0.0*67\r\n"))
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading broadcast datagram: %v", err)
	}
	if string(buf[:n]) != "$SDDPT,12.3,0.0*67\r\n" {
		t.Errorf("received %q", buf[:n])
	}

	// A second datagram from the same peer refreshes, not re-registers.
	conn.Write([]byte("hi again"))
	time.Sleep(50 * time.Millisecond)
	if got := hub.Counts()[models.TransportUDP]; got != 1 {
		t.Errorf("subscriber count after keepalive: %d", got)
	}
}

func TestWSServer_TextFramesAndCommands(t *testing.T) {
	hub := testHub(16, 0)
	sink := &commandSink{}
	srv := NewWSServer("127.0.0.1:0", sink.config(hub))
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return hub.Counts()[models.TransportWebSocket] == 1 })

	hub.Broadcast(textMsg("$HEHDT,245.0,T*2C\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("message type: %d, want text", msgType)
	}
	if string(data) != "$HEHDT,245.0,T*2C\r\n" {
		t.Errorf("received %q", data)
	}

	// Binary broadcasts arrive as binary frames.
	hub.Broadcast(models.WireMessage{Payload: []byte{0x02, 0x0B}, Kind: models.KindBinaryGroup})
	msgType, _, err = conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type: %d, want binary", msgType)
	}

	// Inbound frames decode to commands exactly like the stream transport.
	if err := conn.WriteMessage(websocket.TextMessage, autopilotSentence(t)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "command", func() bool { return sink.commandCount() == 1 })
}

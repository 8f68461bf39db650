package source

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
)

type fakeHub struct {
	mu       sync.Mutex
	messages []models.WireMessage
	dropped  []string
}

func (h *fakeHub) Broadcast(msg models.WireMessage) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

func (h *fakeHub) Counts() map[string]int { return map[string]int{} }

func (h *fakeHub) DropAll(transport string) int {
	h.mu.Lock()
	h.dropped = append(h.dropped, transport)
	h.mu.Unlock()
	return 3
}

func (h *fakeHub) sent() []models.WireMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.WireMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

type fakeSource struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	cmdErr   error
	commands []models.InjectedCommand
}

func (s *fakeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSource) Status() models.SourceStatus {
	return models.SourceStatus{Kind: models.SourceScenario, Running: true, ScenarioName: "fake"}
}

func (s *fakeSource) SubmitCommand(cmd models.InjectedCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdErr != nil {
		return s.cmdErr
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func newTestRouter(hub *fakeHub) *Router {
	return NewRouter(models.BridgeNmea0183, hub, recorder.NewRecorder(0), logging.NewLogStore(100))
}

func TestRouter_SwitchRejectionKeepsPriorSource(t *testing.T) {
	r := newTestRouter(&fakeHub{})

	first := &fakeSource{}
	if err := r.Switch(models.SourceScenario, func() (DataSource, error) { return first, nil }); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if !first.started {
		t.Fatal("first source not started")
	}

	err := r.Switch(models.SourceFile, func() (DataSource, error) {
		return nil, errors.New("bad capture file")
	})
	if err == nil {
		t.Fatal("invalid switch accepted")
	}
	if first.stopped {
		t.Error("prior source stopped by a rejected switch")
	}
	if got := r.ActiveKind(); got != models.SourceScenario {
		t.Errorf("active kind after rejected switch: %q", got)
	}
}

func TestRouter_SwitchStopsOldBeforeStartingNew(t *testing.T) {
	r := newTestRouter(&fakeHub{})

	first := &fakeSource{}
	r.Switch(models.SourceScenario, func() (DataSource, error) { return first, nil })

	second := &fakeSource{}
	if err := r.Switch(models.SourceFile, func() (DataSource, error) { return second, nil }); err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if !first.stopped {
		t.Error("old source left running after switch")
	}
	if !second.started {
		t.Error("new source not started")
	}
	if got := r.ActiveKind(); got != models.SourceFile {
		t.Errorf("active kind: %q", got)
	}
	if got := r.MetricsSnapshot().ModeSwitches; got != 2 {
		t.Errorf("mode switches: got %d, want 2", got)
	}
}

func TestRouter_StopActiveWithoutSource(t *testing.T) {
	r := newTestRouter(&fakeHub{})
	if err := r.StopActive(); err == nil {
		t.Error("StopActive with no source succeeded")
	}
}

func TestRouter_SubmitCommand(t *testing.T) {
	r := newTestRouter(&fakeHub{})

	if err := r.SubmitCommand(models.InjectedCommand{Name: models.CmdAutopilotStandby}); err == nil {
		t.Error("command accepted with no active source")
	}

	src := &fakeSource{}
	r.Switch(models.SourceScenario, func() (DataSource, error) { return src, nil })
	if err := r.SubmitCommand(models.InjectedCommand{Name: models.CmdAutopilotStandby}); err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}
	if len(src.commands) != 1 {
		t.Fatalf("source saw %d commands, want 1", len(src.commands))
	}

	src.cmdErr = errors.New("pilot offline")
	if err := r.SubmitCommand(models.InjectedCommand{Name: models.CmdAutopilotStandby}); err == nil {
		t.Error("source rejection not propagated")
	}

	m := r.MetricsSnapshot()
	if m.CommandsAccepted != 1 || m.CommandsRejected != 2 {
		t.Errorf("command counters: %+v", m)
	}
}

func TestRouter_PublishRecordsAndBroadcasts(t *testing.T) {
	hub := &fakeHub{}
	r := newTestRouter(hub)
	r.Recorder().Start()

	msg := models.WireMessage{Payload: []byte("$SDDPT,12.3,0.0*64\r\n"), Kind: models.KindTextSentence}
	r.Publish(msg)

	if got := hub.sent(); len(got) != 1 || string(got[0].Payload) != string(msg.Payload) {
		t.Fatalf("broadcast: %v", got)
	}
	if entries := r.Recorder().Stop(); len(entries) != 1 {
		t.Errorf("recorded %d entries, want 1", len(entries))
	}
	if got := r.MetricsSnapshot().MessagesSent; got != 1 {
		t.Errorf("messages sent: %d", got)
	}
}

func TestRouter_MalformedFaultCorruptsUntilDeadline(t *testing.T) {
	hub := &fakeHub{}
	r := newTestRouter(hub)

	if err := r.SetFault(FaultMalformed, 150*time.Millisecond, ""); err != nil {
		t.Fatalf("SetFault: %v", err)
	}

	clean := []byte("$SDDPT,12.3,0.0*67\r\n")
	r.Publish(models.WireMessage{Payload: append([]byte(nil), clean...), Kind: models.KindTextSentence})

	sent := hub.sent()
	if string(sent[0].Payload) == string(clean) {
		t.Error("message not corrupted during malformed fault")
	}
	if _, err := codec.Decode(sent[0].Payload); err == nil {
		t.Error("corrupted message still decodes")
	}
	if got := r.MetricsSnapshot().CorruptedInjected; got != 1 {
		t.Errorf("corrupted counter: %d", got)
	}

	time.Sleep(200 * time.Millisecond)
	r.Publish(models.WireMessage{Payload: append([]byte(nil), clean...), Kind: models.KindTextSentence})
	sent = hub.sent()
	if string(sent[1].Payload) != string(clean) {
		t.Error("message corrupted after fault expired")
	}
}

func TestRouter_DisconnectFaultDropsTransport(t *testing.T) {
	hub := &fakeHub{}
	r := newTestRouter(hub)

	if err := r.SetFault(FaultDisconnect, 0, ""); err == nil {
		t.Error("disconnect fault without transport accepted")
	}
	if err := r.SetFault(FaultDisconnect, 0, models.TransportTCP); err != nil {
		t.Fatalf("SetFault: %v", err)
	}
	if len(hub.dropped) != 1 || hub.dropped[0] != models.TransportTCP {
		t.Errorf("dropped transports: %v", hub.dropped)
	}

	if err := r.SetFault("gremlins", 0, ""); err == nil {
		t.Error("unknown fault kind accepted")
	}
}

func TestRouter_SnapshotReflectsActiveSource(t *testing.T) {
	r := newTestRouter(&fakeHub{})

	s := r.Snapshot()
	if s.ActiveSource != models.SourceNone || s.BridgeMode != models.BridgeNmea0183 {
		t.Errorf("idle snapshot: %+v", s)
	}

	r.Switch(models.SourceScenario, func() (DataSource, error) { return &fakeSource{}, nil })
	s = r.Snapshot()
	if s.ActiveSource != models.SourceScenario || s.ScenarioName != "fake" {
		t.Errorf("running snapshot: %+v", s)
	}
}

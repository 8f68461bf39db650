package source

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
)

type msgCollector struct {
	mu   sync.Mutex
	msgs []models.WireMessage
}

func (c *msgCollector) emit(msg models.WireMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *msgCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func captureEntries() []recorder.Entry {
	return []recorder.Entry{
		{Offset: 0, Kind: models.KindTextSentence, Payload: []byte("$HEHDT,245.0,T*2C\r\n")},
		{Offset: 50 * time.Millisecond, Kind: models.KindTextSentence, Payload: []byte("$SDDPT,12.3,0.0*67\r\n")},
		{Offset: 100 * time.Millisecond, Kind: models.KindBinaryGroup, Payload: []byte{0x02, 0x0B}},
	}
}

func TestPlayback_ReplaysAllEntriesOnce(t *testing.T) {
	col := &msgCollector{}
	p, err := NewPlaybackSource(captureEntries(), 1, false, "test", col.emit, logging.NewLogStore(100))
	if err != nil {
		t.Fatalf("NewPlaybackSource: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for col.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if col.count() != 3 {
		t.Fatalf("replayed %d messages, want 3", col.count())
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if string(col.msgs[0].Payload) != "$HEHDT,245.0,T*2C\r\n" {
		t.Errorf("first message: %q", col.msgs[0].Payload)
	}
	if col.msgs[2].Kind != models.KindBinaryGroup {
		t.Errorf("third message kind: %s", col.msgs[2].Kind)
	}
	if col.msgs[0].SourceTag != "playback" {
		t.Errorf("source tag: %s", col.msgs[0].SourceTag)
	}
}

func TestPlayback_StopsAtEndWithoutLoop(t *testing.T) {
	col := &msgCollector{}
	p, err := NewPlaybackSource(captureEntries(), 10, false, "test", col.emit, logging.NewLogStore(100))
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for p.Status().Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Status().Running {
		t.Error("non-looping playback still running past its capture")
	}
	if col.count() != 3 {
		t.Errorf("replayed %d messages, want 3", col.count())
	}
}

func TestPlayback_LoopRepeats(t *testing.T) {
	col := &msgCollector{}
	p, err := NewPlaybackSource(captureEntries(), 20, true, "test", col.emit, logging.NewLogStore(100))
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for col.count() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if col.count() < 6 {
		t.Fatalf("looping playback produced %d messages, want at least two passes", col.count())
	}
}

func TestPlayback_RejectsEmptyCapture(t *testing.T) {
	if _, err := NewPlaybackSource(nil, 1, false, "test", func(models.WireMessage) {}, logging.NewLogStore(10)); err == nil {
		t.Error("empty capture accepted")
	}
}

func TestPlayback_CommandsAcceptedAndDiscarded(t *testing.T) {
	col := &msgCollector{}
	p, err := NewPlaybackSource(captureEntries(), 1, false, "test", col.emit, logging.NewLogStore(100))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SubmitCommand(models.InjectedCommand{Name: models.CmdAutopilotEngage}); err != nil {
		t.Errorf("playback rejected a command: %v", err)
	}
}

func TestPlaybackFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	if err := os.WriteFile(path, []byte(recorder.FormatCapture(captureEntries())), 0o644); err != nil {
		t.Fatal(err)
	}

	col := &msgCollector{}
	p, err := NewPlaybackFile(path, 10, false, col.emit, logging.NewLogStore(100))
	if err != nil {
		t.Fatalf("NewPlaybackFile: %v", err)
	}
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for col.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if col.count() != 3 {
		t.Fatalf("replayed %d messages from file, want 3", col.count())
	}

	if _, err := NewPlaybackFile(filepath.Join(t.TempDir(), "missing.txt"), 1, false, col.emit, logging.NewLogStore(10)); err == nil {
		t.Error("missing capture file accepted")
	}
}

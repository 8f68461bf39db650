package recorder

import (
	"sync"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Recorder captures broadcast wire messages in memory until asked to stop.
// It sits on the broadcast path, so Write is a mutex-guarded append and
// nothing more; persistence happens only when a session is saved.
type Recorder struct {
	mu        sync.Mutex
	entries   []Entry
	started   time.Time
	recording bool
	maxSize   int
}

// NewRecorder creates a recorder keeping at most maxSize entries
// (0 = unlimited). When full it stops capturing rather than evicting: a
// capture with a silent gap in the middle is worse than a short one.
func NewRecorder(maxSize int) *Recorder {
	return &Recorder{maxSize: maxSize}
}

// Start begins a fresh capture, discarding any previous one.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.started = time.Now()
	r.recording = true
}

// Stop ends the capture and returns what was recorded.
func (r *Recorder) Stop() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Write appends one message if a capture is in progress.
func (r *Recorder) Write(msg models.WireMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	if r.maxSize > 0 && len(r.entries) >= r.maxSize {
		return
	}
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	r.entries = append(r.entries, Entry{
		Offset:  time.Since(r.started),
		Kind:    msg.Kind,
		Payload: payload,
	})
}

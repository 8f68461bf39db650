package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
)

// PlaybackSource replays a recorded capture, preserving original relative
// timing scaled by a rate multiplier. Inbound commands are accepted and
// logged but have no physical effect on a recording.
type PlaybackSource struct {
	entries []recorder.Entry
	rate    float64
	loop    bool
	detail  string
	emit    Emit
	logs    *logging.LogStore

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	running bool
}

// NewPlaybackSource replays entries. detail names the capture origin (file
// path or session name) for status reporting.
func NewPlaybackSource(entries []recorder.Entry, rate float64, loop bool, detail string, emit Emit, logs *logging.LogStore) (*PlaybackSource, error) {
	if len(entries) == 0 {
		return nil, errors.New("source: capture is empty")
	}
	if rate <= 0 {
		rate = 1
	}
	return &PlaybackSource{
		entries: entries,
		rate:    rate,
		loop:    loop,
		detail:  detail,
		emit:    emit,
		logs:    logs,
	}, nil
}

// NewPlaybackFile loads a capture file and replays it.
func NewPlaybackFile(path string, rate float64, loop bool, emit Emit, logs *logging.LogStore) (*PlaybackSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: opening capture %s: %w", path, err)
	}
	defer f.Close()
	entries, err := recorder.ParseCapture(f)
	if err != nil {
		return nil, err
	}
	return NewPlaybackSource(entries, rate, loop, path, emit, logs)
}

func (p *PlaybackSource) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = time.Now()
	p.running = true
	go p.run(ctx)
	p.logs.LogAndStore("info", "playback of %s started (%d messages, rate %.2fx, loop %v)",
		p.detail, len(p.entries), p.rate, p.loop)
	return nil
}

func (p *PlaybackSource) run(ctx context.Context) {
	defer close(p.done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		start := time.Now()
		for _, entry := range p.entries {
			wait := time.Duration(float64(entry.Offset)/p.rate) - time.Since(start)
			if wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				return
			}
			p.emit(models.WireMessage{
				Payload:   entry.Payload,
				Kind:      entry.Kind,
				Timestamp: time.Now(),
				SourceTag: "playback",
			})
		}
		if !p.loop {
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return
		}
	}
}

func (p *PlaybackSource) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.running = false
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logs.LogAndStore("info", "playback of %s stopped", p.detail)
}

func (p *PlaybackSource) Status() models.SourceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	var elapsed float64
	if p.running {
		elapsed = time.Since(p.started).Seconds()
	}
	return models.SourceStatus{
		Kind:           models.SourceFile,
		Running:        p.running,
		ElapsedSeconds: elapsed,
		Detail:         p.detail,
	}
}

// SubmitCommand acknowledges and discards: a recording cannot react.
func (p *PlaybackSource) SubmitCommand(cmd models.InjectedCommand) error {
	p.logs.LogAndStore("info", "playback: command %s accepted and discarded", cmd.Name)
	return nil
}

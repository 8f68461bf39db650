package source

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
)

// Broadcaster is the transport fan-out the router publishes into.
type Broadcaster interface {
	Broadcast(msg models.WireMessage)
	Counts() map[string]int
	DropAll(transport string) int
}

// Fault kinds accepted by simulate-error.
const (
	FaultMalformed  = "malformed"
	FaultDisconnect = "disconnect"
	FaultDelay      = "delay"
)

// faultDelayPerMessage is the artificial processing delay applied to each
// published message while a delay fault is active.
const faultDelayPerMessage = 100 * time.Millisecond

// Metrics are the control plane's performance counters.
type Metrics struct {
	MessagesSent      int64   `json:"messages_sent"`
	MessageRateHz     float64 `json:"message_rate_hz"`
	DecodeErrors      int64   `json:"decode_errors"`
	CorruptedInjected int64   `json:"corrupted_injected"`
	CommandsAccepted  int64   `json:"commands_accepted"`
	CommandsRejected  int64   `json:"commands_rejected"`
	ModeSwitches      int64   `json:"mode_switches"`
}

// Router owns the active data source and the simulator state snapshot.
// This is the single serialization point of the service: source swaps and
// state reads share one mutex, so no caller ever observes a half-applied
// transition. The broadcast path (Publish) deliberately does not take that
// mutex.
type Router struct {
	mode models.BridgeMode
	hub  Broadcaster
	rec  *recorder.Recorder
	logs *logging.LogStore

	mu     sync.Mutex
	active DataSource
	kind   string

	messagesSent      atomic.Int64
	decodeErrors      atomic.Int64
	corruptedInjected atomic.Int64
	commandsAccepted  atomic.Int64
	commandsRejected  atomic.Int64
	modeSwitches      atomic.Int64

	rateMu        sync.Mutex
	rateWindow    time.Time
	rateCount     int64
	rateLast      float64

	faultMu        sync.Mutex
	malformedUntil time.Time
	delayUntil     time.Time
}

// NewRouter creates a router with no active source.
func NewRouter(mode models.BridgeMode, hub Broadcaster, rec *recorder.Recorder, logs *logging.LogStore) *Router {
	return &Router{
		mode: mode,
		hub:  hub,
		rec:  rec,
		logs: logs,
		kind: models.SourceNone,
	}
}

// Mode returns the bridge mode fixed at configuration time.
func (r *Router) Mode() models.BridgeMode { return r.mode }

// Recorder exposes the attached session recorder.
func (r *Router) Recorder() *recorder.Recorder { return r.rec }

// Publish is the broadcast path: fault filters, optional recording, then
// transport fan-out. Recording is an in-memory append, so its presence adds
// negligible latency.
func (r *Router) Publish(msg models.WireMessage) {
	now := time.Now()

	r.faultMu.Lock()
	malformed := now.Before(r.malformedUntil)
	delayed := now.Before(r.delayUntil)
	r.faultMu.Unlock()

	if delayed {
		time.Sleep(faultDelayPerMessage)
	}
	if malformed {
		msg = codec.Corrupt(msg)
		r.corruptedInjected.Add(1)
	}

	r.rec.Write(msg)
	r.hub.Broadcast(msg)
	r.messagesSent.Add(1)
	r.updateRate(now)
}

func (r *Router) updateRate(now time.Time) {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	if r.rateWindow.IsZero() {
		r.rateWindow = now
	}
	r.rateCount++
	if elapsed := now.Sub(r.rateWindow); elapsed >= time.Second {
		r.rateLast = float64(r.rateCount) / elapsed.Seconds()
		r.rateWindow = now
		r.rateCount = 0
	}
}

// Switch performs the two-phase transition to a new source: build (and
// validate) the replacement first, then stop the old source and await
// quiescence, then start the new one. A build failure rejects the switch
// and leaves the prior source running.
func (r *Router) Switch(kind string, build func() (DataSource, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := build()
	if err != nil {
		return err
	}
	if r.active != nil {
		r.active.Stop()
		r.active = nil
		r.kind = models.SourceNone
	}
	if err := next.Start(); err != nil {
		return fmt.Errorf("source: starting %s source: %w", kind, err)
	}
	r.active = next
	r.kind = kind
	r.modeSwitches.Add(1)
	r.logs.LogAndStore("info", "data source switched to %s", kind)
	return nil
}

// StopActive stops whatever source is running. Returns an error when there
// is nothing to stop, so callers can report it instead of hanging.
func (r *Router) StopActive() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return fmt.Errorf("source: no active data source")
	}
	r.active.Stop()
	r.active = nil
	r.kind = models.SourceNone
	r.logs.LogAndStore("info", "data source stopped")
	return nil
}

// ActiveKind reports which source variant is running.
func (r *Router) ActiveKind() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kind
}

// SubmitCommand routes an inbound command to the active source and counts
// the outcome.
func (r *Router) SubmitCommand(cmd models.InjectedCommand) error {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active == nil {
		r.commandsRejected.Add(1)
		return fmt.Errorf("source: no active data source for command %q", cmd.Name)
	}
	if err := active.SubmitCommand(cmd); err != nil {
		r.commandsRejected.Add(1)
		return err
	}
	r.commandsAccepted.Add(1)
	return nil
}

// RecordDecodeError counts one rejected inbound frame.
func (r *Router) RecordDecodeError() {
	r.decodeErrors.Add(1)
}

// SetFault arms a fault injection. Injected faults are intentional: they
// surface through status and metrics, not as failures.
func (r *Router) SetFault(kind string, duration time.Duration, transport string) error {
	switch kind {
	case FaultMalformed:
		r.faultMu.Lock()
		r.malformedUntil = time.Now().Add(duration)
		r.faultMu.Unlock()
		r.logs.LogAndStore("info", "fault injection: malformed checksums for %s", duration)
		return nil
	case FaultDelay:
		r.faultMu.Lock()
		r.delayUntil = time.Now().Add(duration)
		r.faultMu.Unlock()
		r.logs.LogAndStore("info", "fault injection: %s processing delay per message for %s", faultDelayPerMessage, duration)
		return nil
	case FaultDisconnect:
		if transport == "" {
			return fmt.Errorf("source: disconnect fault needs a transport")
		}
		n := r.hub.DropAll(transport)
		r.logs.LogAndStore("info", "fault injection: dropped %d %s clients", n, transport)
		return nil
	}
	return fmt.Errorf("source: unknown fault kind %q", kind)
}

// Snapshot assembles the control-plane state under the serialization lock.
func (r *Router) Snapshot() models.SimulatorState {
	r.mu.Lock()
	kind := r.kind
	var status models.SourceStatus
	if r.active != nil {
		status = r.active.Status()
	}
	r.mu.Unlock()

	r.rateMu.Lock()
	rate := r.rateLast
	r.rateMu.Unlock()

	return models.SimulatorState{
		ActiveSource:     kind,
		BridgeMode:       r.mode,
		ScenarioName:     status.ScenarioName,
		Phase:            status.Phase,
		ElapsedSeconds:   status.ElapsedSeconds,
		ConnectedClients: r.hub.Counts(),
		MessageRateHz:    rate,
		ErrorCount:       r.decodeErrors.Load(),
		Recording:        r.rec.Recording(),
	}
}

// MetricsSnapshot returns the performance counters.
func (r *Router) MetricsSnapshot() Metrics {
	r.rateMu.Lock()
	rate := r.rateLast
	r.rateMu.Unlock()
	return Metrics{
		MessagesSent:      r.messagesSent.Load(),
		MessageRateHz:     rate,
		DecodeErrors:      r.decodeErrors.Load(),
		CorruptedInjected: r.corruptedInjected.Load(),
		CommandsAccepted:  r.commandsAccepted.Load(),
		CommandsRejected:  r.commandsRejected.Load(),
		ModeSwitches:      r.modeSwitches.Load(),
	}
}

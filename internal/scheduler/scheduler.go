package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Sink receives encoded messages for broadcast. It must not block on any
// single slow client; the transport hub guarantees that.
type Sink func(models.WireMessage)

// Stream is one message stream the scheduler times: its nominal interval
// and the producer of due events at a logical instant (seconds).
type Stream struct {
	Interval time.Duration
	Emit     func(seconds float64) []models.SemanticEvent
}

// Config wires a scheduler to its producer and consumers.
type Config struct {
	Encoder *codec.Encoder
	Sink    Sink
	Streams []Stream
	// Advance moves the producer's clock (phase machine, timed events)
	// before emission. Returning false stops the scheduler.
	Advance func(seconds float64) bool
	// Seed drives emission jitter. Same seed, same jitter sequence.
	Seed int64
	// Speed is a logical-time multiplier; 0 means 1x.
	Speed float64
	// BaseTick is the wall-clock tick resolution; 0 means 5ms.
	BaseTick time.Duration
	OnError  func(error)
}

// jitterSpread keeps emission timing within ±10% of the nominal interval,
// so traffic is not perfectly periodic.
const jitterSpread = 0.10

// Scheduler converts semantic values into timed wire messages. All timing
// decisions are made in logical time, so AdvanceTo is deterministic and the
// Run loop merely maps the wall clock onto it.
type Scheduler struct {
	enc      *codec.Encoder
	sink     Sink
	advance  func(float64) bool
	streams  []Stream
	next     []time.Duration
	rng      *rand.Rand
	speed    float64
	baseTick time.Duration
	onError  func(error)
}

// New validates cfg and builds a scheduler with every stream due at t=0.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Encoder == nil {
		return nil, errors.New("scheduler: encoder required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("scheduler: sink required")
	}
	if len(cfg.Streams) == 0 {
		return nil, errors.New("scheduler: at least one stream required")
	}
	for _, s := range cfg.Streams {
		if s.Interval <= 0 {
			return nil, errors.New("scheduler: stream interval must be > 0")
		}
	}
	s := &Scheduler{
		enc:      cfg.Encoder,
		sink:     cfg.Sink,
		advance:  cfg.Advance,
		streams:  cfg.Streams,
		next:     make([]time.Duration, len(cfg.Streams)),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		speed:    cfg.Speed,
		baseTick: cfg.BaseTick,
		onError:  cfg.OnError,
	}
	if s.speed <= 0 {
		s.speed = 1
	}
	if s.baseTick <= 0 {
		s.baseTick = 5 * time.Millisecond
	}
	if s.onError == nil {
		s.onError = func(error) {}
	}
	return s, nil
}

// AdvanceTo emits everything due up to logical time t, in due-time order
// (ties broken by stream index). Events are encoded at their scheduled due
// instant, not the wall clock, which keeps two same-seed runs
// byte-identical. Returns false once the producer reports completion.
func (s *Scheduler) AdvanceTo(t time.Duration) bool {
	if s.advance != nil && !s.advance(t.Seconds()) {
		return false
	}
	for {
		idx := -1
		for i := range s.streams {
			if s.next[i] > t {
				continue
			}
			if idx < 0 || s.next[i] < s.next[idx] {
				idx = i
			}
		}
		if idx < 0 {
			return true
		}
		due := s.next[idx]
		for _, ev := range s.streams[idx].Emit(due.Seconds()) {
			msg, err := s.enc.Encode(ev, due)
			if err != nil {
				s.onError(err)
				continue
			}
			s.sink(msg)
		}
		s.next[idx] = due + s.jittered(s.streams[idx].Interval)
	}
}

func (s *Scheduler) jittered(interval time.Duration) time.Duration {
	factor := 1 + jitterSpread*(s.rng.Float64()*2-1)
	return time.Duration(float64(interval) * factor)
}

// Run drives AdvanceTo from the wall clock until ctx is cancelled or the
// producer completes. Stop latency is bounded by one base tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.baseTick)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Duration(float64(time.Since(start)) * s.speed)
			if !s.AdvanceTo(elapsed) {
				return
			}
		}
	}
}

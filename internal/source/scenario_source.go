package source

import (
	"context"
	"sync"

	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/scenario"
	"github.com/openboatworks/nmea_bridge_simulator/internal/scheduler"
)

// ScenarioSource drives a scenario engine through a scheduler. Inbound
// commands, whether scripted or client-issued, land in the same engine
// state.
type ScenarioSource struct {
	engine *scenario.Engine
	sched  *scheduler.Scheduler
	logs   *logging.LogStore

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScenarioSource builds a source for def. emit receives the encoded
// messages; onError sees encode failures.
func NewScenarioSource(def *models.ScenarioDefinition, enc *codec.Encoder, emit Emit, loop bool, speed float64, logs *logging.LogStore, onError func(error)) (*ScenarioSource, error) {
	engine, err := scenario.NewEngine(def, loop)
	if err != nil {
		return nil, err
	}

	streams := make([]scheduler.Stream, engine.StreamCount())
	for i := range streams {
		i := i
		streams[i] = scheduler.Stream{
			Interval: engine.StreamInterval(i),
			Emit: func(t float64) []models.SemanticEvent {
				return engine.Emit(i, t)
			},
		}
	}
	sched, err := scheduler.New(scheduler.Config{
		Encoder: enc,
		Sink:    scheduler.Sink(emit),
		Streams: streams,
		Advance: engine.Advance,
		Seed:    def.Seed,
		Speed:   speed,
		OnError: onError,
	})
	if err != nil {
		return nil, err
	}
	return &ScenarioSource{engine: engine, sched: sched, logs: logs}, nil
}

func (s *ScenarioSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.engine.Start()
	go func() {
		defer close(s.done)
		s.sched.Run(ctx)
	}()
	s.logs.LogAndStore("info", "scenario %q started", s.engine.Definition().Name)
	return nil
}

// Stop cancels the scheduler and waits for its loop to exit, so no event
// from this source can reach a client afterwards. Takes effect within one
// scheduler tick.
func (s *ScenarioSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logs.LogAndStore("info", "scenario %q stopped", s.engine.Definition().Name)
}

func (s *ScenarioSource) Status() models.SourceStatus {
	return s.engine.Status()
}

func (s *ScenarioSource) SubmitCommand(cmd models.InjectedCommand) error {
	if err := s.engine.Apply(cmd); err != nil {
		return err
	}
	s.logs.LogAndStore("info", "scenario command applied: %s", cmd.Name)
	return nil
}

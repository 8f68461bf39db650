package scenario

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Status is the engine's phase-machine state:
// Idle -> Running(phase_i) -> ... -> Completed.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// turnRateDegPerSec is how fast the simulated vessel answers the helm when
// the autopilot steers toward its target heading.
const turnRateDegPerSec = 3.0

type stream struct {
	spec models.StreamSpec
	fn   genFunc
	rng  *rand.Rand
}

// Engine executes one loaded ScenarioDefinition. The definition is
// immutable; all mutable run state (phase index, elapsed time, autopilot
// and dead-reckoning state) lives here, owned by the active scenario data
// source and nobody else.
//
// Commands feed into the same state whether they come from a scripted
// TimedEvent or from a connected client, so their effects show up in
// subsequently generated events. That closed loop stands in for a physics
// model: engaging the pilot changes how headings are generated next.
type Engine struct {
	mu  sync.Mutex
	def *models.ScenarioDefinition

	streams []*stream
	status  Status
	elapsed float64
	loop    bool

	phaseIdx   int
	eventIdx   int // next unfired TimedEvent within the current phase
	phaseStart float64

	pilotEngaged  bool
	pilotMode     string
	pilotTarget   float64
	lastHeading   float64
	headingOffset float64

	lat, lon  float64
	lastPosAt float64
}

// NewEngine resolves a validated definition into an executable engine.
func NewEngine(def *models.ScenarioDefinition, loop bool) (*Engine, error) {
	e := &Engine{
		def:       def,
		status:    StatusIdle,
		loop:      loop,
		pilotMode: models.PilotStandby,
	}
	for i, spec := range def.Streams {
		fn, err := resolveFunction(spec.Function, spec.Args)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: stream %d: %w", def.Name, i, err)
		}
		e.streams = append(e.streams, &stream{
			spec: spec,
			fn:   fn,
			rng:  rand.New(rand.NewSource(def.Seed + int64(i)*1000003)),
		})
		if spec.Kind == "position" {
			e.lat = spec.Args["lat_start"]
			e.lon = spec.Args["lon_start"]
		}
	}
	return e, nil
}

// Definition returns the immutable definition the engine runs.
func (e *Engine) Definition() *models.ScenarioDefinition { return e.def }

// StreamCount and StreamInterval describe the per-stream timers the
// scheduler owns.
func (e *Engine) StreamCount() int { return len(e.streams) }

func (e *Engine) StreamInterval(i int) time.Duration {
	return time.Duration(float64(time.Second) / e.streams[i].spec.FrequencyHz)
}

// Start moves the phase machine out of Idle.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusRunning
}

// Advance moves scenario time forward to t seconds: it walks phase
// boundaries and fires any TimedEvents now due, applying their commands to
// engine state. Returns false once the scenario has completed (and does not
// loop).
func (e *Engine) Advance(t float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return false
	}
	if e.loop && e.def.DurationSeconds > 0 {
		t = math.Mod(t, e.def.DurationSeconds)
		if t < e.elapsed {
			e.resetRunLocked()
		}
	}
	e.elapsed = t

	for e.phaseIdx < len(e.def.Phases) {
		phase := e.def.Phases[e.phaseIdx]
		for e.eventIdx < len(phase.Events) {
			ev := phase.Events[e.eventIdx]
			if e.phaseStart+ev.AtSeconds > t {
				break
			}
			e.applyLocked(models.InjectedCommand{Name: ev.Command, Args: ev.Args})
			e.eventIdx++
		}
		if t < e.phaseStart+phase.DurationSeconds {
			break
		}
		// Fire any stragglers before leaving the phase.
		for ; e.eventIdx < len(phase.Events); e.eventIdx++ {
			ev := phase.Events[e.eventIdx]
			e.applyLocked(models.InjectedCommand{Name: ev.Command, Args: ev.Args})
		}
		e.phaseStart += phase.DurationSeconds
		e.phaseIdx++
		e.eventIdx = 0
	}

	if t >= e.def.DurationSeconds && !e.loop {
		e.status = StatusCompleted
		return false
	}
	return true
}

func (e *Engine) resetRunLocked() {
	e.phaseIdx = 0
	e.eventIdx = 0
	e.phaseStart = 0
}

// Emit generates the events due for stream i at logical time t. The
// scheduler calls this with the stream's scheduled due time, never the wall
// clock, so two runs with the same seed produce identical values.
func (e *Engine) Emit(i int, t float64) []models.SemanticEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return nil
	}
	s := e.streams[i]
	switch s.spec.Kind {
	case "depth":
		return []models.SemanticEvent{models.DepthEvent{Meters: math.Max(0, s.fn(t, s.rng))}}

	case "heading":
		var h float64
		if e.pilotEngaged {
			maxStep := turnRateDegPerSec / s.spec.FrequencyHz
			d := angleDelta(e.lastHeading, e.pilotTarget)
			if math.Abs(d) > maxStep {
				d = math.Copysign(maxStep, d)
			}
			h = wrap360(e.lastHeading + d)
		} else {
			h = wrap360(s.fn(t, s.rng) + e.headingOffset)
		}
		e.lastHeading = h
		return []models.SemanticEvent{models.HeadingEvent{Degrees: h}}

	case "wind":
		angleCenter := s.spec.Args["angle_center"]
		angleJitter, ok := s.spec.Args["angle_jitter"]
		if !ok {
			angleJitter = 10
		}
		angle := wrap360(angleCenter + (s.rng.Float64()*2-1)*angleJitter)
		return []models.SemanticEvent{models.WindEvent{
			AngleDegrees: angle,
			SpeedKnots:   math.Max(0, s.fn(t, s.rng)),
		}}

	case "position":
		speed := math.Max(0, s.fn(t, s.rng))
		course := e.lastHeading
		dt := t - e.lastPosAt
		e.lastPosAt = t
		if dt > 0 && speed > 0 {
			distNM := speed * dt / 3600
			rad := course * math.Pi / 180
			e.lat += distNM * math.Cos(rad) / 60
			e.lon += distNM * math.Sin(rad) / (60 * math.Cos(e.lat*math.Pi/180))
		}
		return []models.SemanticEvent{models.PositionEvent{
			Latitude:      clamp(e.lat, -90, 90),
			Longitude:     clamp(e.lon, -180, 180),
			SpeedKnots:    speed,
			CourseDegrees: wrap360(course),
		}}

	case "autopilot":
		mode := models.PilotStandby
		if e.pilotEngaged {
			mode = e.pilotMode
		}
		return []models.SemanticEvent{models.AutopilotStateEvent{
			Mode:                 mode,
			TargetHeadingDegrees: wrap360(e.pilotTarget),
		}}
	}
	return nil
}

// Apply feeds an injected command into scenario state. Scripted TimedEvents
// and client-issued commands take exactly this path.
func (e *Engine) Apply(cmd models.InjectedCommand) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(cmd)
}

func (e *Engine) applyLocked(cmd models.InjectedCommand) error {
	switch cmd.Name {
	case models.CmdAutopilotEngage:
		mode := models.PilotAuto
		if m, ok := cmd.Args["mode"].(string); ok && m != "" {
			mode = m
		}
		if target, ok := numericArg(cmd.Args, "target_heading"); ok {
			e.pilotTarget = wrap360(target)
		} else {
			e.pilotTarget = e.lastHeading
		}
		e.pilotEngaged = true
		e.pilotMode = mode
		return nil

	case models.CmdAutopilotStandby:
		e.pilotEngaged = false
		e.pilotMode = models.PilotStandby
		return nil

	case models.CmdHeadingAdjust:
		delta, ok := numericArg(cmd.Args, "delta")
		if !ok {
			return fmt.Errorf("scenario: %s needs a numeric delta", cmd.Name)
		}
		if e.pilotEngaged {
			e.pilotTarget = wrap360(e.pilotTarget + delta)
		} else {
			e.headingOffset += delta
		}
		return nil
	}
	return fmt.Errorf("scenario: unknown command %q", cmd.Name)
}

// Status reports the engine's run state for the control plane.
func (e *Engine) Status() models.SourceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	phase := ""
	if e.phaseIdx < len(e.def.Phases) {
		phase = e.def.Phases[e.phaseIdx].Name
	} else if e.status == StatusCompleted {
		phase = string(StatusCompleted)
	}
	return models.SourceStatus{
		Kind:           models.SourceScenario,
		Running:        e.status == StatusRunning,
		ScenarioName:   e.def.Name,
		Phase:          phase,
		ElapsedSeconds: e.elapsed,
	}
}

// numericArg tolerates the int/float ambiguity of decoded YAML and JSON.
func numericArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package models

import "fmt"

// ScenarioFile is the root YAML structure of a scenario definition.
type ScenarioFile struct {
	Scenario ScenarioDefinition `yaml:"scenario"`
}

// ScenarioDefinition is a declarative, time-phased description of synthetic
// traffic. Immutable once loaded; runtime state lives in the scenario engine.
type ScenarioDefinition struct {
	Name            string             `yaml:"name"`
	DurationSeconds float64            `yaml:"duration_seconds"`
	Seed            int64              `yaml:"seed"`
	Parameters      map[string]float64 `yaml:"parameters,omitempty"`
	Streams         []StreamSpec       `yaml:"streams"`
	Phases          []PhaseSpec        `yaml:"phases,omitempty"`
}

// StreamSpec declares one message stream: what kind of event to emit, how
// often, and which generator function drives its value.
type StreamSpec struct {
	Kind        string             `yaml:"kind"`
	FrequencyHz float64            `yaml:"frequency_hz"`
	Function    string             `yaml:"function,omitempty"`
	Args        map[string]float64 `yaml:"args,omitempty"`
}

// PhaseSpec is one phase of the scenario's Idle -> Running -> Completed
// state machine.
type PhaseSpec struct {
	Name            string       `yaml:"name"`
	DurationSeconds float64      `yaml:"duration_seconds"`
	Events          []TimedEvent `yaml:"events,omitempty"`
}

// TimedEvent fires a command at an offset into its phase, e.g. engage the
// autopilot at t=30s.
type TimedEvent struct {
	AtSeconds float64                `yaml:"at_seconds"`
	Command   string                 `yaml:"command"`
	Args      map[string]interface{} `yaml:"args,omitempty"`
}

// Validate checks structural invariants of a loaded definition. A failure
// here is a ConfigurationError: fatal at startup, switch-rejecting at
// runtime.
func (d *ScenarioDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("models: scenario name required")
	}
	if d.DurationSeconds <= 0 {
		return fmt.Errorf("models: scenario %q: duration_seconds must be > 0", d.Name)
	}
	if len(d.Streams) == 0 {
		return fmt.Errorf("models: scenario %q: at least one stream required", d.Name)
	}
	for i, s := range d.Streams {
		if s.FrequencyHz <= 0 {
			return fmt.Errorf("models: scenario %q: stream %d: frequency_hz must be > 0", d.Name, i)
		}
		switch s.Kind {
		case "depth", "heading", "wind", "position", "autopilot":
		default:
			return fmt.Errorf("models: scenario %q: stream %d: unknown kind %q", d.Name, i, s.Kind)
		}
	}
	var phaseTotal float64
	for i, p := range d.Phases {
		if p.DurationSeconds <= 0 {
			return fmt.Errorf("models: scenario %q: phase %d: duration_seconds must be > 0", d.Name, i)
		}
		for j, ev := range p.Events {
			if ev.AtSeconds < 0 || ev.AtSeconds > p.DurationSeconds {
				return fmt.Errorf("models: scenario %q: phase %d event %d: at_seconds outside phase", d.Name, i, j)
			}
			if ev.Command == "" {
				return fmt.Errorf("models: scenario %q: phase %d event %d: command required", d.Name, i, j)
			}
		}
		phaseTotal += p.DurationSeconds
	}
	if len(d.Phases) > 0 && phaseTotal > d.DurationSeconds {
		return fmt.Errorf("models: scenario %q: phases exceed scenario duration", d.Name)
	}
	return nil
}

package source

import (
	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
	"github.com/openboatworks/nmea_bridge_simulator/internal/scenario"
)

// Factory builds data sources wired to the shared encoder, catalogue and
// broadcast path. The control plane and CLI both construct sources through
// it.
type Factory struct {
	Enc       *codec.Encoder
	Scenarios *scenario.Manager
	Emit      Emit
	Logs      *logging.LogStore
	OnError   func(error)
}

// Scenario resolves a named catalogue entry into a runnable source.
func (f *Factory) Scenario(name string, loop bool, speed float64) (DataSource, error) {
	def, err := f.Scenarios.Load(name)
	if err != nil {
		return nil, err
	}
	return NewScenarioSource(def, f.Enc, f.Emit, loop, speed, f.Logs, f.OnError)
}

// PlaybackFile replays a capture file from disk.
func (f *Factory) PlaybackFile(path string, rate float64, loop bool) (DataSource, error) {
	return NewPlaybackFile(path, rate, loop, f.Emit, f.Logs)
}

// PlaybackEntries replays an already-parsed capture, e.g. a loaded session
// snapshot.
func (f *Factory) PlaybackEntries(entries []recorder.Entry, rate float64, loop bool, detail string) (DataSource, error) {
	return NewPlaybackSource(entries, rate, loop, detail, f.Emit, f.Logs)
}

// Live attaches to upstream bridge hardware.
func (f *Factory) Live(cfg LiveConfig) (DataSource, error) {
	return NewLiveSource(cfg, f.Enc.Mode, f.Enc, f.Emit, f.Logs)
}

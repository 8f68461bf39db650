package source

import (
	"fmt"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Emit delivers an encoded message to the broadcast path.
type Emit func(models.WireMessage)

// DataSource is one producer of wire traffic. Exactly one is active at a
// time; the router swaps them with a stop-then-start transition, never a
// hot swap.
type DataSource interface {
	// Start begins emitting. Connection-oriented sources may keep retrying
	// in the background rather than failing here.
	Start() error
	// Stop halts emission and blocks until no further events are in
	// flight.
	Stop()
	Status() models.SourceStatus
	// SubmitCommand feeds an inbound command into the source. Sources
	// without bidirectional control accept and discard (file playback);
	// unknown commands are rejected with an error.
	SubmitCommand(cmd models.InjectedCommand) error
}

// eventFromCommand maps an injected command back to the autopilot event a
// real upstream bus expects, for forwarding by the live source.
func eventFromCommand(cmd models.InjectedCommand) (models.SemanticEvent, error) {
	switch cmd.Name {
	case models.CmdAutopilotStandby:
		return models.AutopilotStateEvent{Mode: models.PilotStandby}, nil
	case models.CmdAutopilotEngage:
		mode := models.PilotAuto
		if m, ok := cmd.Args["mode"].(string); ok && m != "" {
			mode = m
		}
		target, _ := cmd.Args["target_heading"].(float64)
		return models.AutopilotStateEvent{Mode: mode, TargetHeadingDegrees: target}, nil
	}
	return nil, fmt.Errorf("source: command %q has no upstream representation", cmd.Name)
}

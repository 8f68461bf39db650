package models

import (
	"fmt"
	"time"
)

// BridgeMode selects the outer encoding convention of the simulated bridge.
// It is a property of the whole bridge, not of an individual message.
type BridgeMode string

const (
	BridgeNmea0183 BridgeMode = "nmea0183"
	BridgeNmea2000 BridgeMode = "nmea2000"
)

// ParseBridgeMode validates a mode string from config or the control plane.
func ParseBridgeMode(s string) (BridgeMode, error) {
	switch BridgeMode(s) {
	case BridgeNmea0183, BridgeNmea2000:
		return BridgeMode(s), nil
	}
	return "", fmt.Errorf("models: unknown bridge mode %q", s)
}

// MessageKind distinguishes the two wire forms the bridge speaks.
type MessageKind string

const (
	KindTextSentence MessageKind = "text"
	KindBinaryGroup  MessageKind = "binary"
)

// WireMessage is an immutable encoded message ready for broadcast.
// Payload includes framing (trailing CRLF for text sentences).
type WireMessage struct {
	Payload   []byte
	Kind      MessageKind
	Timestamp time.Time
	SourceTag string
}

// SemanticEvent is a typed sensor or autopilot value, free of transport
// concerns. Validate reports out-of-domain values; the codec refuses to
// encode an invalid event rather than silently clamping it.
type SemanticEvent interface {
	EventKind() string
	Validate() error
}

// DepthEvent is water depth below the transducer.
type DepthEvent struct {
	Meters float64
}

func (e DepthEvent) EventKind() string { return "depth" }

func (e DepthEvent) Validate() error {
	if e.Meters < 0 {
		return fmt.Errorf("models: depth %.2f m is negative", e.Meters)
	}
	return nil
}

// HeadingEvent is true heading.
type HeadingEvent struct {
	Degrees float64
}

func (e HeadingEvent) EventKind() string { return "heading" }

func (e HeadingEvent) Validate() error {
	if e.Degrees < 0 || e.Degrees >= 360 {
		return fmt.Errorf("models: heading %.1f out of [0,360)", e.Degrees)
	}
	return nil
}

// WindEvent is apparent wind at the masthead.
type WindEvent struct {
	AngleDegrees float64
	SpeedKnots   float64
}

func (e WindEvent) EventKind() string { return "wind" }

func (e WindEvent) Validate() error {
	if e.AngleDegrees < 0 || e.AngleDegrees >= 360 {
		return fmt.Errorf("models: wind angle %.1f out of [0,360)", e.AngleDegrees)
	}
	if e.SpeedKnots < 0 {
		return fmt.Errorf("models: wind speed %.1f kn is negative", e.SpeedKnots)
	}
	return nil
}

// PositionEvent is position plus speed and course over ground.
type PositionEvent struct {
	Latitude      float64
	Longitude     float64
	SpeedKnots    float64
	CourseDegrees float64
}

func (e PositionEvent) EventKind() string { return "position" }

func (e PositionEvent) Validate() error {
	if e.Latitude < -90 || e.Latitude > 90 {
		return fmt.Errorf("models: latitude %.5f out of [-90,90]", e.Latitude)
	}
	if e.Longitude < -180 || e.Longitude > 180 {
		return fmt.Errorf("models: longitude %.5f out of [-180,180]", e.Longitude)
	}
	if e.SpeedKnots < 0 {
		return fmt.Errorf("models: SOG %.1f kn is negative", e.SpeedKnots)
	}
	if e.CourseDegrees < 0 || e.CourseDegrees >= 360 {
		return fmt.Errorf("models: COG %.1f out of [0,360)", e.CourseDegrees)
	}
	return nil
}

// Autopilot pilot modes.
const (
	PilotStandby = "standby"
	PilotAuto    = "auto"
	PilotWind    = "wind"
	PilotTrack   = "track"
)

// AutopilotStateEvent is the pilot's engagement state and target heading.
// On the wire it is always a binary parameter group, in both bridge modes:
// on a real vessel the pilot sits on the binary bus.
type AutopilotStateEvent struct {
	Mode                 string
	TargetHeadingDegrees float64
}

func (e AutopilotStateEvent) EventKind() string { return "autopilot" }

func (e AutopilotStateEvent) Validate() error {
	switch e.Mode {
	case PilotStandby, PilotAuto, PilotWind, PilotTrack:
	default:
		return fmt.Errorf("models: unknown pilot mode %q", e.Mode)
	}
	if e.TargetHeadingDegrees < 0 || e.TargetHeadingDegrees >= 360 {
		return fmt.Errorf("models: target heading %.1f out of [0,360)", e.TargetHeadingDegrees)
	}
	return nil
}

// InjectedCommand is an inbound command, either scripted by a scenario
// TimedEvent or decoded from a connected client.
type InjectedCommand struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Command names understood by the scenario source.
const (
	CmdAutopilotEngage  = "autopilot.engage"
	CmdAutopilotStandby = "autopilot.standby"
	CmdHeadingAdjust    = "heading.adjust"
)

// ClientConnection describes one connected consumer on one transport.
// Owned by its protocol server; never shared across transports.
type ClientConnection struct {
	ID           string    `json:"id"`
	Transport    string    `json:"transport"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	BytesSent    int64     `json:"bytes_sent"`
	LastActivity time.Time `json:"last_activity"`
}

// Transport names used for ClientConnection.Transport and metrics keys.
const (
	TransportTCP       = "tcp"
	TransportUDP       = "udp"
	TransportWebSocket = "websocket"
)

// Source kinds for SimulatorState.ActiveSource.
const (
	SourceNone     = "none"
	SourceLive     = "live"
	SourceFile     = "file"
	SourceScenario = "scenario"
)

// SourceStatus is the data-source portion of the simulator state.
type SourceStatus struct {
	Kind           string  `json:"kind"`
	Running        bool    `json:"running"`
	ScenarioName   string  `json:"scenario_name,omitempty"`
	Phase          string  `json:"phase,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Detail         string  `json:"detail,omitempty"`
}

// SimulatorState is the control-plane visible snapshot. It is assembled
// under a single lock so callers never observe a half-applied transition.
type SimulatorState struct {
	ActiveSource     string         `json:"active_source"`
	BridgeMode       BridgeMode     `json:"bridge_mode"`
	ScenarioName     string         `json:"scenario_name,omitempty"`
	Phase            string         `json:"phase,omitempty"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
	ConnectedClients map[string]int `json:"connected_clients"`
	MessageRateHz    float64        `json:"message_rate_hz"`
	ErrorCount       int64          `json:"error_count"`
	Recording        bool           `json:"recording"`
}

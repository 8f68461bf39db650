package codec

import (
	"fmt"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// DecodeReason classifies a decode failure. Malformed input is an expected,
// recoverable condition in this domain (it is injected deliberately by
// failure-mode test suites), so decode errors are values, never panics.
type DecodeReason string

const (
	BadChecksum DecodeReason = "bad_checksum"
	Truncated   DecodeReason = "truncated"
	UnknownType DecodeReason = "unknown_type"
)

// DecodeError reports why a frame was rejected. The stream continues.
type DecodeError struct {
	Reason DecodeReason
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: %s: %s", e.Reason, e.Detail)
}

func decodeErr(reason DecodeReason, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Encoder turns semantic events into wire messages under one bridge mode.
// Source is the bus source address stamped into binary frames and
// passthrough envelopes.
type Encoder struct {
	Mode   models.BridgeMode
	Source uint8
}

// NewEncoder creates an encoder with the default bridge source address.
func NewEncoder(mode models.BridgeMode) *Encoder {
	return &Encoder{Mode: mode, Source: DefaultSource}
}

// Encode produces the wire form of ev. Ordinary instrument data maps 1:1 to
// the mode's native form. Autopilot state is always a binary parameter
// group; in nmea0183 mode that group is wrapped byte-for-byte inside a
// $PCDIN passthrough sentence instead of being translated to a text
// equivalent. elapsed is the logical stream time stamped into the envelope.
func (e *Encoder) Encode(ev models.SemanticEvent, elapsed time.Duration) (models.WireMessage, error) {
	if err := ev.Validate(); err != nil {
		return models.WireMessage{}, err
	}

	if ap, ok := ev.(models.AutopilotStateEvent); ok {
		payload := encodeAutopilotPayload(ap)
		if e.Mode == models.BridgeNmea2000 {
			return e.binaryMessage(PGNAutopilot, payload), nil
		}
		return e.textMessage(buildPassthrough(PGNAutopilot, e.Source, elapsed, payload)), nil
	}

	pgn, ok := groupIDFor(ev)
	if !ok {
		return models.WireMessage{}, fmt.Errorf("codec: no encoding for event kind %q", ev.EventKind())
	}
	if e.Mode == models.BridgeNmea2000 {
		return e.binaryMessage(pgn, encodeGroupPayload(ev)), nil
	}
	return e.textMessage(buildSentence(ev)), nil
}

func (e *Encoder) binaryMessage(pgn uint32, payload []byte) models.WireMessage {
	return models.WireMessage{
		Payload:   encodeFrame(Frame{Priority: DefaultPriority, GroupID: pgn, Destination: BroadcastAddr, Source: e.Source, Payload: payload}),
		Kind:      models.KindBinaryGroup,
		Timestamp: time.Now(),
		SourceTag: "codec",
	}
}

func (e *Encoder) textMessage(sentence []byte) models.WireMessage {
	return models.WireMessage{
		Payload:   sentence,
		Kind:      models.KindTextSentence,
		Timestamp: time.Now(),
		SourceTag: "codec",
	}
}

// Decode parses one wire frame, text or binary. Checksum and frame
// integrity are validated before any field parsing; a passthrough envelope
// recurses into the binary decoder.
func Decode(data []byte) (models.SemanticEvent, error) {
	if len(data) == 0 {
		return nil, decodeErr(Truncated, "empty frame")
	}
	if data[0] == '$' {
		return decodeSentence(data)
	}
	frame, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	return decodeGroupPayload(frame.GroupID, frame.Payload)
}

// CommandFromEvent maps a decoded inbound event to the command it implies.
// Clients steer the pilot by sending autopilot state; sensor values from
// clients carry no command semantics.
func CommandFromEvent(ev models.SemanticEvent) (models.InjectedCommand, bool) {
	ap, ok := ev.(models.AutopilotStateEvent)
	if !ok {
		return models.InjectedCommand{}, false
	}
	if ap.Mode == models.PilotStandby {
		return models.InjectedCommand{Name: models.CmdAutopilotStandby}, true
	}
	return models.InjectedCommand{
		Name: models.CmdAutopilotEngage,
		Args: map[string]interface{}{"mode": ap.Mode, "target_heading": ap.TargetHeadingDegrees},
	}, true
}

// Corrupt returns a copy of msg with its integrity check broken, for
// malformed-data fault injection. The original is left untouched.
func Corrupt(msg models.WireMessage) models.WireMessage {
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	if msg.Kind == models.KindTextSentence {
		// Flip one checksum hex digit, keeping the sentence well-framed.
		for i := len(payload) - 1; i >= 0; i-- {
			if payload[i] == '*' && i+2 < len(payload) {
				if payload[i+1] == '0' {
					payload[i+1] = '1'
				} else {
					payload[i+1] = '0'
				}
				break
			}
		}
	} else if len(payload) > 0 {
		payload[len(payload)-1] ^= 0xFF
	}
	out := msg
	out.Payload = payload
	return out
}

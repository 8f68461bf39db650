package codec

import (
	"encoding/binary"
	"math"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Parameter group ids carried by the bridge.
const (
	PGNHeading   uint32 = 127250
	PGNAutopilot uint32 = 127237
	PGNDepth     uint32 = 128267
	PGNPosition  uint32 = 129025
	PGNWind      uint32 = 130306
)

// Bus addressing defaults for frames originated by the bridge.
const (
	DefaultPriority uint8 = 2
	DefaultSource   uint8 = 0x0F
	BroadcastAddr   uint8 = 0xFF
)

// MaxGroupPayload is the largest payload a single frame may carry.
const MaxGroupPayload = 223

const frameHeaderLen = 7 // priority + 24-bit group id + dst + src + length

// Frame is one binary parameter-group message.
type Frame struct {
	Priority    uint8
	GroupID     uint32 // 24-bit
	Destination uint8
	Source      uint8
	Payload     []byte
}

// encodeFrame serialises a frame as header, payload, then an XOR integrity
// byte over everything before it.
func encodeFrame(f Frame) []byte {
	out := make([]byte, 0, frameHeaderLen+len(f.Payload)+1)
	out = append(out,
		f.Priority,
		byte(f.GroupID), byte(f.GroupID>>8), byte(f.GroupID>>16),
		f.Destination, f.Source,
		byte(len(f.Payload)))
	out = append(out, f.Payload...)
	var sum byte
	for _, b := range out {
		sum ^= b
	}
	return append(out, sum)
}

func decodeFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderLen+1 {
		return Frame{}, decodeErr(Truncated, "frame is %d bytes, header needs %d", len(data), frameHeaderLen+1)
	}
	var sum byte
	for _, b := range data[:len(data)-1] {
		sum ^= b
	}
	if sum != data[len(data)-1] {
		return Frame{}, decodeErr(BadChecksum, "frame check computed %02X, frame says %02X", sum, data[len(data)-1])
	}
	payloadLen := int(data[6])
	if payloadLen > MaxGroupPayload {
		return Frame{}, decodeErr(Truncated, "declared payload %d exceeds %d", payloadLen, MaxGroupPayload)
	}
	if len(data) != frameHeaderLen+payloadLen+1 {
		return Frame{}, decodeErr(Truncated, "declared payload %d, frame carries %d", payloadLen, len(data)-frameHeaderLen-1)
	}
	return Frame{
		Priority:    data[0],
		GroupID:     uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16,
		Destination: data[4],
		Source:      data[5],
		Payload:     data[frameHeaderLen : frameHeaderLen+payloadLen],
	}, nil
}

// Field scaling inside payloads mirrors text-sentence precision (0.1 for
// metres, degrees and knots; 1e-7 degrees for lat/lon) so a round trip
// through either wire form reproduces the event exactly.

func encodeGroupPayload(ev models.SemanticEvent) []byte {
	switch e := ev.(type) {
	case models.DepthEvent:
		p := make([]byte, 8)
		binary.LittleEndian.PutUint32(p, uint32(math.Round(e.Meters*100)))
		p[4], p[5] = 0, 0 // transducer offset, millimetres
		p[6], p[7] = 0xFF, 0xFF
		return p
	case models.HeadingEvent:
		p := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
		binary.LittleEndian.PutUint16(p, uint16(math.Round(e.Degrees*10)))
		return p
	case models.WindEvent:
		p := []byte{0, 0, 0, 0, 0x02, 0xFF, 0xFF, 0xFF}
		binary.LittleEndian.PutUint16(p[0:], uint16(math.Round(e.SpeedKnots*10)))
		binary.LittleEndian.PutUint16(p[2:], uint16(math.Round(e.AngleDegrees*10)))
		return p
	case models.PositionEvent:
		p := make([]byte, 12)
		binary.LittleEndian.PutUint32(p[0:], uint32(int32(math.Round(e.Latitude*1e7))))
		binary.LittleEndian.PutUint32(p[4:], uint32(int32(math.Round(e.Longitude*1e7))))
		binary.LittleEndian.PutUint16(p[8:], uint16(math.Round(e.SpeedKnots*10)))
		binary.LittleEndian.PutUint16(p[10:], uint16(math.Round(e.CourseDegrees*10)))
		return p
	}
	return nil
}

func encodeAutopilotPayload(e models.AutopilotStateEvent) []byte {
	p := []byte{pilotModeCode(e.Mode), 0, 0, 0xFF}
	binary.LittleEndian.PutUint16(p[1:], uint16(math.Round(e.TargetHeadingDegrees*10)))
	return p
}

func groupIDFor(ev models.SemanticEvent) (uint32, bool) {
	switch ev.(type) {
	case models.DepthEvent:
		return PGNDepth, true
	case models.HeadingEvent:
		return PGNHeading, true
	case models.WindEvent:
		return PGNWind, true
	case models.PositionEvent:
		return PGNPosition, true
	case models.AutopilotStateEvent:
		return PGNAutopilot, true
	}
	return 0, false
}

func decodeGroupPayload(pgn uint32, payload []byte) (models.SemanticEvent, error) {
	switch pgn {
	case PGNDepth:
		if len(payload) < 4 {
			return nil, decodeErr(Truncated, "depth group needs 4 bytes, got %d", len(payload))
		}
		return models.DepthEvent{Meters: float64(binary.LittleEndian.Uint32(payload)) / 100}, nil
	case PGNHeading:
		if len(payload) < 2 {
			return nil, decodeErr(Truncated, "heading group needs 2 bytes, got %d", len(payload))
		}
		return models.HeadingEvent{Degrees: float64(binary.LittleEndian.Uint16(payload)) / 10}, nil
	case PGNWind:
		if len(payload) < 4 {
			return nil, decodeErr(Truncated, "wind group needs 4 bytes, got %d", len(payload))
		}
		return models.WindEvent{
			SpeedKnots:   float64(binary.LittleEndian.Uint16(payload[0:])) / 10,
			AngleDegrees: float64(binary.LittleEndian.Uint16(payload[2:])) / 10,
		}, nil
	case PGNPosition:
		if len(payload) < 12 {
			return nil, decodeErr(Truncated, "position group needs 12 bytes, got %d", len(payload))
		}
		return models.PositionEvent{
			Latitude:      float64(int32(binary.LittleEndian.Uint32(payload[0:]))) / 1e7,
			Longitude:     float64(int32(binary.LittleEndian.Uint32(payload[4:]))) / 1e7,
			SpeedKnots:    float64(binary.LittleEndian.Uint16(payload[8:])) / 10,
			CourseDegrees: float64(binary.LittleEndian.Uint16(payload[10:])) / 10,
		}, nil
	case PGNAutopilot:
		if len(payload) < 3 {
			return nil, decodeErr(Truncated, "autopilot group needs 3 bytes, got %d", len(payload))
		}
		mode, ok := pilotModeName(payload[0])
		if !ok {
			return nil, decodeErr(UnknownType, "pilot mode code %d", payload[0])
		}
		return models.AutopilotStateEvent{
			Mode:                 mode,
			TargetHeadingDegrees: float64(binary.LittleEndian.Uint16(payload[1:])) / 10,
		}, nil
	}
	return nil, decodeErr(UnknownType, "parameter group %d", pgn)
}

func pilotModeCode(mode string) byte {
	switch mode {
	case models.PilotAuto:
		return 1
	case models.PilotWind:
		return 2
	case models.PilotTrack:
		return 3
	}
	return 0
}

func pilotModeName(code byte) (string, bool) {
	switch code {
	case 0:
		return models.PilotStandby, true
	case 1:
		return models.PilotAuto, true
	case 2:
		return models.PilotWind, true
	case 3:
		return models.PilotTrack, true
	}
	return "", false
}

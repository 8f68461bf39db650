package codec

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Sentence types emitted in nmea0183 mode. PCDIN is the passthrough
// envelope carrying an opaque binary parameter group.
const (
	sentenceDepth       = "SDDPT"
	sentenceHeading     = "HEHDT"
	sentenceWind        = "WIMWV"
	sentencePosition    = "GPRMC"
	sentencePassthrough = "PCDIN"
)

// Checksum is the XOR of all bytes between '$' and '*'.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

func frameSentence(body string) []byte {
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, Checksum(body)))
}

func buildSentence(ev models.SemanticEvent) []byte {
	switch e := ev.(type) {
	case models.DepthEvent:
		return frameSentence(fmt.Sprintf("%s,%.1f,0.0", sentenceDepth, e.Meters))
	case models.HeadingEvent:
		return frameSentence(fmt.Sprintf("%s,%.1f,T", sentenceHeading, e.Degrees))
	case models.WindEvent:
		return frameSentence(fmt.Sprintf("%s,%.1f,R,%.1f,N,A", sentenceWind, e.AngleDegrees, e.SpeedKnots))
	case models.PositionEvent:
		latStr, latHemi := formatCoordinate(e.Latitude, 2, "N", "S")
		lonStr, lonHemi := formatCoordinate(e.Longitude, 3, "E", "W")
		return frameSentence(fmt.Sprintf("%s,,A,%s,%s,%s,%s,%.1f,%.1f,,,,A",
			sentencePosition, latStr, latHemi, lonStr, lonHemi, e.SpeedKnots, e.CourseDegrees))
	}
	return nil
}

// buildPassthrough wraps a binary parameter-group payload in a $PCDIN
// sentence. The outer checksum covers the envelope; the inner payload is
// preserved byte-for-byte as hex.
func buildPassthrough(pgn uint32, src uint8, elapsed time.Duration, payload []byte) []byte {
	body := fmt.Sprintf("%s,%06X,%08X,%02X,%s",
		sentencePassthrough, pgn, uint32(elapsed.Milliseconds()), src,
		strings.ToUpper(hex.EncodeToString(payload)))
	return frameSentence(body)
}

func decodeSentence(data []byte) (models.SemanticEvent, error) {
	s := strings.TrimRight(string(data), "\r\n")
	if len(s) < 2 || s[0] != '$' {
		return nil, decodeErr(Truncated, "missing leading $")
	}
	star := strings.LastIndexByte(s, '*')
	if star < 0 || star+3 > len(s) {
		return nil, decodeErr(Truncated, "missing checksum")
	}
	body := s[1:star]
	want, err := strconv.ParseUint(s[star+1:star+3], 16, 8)
	if err != nil {
		return nil, decodeErr(BadChecksum, "unparseable checksum %q", s[star+1:star+3])
	}
	if got := Checksum(body); got != byte(want) {
		return nil, decodeErr(BadChecksum, "computed %02X, sentence says %02X", got, want)
	}

	fields := strings.Split(body, ",")
	switch fields[0] {
	case sentenceDepth:
		if len(fields) < 2 {
			return nil, decodeErr(Truncated, "DPT needs a depth field")
		}
		m, err := parseFloatField(fields[1], "depth")
		if err != nil {
			return nil, err
		}
		return models.DepthEvent{Meters: m}, nil
	case sentenceHeading:
		if len(fields) < 2 {
			return nil, decodeErr(Truncated, "HDT needs a heading field")
		}
		deg, err := parseFloatField(fields[1], "heading")
		if err != nil {
			return nil, err
		}
		return models.HeadingEvent{Degrees: deg}, nil
	case sentenceWind:
		if len(fields) < 4 {
			return nil, decodeErr(Truncated, "MWV needs angle and speed fields")
		}
		angle, err := parseFloatField(fields[1], "wind angle")
		if err != nil {
			return nil, err
		}
		speed, err := parseFloatField(fields[3], "wind speed")
		if err != nil {
			return nil, err
		}
		return models.WindEvent{AngleDegrees: angle, SpeedKnots: speed}, nil
	case sentencePosition:
		if len(fields) < 9 {
			return nil, decodeErr(Truncated, "RMC needs 9 fields, got %d", len(fields))
		}
		lat, err := parseCoordinate(fields[3], fields[4], "S")
		if err != nil {
			return nil, err
		}
		lon, err := parseCoordinate(fields[5], fields[6], "W")
		if err != nil {
			return nil, err
		}
		sog, err := parseFloatField(fields[7], "SOG")
		if err != nil {
			return nil, err
		}
		cog, err := parseFloatField(fields[8], "COG")
		if err != nil {
			return nil, err
		}
		return models.PositionEvent{Latitude: lat, Longitude: lon, SpeedKnots: sog, CourseDegrees: cog}, nil
	case sentencePassthrough:
		return decodePassthrough(fields)
	}
	return nil, decodeErr(UnknownType, "sentence type %q", fields[0])
}

// decodePassthrough recurses into the binary decoder for the enveloped
// parameter group.
func decodePassthrough(fields []string) (models.SemanticEvent, error) {
	if len(fields) < 5 {
		return nil, decodeErr(Truncated, "PCDIN needs pgn, time, source and data fields")
	}
	pgn, err := strconv.ParseUint(fields[1], 16, 24)
	if err != nil {
		return nil, decodeErr(Truncated, "bad PCDIN group id %q", fields[1])
	}
	payload, err := hex.DecodeString(fields[4])
	if err != nil {
		return nil, decodeErr(Truncated, "bad PCDIN payload hex: %v", err)
	}
	return decodeGroupPayload(uint32(pgn), payload)
}

func parseFloatField(s, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, decodeErr(Truncated, "bad %s field %q", name, s)
	}
	return v, nil
}

// formatCoordinate renders decimal degrees as NMEA ddmm.mmmm with the
// hemisphere letter. degDigits is 2 for latitude, 3 for longitude.
func formatCoordinate(v float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	min := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), min), hemi
}

func parseCoordinate(s, hemi, negHemi string) (float64, error) {
	dot := strings.IndexByte(s, '.')
	if dot < 3 {
		return 0, decodeErr(Truncated, "bad coordinate %q", s)
	}
	deg, err := strconv.ParseFloat(s[:dot-2], 64)
	if err != nil {
		return 0, decodeErr(Truncated, "bad coordinate degrees %q", s)
	}
	min, err := strconv.ParseFloat(s[dot-2:], 64)
	if err != nil {
		return 0, decodeErr(Truncated, "bad coordinate minutes %q", s)
	}
	v := deg + min/60
	if hemi == negHemi {
		v = -v
	}
	return v, nil
}

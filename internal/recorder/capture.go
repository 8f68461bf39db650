package recorder

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Entry is one captured wire message with its offset from capture start.
type Entry struct {
	Offset  time.Duration
	Kind    models.MessageKind
	Payload []byte
}

// Capture text format, one message per line:
//
//	<offset-ms> <kind> <base64-payload>
//
// The same format backs session snapshots in the database and capture files
// given to the file playback source.

// FormatCapture renders entries in capture text form.
func FormatCapture(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d %s %s\n", e.Offset.Milliseconds(), e.Kind,
			base64.StdEncoding.EncodeToString(e.Payload))
	}
	return b.String()
}

// ParseCapture reads capture text. Blank lines and '#' comments are
// allowed; anything else malformed fails the whole parse, since replaying a
// half-understood capture would feed clients silently wrong traffic.
func ParseCapture(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("recorder: capture line %d: want 3 fields, got %d", lineNo, len(parts))
		}
		ms, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("recorder: capture line %d: bad offset %q", lineNo, parts[0])
		}
		kind := models.MessageKind(parts[1])
		if kind != models.KindTextSentence && kind != models.KindBinaryGroup {
			return nil, fmt.Errorf("recorder: capture line %d: unknown kind %q", lineNo, parts[1])
		}
		payload, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("recorder: capture line %d: bad payload: %w", lineNo, err)
		}
		entries = append(entries, Entry{Offset: time.Duration(ms) * time.Millisecond, Kind: kind, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recorder: reading capture: %w", err)
	}
	return entries, nil
}

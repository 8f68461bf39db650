package transport

import (
	"bufio"
	"io"

	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// Config wires a protocol server to the hub and the inbound command path.
type Config struct {
	Hub *Hub
	// OnCommand receives commands decoded from client traffic.
	OnCommand func(cmd models.InjectedCommand, clientID string)
	// OnDecodeError is called for each rejected inbound frame.
	OnDecodeError func(err error)
}

// readWireFrame reads one inbound frame: a CRLF-terminated sentence when
// the first byte is '$', otherwise a length-prefixed binary parameter
// group.
func readWireFrame(r *bufio.Reader) ([]byte, error) {
	first, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	if first[0] == '$' {
		return r.ReadBytes('\n')
	}
	header := make([]byte, 7)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	rest := make([]byte, int(header[6])+1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return append(header, rest...), nil
}

// handleInbound decodes one client frame and forwards any command it
// implies. Decode failures are counted and dropped; the stream continues.
func (cfg Config) handleInbound(data []byte, clientID string) {
	ev, err := codec.Decode(data)
	if err != nil {
		if cfg.OnDecodeError != nil {
			cfg.OnDecodeError(err)
		}
		return
	}
	cmd, ok := codec.CommandFromEvent(ev)
	if !ok {
		return
	}
	if cfg.OnCommand != nil {
		cfg.OnCommand(cmd, clientID)
	}
}

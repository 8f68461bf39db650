package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"go.bug.st/serial"
)

// LiveConfig selects the upstream bridge hardware: a TCP endpoint or a
// local serial device.
type LiveConfig struct {
	Host   string
	Port   int
	Device string
	Baud   int
}

func (c LiveConfig) endpoint() string {
	if c.Device != "" {
		return fmt.Sprintf("%s@%d", c.Device, c.Baud)
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

func (c LiveConfig) validate() error {
	if c.Device != "" {
		if c.Baud <= 0 {
			return errors.New("source: live serial device needs a baud rate")
		}
		return nil
	}
	if c.Host == "" || c.Port <= 0 {
		return errors.New("source: live mode needs host and port, or a serial device")
	}
	return nil
}

const (
	liveDialTimeout  = 5 * time.Second
	liveBackoffStart = time.Second
	liveBackoffMax   = 30 * time.Second
)

// LiveSource relays traffic from real bridge hardware verbatim and forwards
// inbound commands upstream. An upstream failure triggers reconnect with
// backoff; it never brings the service down.
type LiveSource struct {
	cfg  LiveConfig
	mode models.BridgeMode
	enc  *codec.Encoder
	emit Emit
	logs *logging.LogStore

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	started   time.Time
}

// NewLiveSource validates cfg; the connection is made on Start.
func NewLiveSource(cfg LiveConfig, mode models.BridgeMode, enc *codec.Encoder, emit Emit, logs *logging.LogStore) (*LiveSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &LiveSource{cfg: cfg, mode: mode, enc: enc, emit: emit, logs: logs}, nil
}

func (l *LiveSource) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started = time.Now()
	go l.run(ctx)
	return nil
}

func (l *LiveSource) run(ctx context.Context) {
	defer close(l.done)
	backoff := liveBackoffStart
	for ctx.Err() == nil {
		conn, err := l.dial()
		if err != nil {
			l.logs.LogAndStore("warning", "live: connect to %s failed: %v (retry in %s)", l.cfg.endpoint(), err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff *= 2; backoff > liveBackoffMax {
				backoff = liveBackoffMax
			}
			continue
		}
		backoff = liveBackoffStart
		l.setConn(conn)
		l.logs.LogAndStore("info", "live: connected to %s", l.cfg.endpoint())
		err = l.relay(ctx, conn)
		l.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		l.logs.LogAndStore("warning", "live: upstream %s dropped: %v", l.cfg.endpoint(), err)
	}
}

func (l *LiveSource) dial() (io.ReadWriteCloser, error) {
	if l.cfg.Device != "" {
		return serial.Open(l.cfg.Device, &serial.Mode{BaudRate: l.cfg.Baud})
	}
	return net.DialTimeout("tcp", l.cfg.endpoint(), liveDialTimeout)
}

// relay reads upstream frames and re-emits them untouched. In nmea0183
// mode the upstream speaks CRLF-delimited sentences; in nmea2000 mode,
// length-prefixed binary parameter groups.
func (l *LiveSource) relay(ctx context.Context, conn io.Reader) error {
	if l.mode == models.BridgeNmea0183 {
		r := bufio.NewReader(conn)
		for ctx.Err() == nil {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return err
			}
			l.emit(models.WireMessage{
				Payload:   line,
				Kind:      models.KindTextSentence,
				Timestamp: time.Now(),
				SourceTag: "live",
			})
		}
		return ctx.Err()
	}

	r := bufio.NewReader(conn)
	for ctx.Err() == nil {
		header := make([]byte, 7)
		if _, err := io.ReadFull(r, header); err != nil {
			return err
		}
		payloadLen := int(header[6])
		rest := make([]byte, payloadLen+1) // payload plus integrity byte
		if _, err := io.ReadFull(r, rest); err != nil {
			return err
		}
		l.emit(models.WireMessage{
			Payload:   append(header, rest...),
			Kind:      models.KindBinaryGroup,
			Timestamp: time.Now(),
			SourceTag: "live",
		})
	}
	return ctx.Err()
}

func (l *LiveSource) setConn(conn io.ReadWriteCloser) {
	l.mu.Lock()
	l.conn = conn
	l.connected = conn != nil
	l.mu.Unlock()
}

func (l *LiveSource) Stop() {
	l.mu.Lock()
	cancel, done, conn := l.cancel, l.done, l.conn
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close() // unblock the reader
	}
	<-done
	l.logs.LogAndStore("info", "live: source stopped")
}

func (l *LiveSource) Status() models.SourceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	detail := l.cfg.endpoint()
	if !l.connected {
		detail += " (reconnecting)"
	}
	return models.SourceStatus{
		Kind:           models.SourceLive,
		Running:        l.cancel != nil,
		ElapsedSeconds: time.Since(l.started).Seconds(),
		Detail:         detail,
	}
}

// SubmitCommand forwards a command to the physical bus in the bridge's
// wire form.
func (l *LiveSource) SubmitCommand(cmd models.InjectedCommand) error {
	ev, err := eventFromCommand(cmd)
	if err != nil {
		return err
	}
	msg, err := l.enc.Encode(ev, time.Since(l.started))
	if err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("source: live upstream not connected")
	}
	if nc, ok := conn.(net.Conn); ok {
		nc.SetWriteDeadline(time.Now().Add(liveDialTimeout))
	}
	if _, err := conn.Write(msg.Payload); err != nil {
		return fmt.Errorf("source: forwarding command upstream: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

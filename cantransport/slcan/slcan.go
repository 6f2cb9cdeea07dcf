// Package slcan implements cantransport.Transport over a USB CAN-FD adapter
// that presents itself as a serial port and speaks an SLCAN-derived ASCII
// line protocol. Classic SLCAN ('t'/'T' frames) tops out at 8 data bytes;
// this adapter family extends it with an 'F' frame carrying the 64-byte
// CAN-FD payload, since SLCAN itself predates CAN-FD.
package slcan

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/fleetops/bms-gateway/cantransport"
)

// Compile-time interface check.
var _ cantransport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for the adapter's serial link.
	DefaultBaudRate = 2000000

	// frameQueueDepth bounds the internal channel so a slow collector
	// cannot make the read loop block indefinitely.
	frameQueueDepth = 256

	// canfdMaxDataLen is the CAN-FD payload ceiling; the BMU telemetry
	// frame uses all 64 bytes.
	canfdMaxDataLen = 64
)

// Config holds the configuration for an SLCAN transport.
type Config struct {
	// Port is the serial port path (e.g. "/dev/ttyACM0" or "COM5").
	Port string
	// BaudRate is the serial baud rate. Defaults to DefaultBaudRate.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements cantransport.Transport over an SLCAN-derived serial
// link.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	port         serial.Port
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	frameCh      chan cantransport.Frame
	frameHandler cantransport.FrameHandler
	stateHandler cantransport.StateHandler
}

// New creates a new SLCAN transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("slcan"),
	}
}

// Start opens the serial port and begins reading frame lines.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}
	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.frameCh = make(chan cantransport.Frame, frameQueueDepth)
	t.done = make(chan struct{})
	handler := t.stateHandler
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.readLoop(readCtx)

	t.log.Info("connected to CAN-FD adapter", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	if handler != nil {
		handler(t, cantransport.EventConnected)
	}
	return nil
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	handler := t.stateHandler
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	if handler != nil {
		handler(t, cantransport.EventDisconnected)
	}
	return err
}

// IsConnected reports whether the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback invoked for every received frame.
func (t *Transport) SetFrameHandler(fn cantransport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for transport connection state changes.
func (t *Transport) SetStateHandler(fn cantransport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// Send encodes a frame as an 'F' line and writes it to the serial port.
func (t *Transport) Send(ctx context.Context, frame cantransport.Frame) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return ErrNotConnected
	}

	line := encodeFrameLine(frame)
	_, err := port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

// CollectFrames blocks until expected frames arrive or deadline elapses.
func (t *Transport) CollectFrames(ctx context.Context, expected int, deadline time.Duration) ([]cantransport.Frame, error) {
	t.mu.RLock()
	ch := t.frameCh
	t.mu.RUnlock()
	if ch == nil {
		return nil, ErrNotConnected
	}
	return cantransport.CollectFrames(ctx, ch, expected, deadline)
}

// encodeFrameLine renders a frame as "Fiiillhexdata\r", where iii is the
// 3-hex-digit identifier, ll is the 2-hex-digit byte count, and hexdata is
// the payload in hex.
func encodeFrameLine(frame cantransport.Frame) string {
	var b strings.Builder
	b.WriteByte('F')
	fmt.Fprintf(&b, "%03X%02X", frame.ID, len(frame.Data))
	b.WriteString(hex.EncodeToString(frame.Data))
	b.WriteByte('\r')
	return b.String()
}

// decodeFrameLine parses an 'F' line back into a frame. Lines with any
// other leading byte (status responses, classic 't'/'T' frames this
// deployment does not use) are ignored by the caller.
func decodeFrameLine(line string) (cantransport.Frame, error) {
	if len(line) < 6 || line[0] != 'F' {
		return cantransport.Frame{}, ErrMalformedLine
	}
	id, err := strconv.ParseUint(line[1:4], 16, 11)
	if err != nil {
		return cantransport.Frame{}, fmt.Errorf("%w: bad identifier", ErrMalformedLine)
	}
	lenBytes, err := hex.DecodeString(line[4:6])
	if err != nil || len(lenBytes) != 1 {
		return cantransport.Frame{}, fmt.Errorf("%w: bad length", ErrMalformedLine)
	}
	length := int(lenBytes[0])
	want := 6 + length*2
	if len(line) < want {
		return cantransport.Frame{}, fmt.Errorf("%w: short payload", ErrMalformedLine)
	}
	data, err := hex.DecodeString(line[6:want])
	if err != nil {
		return cantransport.Frame{}, fmt.Errorf("%w: bad payload", ErrMalformedLine)
	}

	return cantransport.Frame{ID: uint16(id), Data: data}, nil
}

// readLoop scans newline/carriage-return-delimited ASCII lines from the
// serial port and dispatches decoded frames.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	scanner := bufio.NewScanner(t.port)
	scanner.Split(scanLines)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		frame, err := decodeFrameLine(line)
		if err != nil {
			t.log.Debug("ignoring malformed slcan line", "line", line, "error", err)
			continue
		}

		t.mu.RLock()
		handler := t.frameHandler
		ch := t.frameCh
		t.mu.RUnlock()

		if len(frame.Data) != canfdMaxDataLen {
			t.log.Debug("frame with unexpected DLC, not counted toward collection",
				"id", frame.ID, "length", len(frame.Data))
		} else {
			select {
			case ch <- frame:
			default:
				t.log.Warn("frame queue full, dropping frame", "id", frame.ID)
			}
		}
		if handler != nil {
			handler(frame)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		if errors.Is(err, io.EOF) {
			t.handleDisconnect(err)
			return
		}
		t.log.Error("slcan read error", "error", err)
		t.handleDisconnect(err)
	}
}

// scanLines splits on '\r' or '\n', matching the line terminators an
// SLCAN-style adapter uses.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("slcan adapter disconnected", "error", err)
	}
	if handler != nil {
		handler(t, cantransport.EventDisconnected)
	}
}

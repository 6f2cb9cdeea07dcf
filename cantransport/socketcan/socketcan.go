// Package socketcan implements cantransport.Transport over a raw Linux
// SocketCAN interface with CAN-FD frames enabled, binding directly to the
// kernel CAN_RAW protocol family rather than shelling out to an external
// dump utility.
package socketcan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fleetops/bms-gateway/cantransport"
)

// Compile-time interface check.
var _ cantransport.Transport = (*Transport)(nil)

const (
	// canfdFrameSize is sizeof(struct canfd_frame) on Linux: 4-byte ID,
	// 1-byte length, 1-byte flags, 2 reserved bytes, 64-byte payload.
	canfdFrameSize = 72
	// canfdMaxDataLen is the CAN-FD payload ceiling; the BMU telemetry
	// frame uses all 64 bytes.
	canfdMaxDataLen = 64
	// frameQueueDepth bounds the internal channel so a slow collector
	// cannot make the read loop block indefinitely.
	frameQueueDepth = 256
)

// Config holds the configuration for a SocketCAN transport.
type Config struct {
	// Interface is the kernel network interface name (e.g. "can0").
	Interface string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements cantransport.Transport over a raw AF_CAN socket.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	connected    bool
	fd           int
	cancel       context.CancelFunc
	done         chan struct{}
	frameCh      chan cantransport.Frame
	frameHandler cantransport.FrameHandler
	stateHandler cantransport.StateHandler
}

// New creates a new SocketCAN transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("socketcan"),
	}
}

// sockaddrCAN mirrors the kernel's struct sockaddr_can layout for the
// AF_CAN/CAN_RAW address family.
type sockaddrCAN struct {
	Family  uint16
	_       uint16 // alignment padding
	Ifindex int32
	_       [8]byte // can_addr union, unused for raw sockets
}

// Start opens the CAN_RAW socket, enables FD frames, binds it to the
// configured interface, and begins the receive loop.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Interface == "" {
		return errors.New("can interface is required")
	}

	iface, err := net.InterfaceByName(t.cfg.Interface)
	if err != nil {
		return fmt.Errorf("resolving interface %q: %w", t.cfg.Interface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("opening CAN_RAW socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("enabling CAN-FD frames: %w", err)
	}

	addr := sockaddrCAN{Family: unix.AF_CAN, Ifindex: int32(iface.Index)}
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&addr)), unsafe.Sizeof(addr))
	if errno != 0 {
		unix.Close(fd)
		return fmt.Errorf("binding to %s: %w", t.cfg.Interface, errno)
	}

	t.mu.Lock()
	t.fd = fd
	t.connected = true
	t.frameCh = make(chan cantransport.Frame, frameQueueDepth)
	t.done = make(chan struct{})
	handler := t.stateHandler
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.readLoop(readCtx)

	t.log.Info("connected to CAN-FD interface", "interface", t.cfg.Interface)
	if handler != nil {
		handler(t, cantransport.EventConnected)
	}
	return nil
}

// Stop closes the socket and stops the receive loop.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	handler := t.stateHandler
	t.connected = false
	fd := t.fd
	t.fd = -1
	done := t.done
	t.mu.Unlock()

	var err error
	if fd > 0 {
		err = unix.Close(fd)
	}

	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, cantransport.EventDisconnected)
	}
	return err
}

// IsConnected reports whether the socket is currently open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback invoked for every received frame, in
// addition to the internal buffer CollectFrames drains from.
func (t *Transport) SetFrameHandler(fn cantransport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// Send writes a single CAN-FD frame to the bus.
func (t *Transport) Send(ctx context.Context, frame cantransport.Frame) error {
	t.mu.RLock()
	fd := t.fd
	connected := t.connected
	t.mu.RUnlock()

	if !connected || fd <= 0 {
		return ErrNotConnected
	}
	if len(frame.Data) > canfdMaxDataLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(frame.Data))
	}

	buf := make([]byte, canfdFrameSize)
	buf[0] = byte(frame.ID)
	buf[1] = byte(frame.ID >> 8)
	buf[4] = byte(len(frame.Data))
	copy(buf[8:], frame.Data)

	_, err := unix.Write(fd, buf)
	if err != nil {
		return fmt.Errorf("writing CAN-FD frame: %w", err)
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

// readLoop continuously reads canfd_frame structures from the socket and
// dispatches them to the frame channel and any registered handler.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, canfdFrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := unix.Read(t.fd, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Error("CAN-FD read error", "error", err)
			t.handleDisconnect(err)
			return
		}
		if n < 8 {
			continue
		}

		id := uint16(buf[0]) | uint16(buf[1])<<8
		length := int(buf[4])
		if length > canfdMaxDataLen || 8+length > n {
			continue
		}
		data := make([]byte, length)
		copy(data, buf[8:8+length])
		frame := cantransport.Frame{ID: id, Data: data}

		t.mu.RLock()
		handler := t.frameHandler
		ch := t.frameCh
		t.mu.RUnlock()

		if length != canfdMaxDataLen {
			t.log.Debug("frame with unexpected DLC, not counted toward collection", "id", id, "length", length)
		} else {
			select {
			case ch <- frame:
			default:
				t.log.Warn("frame queue full, dropping frame", "id", id)
			}
		}
		if handler != nil {
			handler(frame)
		}
	}
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("CAN-FD interface disconnected", "error", err)
	}
	if handler != nil {
		handler(t, cantransport.EventDisconnected)
	}
}

// SetStateHandler sets the callback for transport connection state changes.
func (t *Transport) SetStateHandler(fn cantransport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

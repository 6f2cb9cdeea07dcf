// Package modbus implements a Modbus/TCP server exposing a register file
// over the eight function codes a supervisory system needs: coil and
// register reads, single and multiple writes.
package modbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/fleetops/bms-gateway/registerfile"
)

// Config configures a Server.
type Config struct {
	// BindHost and BindPort form the TCP listen address.
	BindHost string
	BindPort string
	// Logger for server events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Server is a Modbus/TCP server backed by a registerfile.File. Each
// accepted connection is handled by its own goroutine, reading and
// replying to MBAP-framed requests until the peer closes or Stop is
// called.
type Server struct {
	cfg  Config
	log  *slog.Logger
	regs *registerfile.File

	mu       sync.Mutex
	cancel   context.CancelFunc
	listener net.Listener
	wg       sync.WaitGroup
	conns    *connRegistry
}

// NewServer creates a Modbus/TCP server over the given register file.
func NewServer(cfg Config, regs *registerfile.File) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:   cfg,
		log:   logger.WithGroup("modbus"),
		regs:  regs,
		conns: newConnRegistry(),
	}
}

// Start listens on the configured address and accepts connections until
// ctx is cancelled or Stop is called. Returns once the listener is bound;
// the accept loop runs in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.BindHost, s.cfg.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("modbus: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("listening", "addr", addr)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Stop closes the listener, closes all tracked connections, and waits for
// their worker goroutines to return.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.conns.closeAll()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		s.conns.add(conn)
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.conns.remove(conn)
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.serveRequest(r, conn); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("connection closed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

// serveRequest reads one MBAP-framed request, dispatches it, and writes
// back the response (or exception). Returns a non-nil error only when the
// connection itself should be torn down.
func (s *Server) serveRequest(r *bufio.Reader, w io.Writer) error {
	hdrBuf := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return err
	}
	h, err := parseHeader(hdrBuf)
	if err != nil {
		return err
	}

	if h.ProtocolID != 0 {
		return fmt.Errorf("%w: %d", ErrProtocolMismatch, h.ProtocolID)
	}
	// Length must cover unit_id plus at least a function code; without a
	// function code no exception response can be built.
	if h.Length < 2 || h.Length >= maxLength {
		return fmt.Errorf("%w: length=%d", ErrOversizedFrame, h.Length)
	}

	// Length counts unit_id plus the PDU that follows it.
	remaining := make([]byte, h.Length-1)
	if _, err := io.ReadFull(r, remaining); err != nil {
		return err
	}

	respPDU, dispatchErr := dispatchFunctionCode(s.regs, remaining)
	var exc *Exception
	if dispatchErr != nil {
		if !errors.As(dispatchErr, &exc) {
			return dispatchErr
		}
		respPDU = exceptionPDU(remaining[0], exc.Code)
	}

	respHeader := header{
		TransactionID: h.TransactionID,
		ProtocolID:    0,
		Length:        uint16(1 + len(respPDU)),
		UnitID:        h.UnitID,
	}
	out := make([]byte, mbapHeaderSize+len(respPDU))
	writeHeader(out, respHeader)
	copy(out[mbapHeaderSize:], respPDU)

	_, err = w.Write(out)
	return err
}

package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"icc.tech/daq-core/internal/log"
)

// UDSServer serves the Dispatcher's methods over a Unix Domain Socket,
// one JSON-RPC 2.0 request/response per line.
type UDSServer struct {
	socketPath string
	dispatcher *Dispatcher
	listener   net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

func NewUDSServer(socketPath string, dispatcher *Dispatcher) *UDSServer {
	return &UDSServer{socketPath: socketPath, dispatcher: dispatcher, conns: make(map[net.Conn]struct{})}
}

// Start listens and serves until ctx is cancelled, then stops cleanly.
func (s *UDSServer) Start(ctx context.Context) error {
	logger := log.GetLogger().WithField("component", "command")

	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("command: failed to remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("command: failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("command: failed to set socket permissions: %w", err)
	}

	logger.WithField("socket", s.socketPath).Info("control channel listening")
	go s.acceptLoop(ctx, logger)

	<-ctx.Done()
	logger.Info("control channel stopping")
	return s.Stop()
}

func (s *UDSServer) acceptLoop(ctx context.Context, logger log.Logger) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			logger.WithError(err).Error("failed to accept connection")
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, conn, logger)
	}
}

func (s *UDSServer) handleConnection(ctx context.Context, conn net.Conn, logger log.Logger) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			encoder.Encode(Response{JSONRPC: "2.0", Error: &ErrorInfo{Code: ErrCodeParseError, Message: err.Error()}})
			continue
		}
		resp := s.dispatcher.Handle(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			logger.WithError(err).Warn("failed to write response")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Warn("control connection error")
	}
}

// Stop closes the listener and every active connection, then waits for
// in-flight handlers to finish. Idempotent.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.RemoveAll(s.socketPath)
	return nil
}

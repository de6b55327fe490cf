// Package gateway is the HTTP surface of the system: the OpenAI-compatible
// routes and the listening socket with its start/stop/restart lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Defaults for Config fields left zero.
const (
	DefaultHost            = "127.0.0.1"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRestartDelay    = 500 * time.Millisecond
)

var (
	// ErrBind wraps every failure to open the listening socket.
	ErrBind = errors.New("failed to bind gateway socket")
	// ErrPortInUse is the ErrBind case of a port that is already bound.
	ErrPortInUse = fmt.Errorf("%w: port already in use", ErrBind)
	// ErrNotListening is returned by Stop when there is nothing to stop.
	ErrNotListening = errors.New("gateway is not listening")
)

// State is the lifecycle state of the listening socket.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config is the socket configuration of a Server.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	RestartDelay    time.Duration
}

// Server owns the listening socket. Lifecycle calls are serialized.
type Server struct {
	handler         http.Handler
	host            string
	shutdownTimeout time.Duration
	restartDelay    time.Duration

	mu     sync.Mutex
	port   int
	srv    *http.Server
	addr   net.Addr
	served chan struct{}

	state atomic.Int32
}

func NewServer(cfg Config, handler http.Handler) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Server{
		handler:         handler,
		host:            cfg.Host,
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
		restartDelay:    cfg.RestartDelay,
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// SetPort changes the port used by the next Start.
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
}

// Port returns the configured port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the bound address while listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the port and serves in the background. A bind failure leaves
// the server Stopped. Starting a listening server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Server) startLocked() error {
	if s.State() != StateStopped {
		return nil
	}
	s.state.Store(int32(StateStarting))

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.state.Store(int32(StateStopped))
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrPortInUse, addr)
		}
		return fmt.Errorf("%w %s: %w", ErrBind, addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Gateway serve error: %v", err)
		}
	}()

	s.srv = srv
	s.addr = ln.Addr()
	s.served = served
	s.state.Store(int32(StateListening))
	log.Printf("👂 Gateway is listening on http://%s", s.addr)
	return nil
}

// Stop closes the socket and waits for in-flight requests until ctx ends or
// the shutdown timeout elapses, then forces remaining connections closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) error {
	if s.State() != StateListening {
		return ErrNotListening
	}
	s.state.Store(int32(StateStopping))
	log.Println("🛑 Shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Graceful shutdown incomplete, forcing close: %v", err)
		if err := s.srv.Close(); err != nil {
			log.Printf("Error force-closing gateway: %v", err)
		}
	}
	<-s.served

	s.srv = nil
	s.addr = nil
	s.served = nil
	s.state.Store(int32(StateStopped))
	log.Println("👋 Gateway stopped.")
	return nil
}

// Restart stops a listening server, waits the restart delay so the OS can
// release the port, and starts again on the configured port.
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateListening {
		if err := s.stopLocked(ctx); err != nil {
			return err
		}
		timer := time.NewTimer(s.restartDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return s.startLocked()
}

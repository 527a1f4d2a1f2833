// Package server is the multi-client SHDR stream port: a TCP acceptor, a
// heartbeat session per connection and a registry used for broadcasts.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/machinemetrics/shdr-adapter/internal/metric"
)

// Config configures a Server.
type Config struct {
	// Name identifies the server in logs.
	Name string
	// Addr is the TCP listen address, for example ":7878".
	Addr string
	// Heartbeat is advertised in pong replies. Zero disables heartbeats.
	Heartbeat time.Duration
	// WriteTimeout bounds every write to a client. Zero means no deadline.
	WriteTimeout time.Duration
}

// ConnectHandler is called from the accept goroutine for every new client,
// after it has been registered.
type ConnectHandler func(*Client)

// Option configures optional Server collaborators.
type Option func(*Server)

// WithMetrics records connection and traffic metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server accepts SHDR readers and fans data out to them.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *Registry

	handlersMu sync.RWMutex
	handlers   []ConnectHandler

	mu   sync.Mutex
	run  *run
	last *run
}

// run is the state of one Start..Stop cycle. A fresh run per Start keeps
// goroutines left over from a timed-out Stop away from the next cycle.
type run struct {
	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	err    error
}

// New creates a stopped server. A nil logger discards output.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Name == "" {
		cfg.Name = "shdr"
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "server"), slog.String("name", cfg.Name)),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnConnect registers fn to run for every new client. Handlers run in
// registration order.
func (s *Server) OnConnect(fn ConnectHandler) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, fn)
	s.handlersMu.Unlock()
}

func (s *Server) connectHandlers() []ConnectHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]ConnectHandler(nil), s.handlers...)
}

// Start binds the listener and starts accepting connections. Bind errors are
// returned directly. Cancelling ctx shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil && !s.run.finished() {
		return ErrAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{ln: ln, cancel: cancel, done: make(chan struct{})}
	s.run = r
	s.last = r

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		<-runCtx.Done()
		_ = ln.Close()
	}()
	go s.acceptLoop(runCtx, r)

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()), slog.Duration("heartbeat", s.cfg.Heartbeat))
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, r *run) {
	defer r.wg.Done()
	defer close(r.done)
	defer s.dropRun(r)

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				r.err = fmt.Errorf("accept: %w", err)
				s.logger.Error("listener failed", slog.Any("error", err))
				r.cancel()
			}
			return
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		s.accept(r, conn)
	}
}

func (s *Server) accept(r *run, conn net.Conn) {
	c := newClient(conn, s.cfg.Heartbeat, s.cfg.WriteTimeout, s.logger, s.metrics)
	c.run = r

	s.registry.Add(c)
	s.metrics.RecordAccept()
	c.logger.Info("client connected")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		reason, err := c.readLoop()
		s.drop(c, reason, err)
	}()

	for _, h := range s.connectHandlers() {
		if c.State() == StateDropped {
			return
		}
		h(c)
	}
}

// drop removes c from the registry and closes it. Repeated calls are no-ops.
func (s *Server) drop(c *Client, reason string, err error) {
	if !s.registry.Remove(c) {
		return
	}
	_ = c.close()
	s.metrics.RecordDrop(reason)

	attrs := []any{slog.String("reason", reason)}
	if err != nil && !IsExpectedCloseError(err) {
		c.logger.Info("client dropped", append(attrs, slog.Any("error", err))...)
		return
	}
	c.logger.Debug("client dropped", attrs...)
}

// dropRun drops every client accepted by r.
func (s *Server) dropRun(r *run) {
	for _, c := range s.registry.Snapshot() {
		if c.run == r {
			s.drop(c, metric.ReasonShutdown, nil)
		}
	}
}

// Stop closes the listener, drops every client and waits up to timeout for
// connection goroutines to finish. A non-positive timeout waits
// indefinitely. On expiry ErrStopTimeout is returned; the server is
// stopped either way and may be started again.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()

	if r == nil {
		return nil
	}

	r.cancel()
	_ = r.ln.Close()
	s.dropRun(r)

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	if timeout <= 0 {
		<-finished
		s.logger.Info("stopped")
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		s.logger.Info("stopped")
		return nil
	case <-timer.C:
		s.logger.Warn("stop timed out", slog.Duration("timeout", timeout))
		return ErrStopTimeout
	}
}

// SendToAll writes data to every registered client and returns how many it
// reached. Clients whose write fails are dropped.
func (s *Server) SendToAll(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	sent := 0
	for _, c := range s.registry.Snapshot() {
		if err := c.write(data); err != nil {
			s.drop(c, metric.ReasonWrite, err)
			continue
		}
		sent++
	}
	s.metrics.RecordBytes(sent * len(data))
	return sent
}

// WriteTo writes data to a single client, dropping it on failure.
func (s *Server) WriteTo(c *Client, data []byte) error {
	if c == nil {
		return ErrNilClient
	}
	if len(data) == 0 {
		return nil
	}
	if err := c.write(data); err != nil {
		s.drop(c, metric.ReasonWrite, err)
		return fmt.Errorf("write to %s: %w", c.remote, err)
	}
	s.metrics.RecordBytes(len(data))
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.registry.Len()
}

// Clients returns a snapshot of the connected clients.
func (s *Server) Clients() []*Client {
	return s.registry.Snapshot()
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.ln.Addr()
}

// Port returns the bound TCP port, or 0 when stopped.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Running reports whether the accept loop is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && !s.run.finished()
}

// Done returns a channel closed when the most recent run's accept loop
// exits. It is nil before the first Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return s.last.done
}

// Err returns the listener fault that ended the most recent run, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	r := s.last
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

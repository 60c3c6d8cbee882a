// Package astm provides the TCP input component: it accepts instrument
// connections and runs one transport session per connection, handing
// completed messages to the dispatcher.
package astm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	protocol "github.com/c360/labgate/astm"
	"github.com/c360/labgate/component"
	"github.com/c360/labgate/errors"
	"github.com/c360/labgate/message"
	"github.com/c360/labgate/metric"
)

// Dispatcher receives completed messages. Submit must not block.
type Dispatcher interface {
	Submit(msg *message.Message)
}

// Config holds configuration for the ASTM input component.
type Config struct {
	Bind        string          `json:"bind"`
	Port        int             `json:"port"`
	MaxSessions int             `json:"max_sessions"`
	ReadBuffer  int             `json:"read_buffer"`
	FSM         protocol.Config `json:"-"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Port 0 binds an ephemeral port.
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.MaxSessions < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_sessions must be positive")
	}
	if c.ReadBuffer < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"read_buffer cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the ASTM input
func DefaultConfig() Config {
	return Config{
		Bind:        "0.0.0.0",
		Port:        4010,
		MaxSessions: 64,
		ReadBuffer:  4096,
		FSM:         protocol.DefaultConfig(),
	}
}

// Deps carries the input component's dependencies.
type Deps struct {
	Config          Config
	Dispatcher      Dispatcher
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Input is the TCP listener component.
type Input struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *Metrics

	listener net.Listener
	shutdown chan struct{}
	running  atomic.Bool
	startAt  time.Time
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[*session]struct{}

	sessionsTotal atomic.Int64
	messagesTotal atomic.Int64
	bytesTotal    atomic.Int64
	errorsTotal   atomic.Int64
	lastActivity  atomic.Value // time.Time
}

// Compile-time interface checks.
var (
	_ component.Discoverable       = (*Input)(nil)
	_ component.LifecycleComponent = (*Input)(nil)
)

// NewInput creates the input component.
func NewInput(deps Deps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.ReadBuffer == 0 {
		cfg.ReadBuffer = 4096
	}
	return &Input{
		cfg:        cfg,
		dispatcher: deps.Dispatcher,
		logger:     logger.With("component", "astm-input"),
		metrics:    newMetrics(deps.MetricsRegistry, cfg.Port),
		shutdown:   make(chan struct{}),
		sessions:   make(map[*session]struct{}),
	}
}

// Initialize validates configuration ahead of Start.
func (in *Input) Initialize() error {
	if err := in.cfg.Validate(); err != nil {
		return err
	}
	if in.dispatcher == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Input", "Initialize", "dispatcher required")
	}
	return nil
}

// Start binds the listening socket and begins accepting sessions. A bind
// failure is fatal: the gateway is useless without its port.
func (in *Input) Start(ctx context.Context) error {
	if !in.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Input", "Start", "check running state")
	}

	addr := fmt.Sprintf("%s:%d", in.cfg.Bind, in.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		in.running.Store(false)
		return errors.WrapFatal(err, "Input", "Start", "bind "+addr)
	}
	in.listener = listener
	in.startAt = time.Now()
	in.logger.Info("listening for instrument connections", "addr", listener.Addr().String())

	in.wg.Add(1)
	go in.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener address, useful when Port is 0 in tests.
func (in *Input) Addr() net.Addr {
	if in.listener == nil {
		return nil
	}
	return in.listener.Addr()
}

func (in *Input) acceptLoop(ctx context.Context) {
	defer in.wg.Done()
	sem := make(chan struct{}, in.cfg.MaxSessions)

	for {
		conn, err := in.listener.Accept()
		if err != nil {
			select {
			case <-in.shutdown:
				return
			case <-ctx.Done():
				return
			default:
			}
			in.errorsTotal.Add(1)
			in.logger.Warn("accept failed", "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			// At capacity: shed the connection rather than queue it. The
			// instrument will retry its ENQ.
			in.logger.Warn("session limit reached, rejecting connection",
				"remote", conn.RemoteAddr().String(), "limit", in.cfg.MaxSessions)
			_ = conn.Close()
			continue
		}

		s := newSession(conn, in)
		in.mu.Lock()
		in.sessions[s] = struct{}{}
		in.mu.Unlock()
		in.sessionsTotal.Add(1)
		if in.metrics != nil {
			in.metrics.sessionsTotal.Inc()
			in.metrics.sessionsActive.Inc()
		}

		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			defer func() {
				<-sem
				in.mu.Lock()
				delete(in.sessions, s)
				in.mu.Unlock()
				if in.metrics != nil {
					in.metrics.sessionsActive.Dec()
				}
			}()
			s.run(ctx)
		}()
	}
}

// Stop closes the listener, lets live sessions drain for timeout, then
// forcibly closes what remains.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.CompareAndSwap(true, false) {
		return nil
	}
	close(in.shutdown)
	if in.listener != nil {
		_ = in.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	in.mu.Lock()
	for s := range in.sessions {
		s.close()
	}
	in.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(time.Second):
		return errors.WrapTransient(errors.ErrShuttingDown, "Input", "Stop", "await sessions")
	}
}

// Meta implements component.Discoverable.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "astm-input",
		Type:        "input",
		Description: "ASTM E1381 TCP listener",
		Version:     "0.1.0",
	}
}

// Health implements component.Discoverable.
func (in *Input) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    in.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorsTotal.Load()),
		Uptime:     time.Since(in.startAt),
	}
}

// DataFlow implements component.Discoverable.
func (in *Input) DataFlow() component.FlowMetrics {
	var last time.Time
	if v := in.lastActivity.Load(); v != nil {
		last = v.(time.Time)
	}
	messages := in.messagesTotal.Load()
	errs := in.errorsTotal.Load()
	var errorRate float64
	if total := messages + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}
	return component.FlowMetrics{
		MessagesTotal: messages,
		BytesTotal:    in.bytesTotal.Load(),
		ErrorsTotal:   errs,
		ErrorRate:     errorRate,
		LastActivity:  last,
	}
}

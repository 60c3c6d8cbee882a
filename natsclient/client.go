// Package natsclient provides a managed NATS connection for the optional
// message-bus sink.
package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/labgate/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when an operation needs a live connection.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Options configures the client.
type Options struct {
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithName sets the connection name advertised to the server.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithLogger sets the logger for connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithReconnect tunes the reconnect policy.
func WithReconnect(max int, wait time.Duration) Option {
	return func(o *Options) {
		o.MaxReconnects = max
		o.ReconnectWait = wait
	}
}

func defaultOptions() Options {
	return Options{
		Name:          "labgate",
		MaxReconnects: -1, // keep trying
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		Logger:        slog.Default(),
	}
}

// Client manages one NATS connection.
type Client struct {
	url  string
	opts Options

	mu     sync.RWMutex
	conn   *nats.Conn
	status ConnectionStatus
}

// NewClient creates an unconnected client for the given server URL.
func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "server URL")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{url: url, opts: o, status: StatusDisconnected}, nil
}

// Connect establishes the connection. Reconnects are handled by the NATS
// client; status transitions are logged.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	c.status = StatusConnecting

	conn, err := nats.Connect(c.url,
		nats.Name(c.opts.Name),
		nats.Timeout(c.opts.Timeout),
		nats.MaxReconnects(c.opts.MaxReconnects),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.opts.Logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setStatus(StatusConnected)
			c.opts.Logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusClosed)
			c.opts.Logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		c.status = StatusDisconnected
		return errors.WrapTransient(err, "Client", "Connect", "dial NATS")
	}

	select {
	case <-ctx.Done():
		conn.Close()
		c.status = StatusDisconnected
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "await connection")
	default:
	}

	c.conn = conn
	c.status = StatusConnected
	c.opts.Logger.Info("NATS connected", "url", conn.ConnectedUrl())
	return nil
}

// Publish sends data on a subject.
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "check connection")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Flush waits for all buffered publishes to reach the server.
func (c *Client) Flush(timeout time.Duration) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.FlushTimeout(timeout)
}

// IsHealthy reports whether the connection is usable right now.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Close drains and closes the connection.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.status = StatusClosed
	c.mu.Unlock()

	if conn == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Drain()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		conn.Close()
	}
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

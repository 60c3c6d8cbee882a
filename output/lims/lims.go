// Package lims provides the LIS push sink: completed messages are POSTed to
// a Laboratory Information System as a JSON envelope with basic
// authentication, retrying with a fixed delay before giving up.
package lims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/labgate/errors"
	"github.com/c360/labgate/message"
	"github.com/c360/labgate/pkg/retry"
)

// DefaultConsumer is the push consumer the LIS registers for ASTM imports.
const DefaultConsumer = "senaite.lis2a.import"

// Config holds configuration for the LIS push sink.
type Config struct {
	// URL is the push endpoint including credentials:
	// http(s)://user:pass@host/path
	URL      string `json:"url"`
	Consumer string `json:"consumer"`
	Retries  int    `json:"retries"` // total attempts per message
	Delay    int    `json:"delay"`   // seconds between attempts
	Timeout  int    `json:"timeout"` // per-request timeout in seconds
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"url scheme must be http or https")
	}
	if c.Retries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retries cannot be negative")
	}
	if c.Delay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"delay cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the LIS push sink
func DefaultConfig() Config {
	return Config{
		Consumer: DefaultConsumer,
		Retries:  3,
		Delay:    5,
		Timeout:  30,
	}
}

// Sink POSTs messages to the LIS. The underlying HTTP client and its
// connection pool are safe to share across sessions.
type Sink struct {
	endpoint string
	username string
	password string
	consumer string
	retryCfg retry.Config
	client   *http.Client
	logger   *slog.Logger

	sent    atomic.Int64
	retried atomic.Int64
	errs    atomic.Int64
}

// NewSink creates a push sink after validating its configuration.
// Credentials embedded in the URL move into the Authorization header.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "NewSink", "parse URL")
	}
	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
		u.User = nil
	}

	consumer := cfg.Consumer
	if consumer == "" {
		consumer = DefaultConsumer
	}
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Sink{
		endpoint: u.String(),
		username: user,
		password: pass,
		consumer: consumer,
		retryCfg: retry.Fixed(attempts, time.Duration(cfg.Delay)*time.Second),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Name implements dispatch.Sink.
func (s *Sink) Name() string { return "lims" }

// Deliver POSTs the message envelope, retrying transport failures and
// non-2xx responses with the configured fixed delay. Exhausted retries log
// and drop: a broken LIS must not stall the instrument side.
func (s *Sink) Deliver(ctx context.Context, msg *message.Message) error {
	body, err := json.Marshal(message.NewEnvelope(s.consumer, msg))
	if err != nil {
		s.errs.Add(1)
		return errors.WrapInvalid(err, "Sink", "Deliver", "marshal envelope")
	}

	attempt := 0
	err = retry.Do(ctx, s.retryCfg, func() error {
		attempt++
		if attempt > 1 {
			s.retried.Add(1)
			s.logger.Warn("could not push, retrying",
				"message_id", msg.ID, "attempt", attempt)
		}
		return s.post(ctx, body)
	})
	if err != nil {
		s.errs.Add(1)
		return errors.WrapTransient(err, "Sink", "Deliver", "push to LIS")
	}

	s.sent.Add(1)
	return nil
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// Probe checks reachability and credentials with a GET before the gateway
// starts serving instruments.
func (s *Sink) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "Probe", "build request")
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Sink", "Probe", "reach LIS")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.WrapFatal(fmt.Errorf("HTTP %d", resp.StatusCode),
			"Sink", "Probe", "authenticate")
	}
	return nil
}

// Stats returns sent, retried, and failed counts.
func (s *Sink) Stats() (sent, retried, errCount int64) {
	return s.sent.Load(), s.retried.Load(), s.errs.Load()
}

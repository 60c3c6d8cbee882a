// Package natspub provides the message-bus sink: completed instrument
// messages are published to a NATS subject so downstream consumers can
// subscribe instead of being POSTed at.
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/labgate/errors"
	"github.com/c360/labgate/message"
	"github.com/c360/labgate/natsclient"
)

// DefaultSubject is the subject completed messages are published on.
const DefaultSubject = "lab.astm.message"

// Config holds configuration for the bus sink.
type Config struct {
	Subject  string `json:"subject"`
	Consumer string `json:"consumer"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject is required")
	}
	return nil
}

// DefaultConfig returns default configuration for the bus sink
func DefaultConfig() Config {
	return Config{Subject: DefaultSubject}
}

// envelope is the published payload: the push envelope plus bus metadata.
type envelope struct {
	message.Envelope
	ID         string    `json:"id"`
	Sender     string    `json:"sender,omitempty"`
	Remote     string    `json:"remote,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sink publishes each message on the configured subject.
type Sink struct {
	subject  string
	consumer string
	client   *natsclient.Client
	logger   *slog.Logger

	published atomic.Int64
	errs      atomic.Int64
}

// NewSink creates a bus sink over an already-managed NATS client.
func NewSink(cfg Config, client *natsclient.Client, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "NewSink", "NATS client required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		subject:  cfg.Subject,
		consumer: cfg.Consumer,
		client:   client,
		logger:   logger,
	}, nil
}

// Name implements dispatch.Sink.
func (s *Sink) Name() string { return "natspub" }

// Deliver publishes the message envelope.
func (s *Sink) Deliver(_ context.Context, msg *message.Message) error {
	payload, err := json.Marshal(envelope{
		Envelope:   message.NewEnvelope(s.consumer, msg),
		ID:         msg.ID,
		Sender:     msg.Sender,
		Remote:     msg.Remote,
		ReceivedAt: msg.ReceivedAt,
	})
	if err != nil {
		s.errs.Add(1)
		return errors.WrapInvalid(err, "Sink", "Deliver", "marshal envelope")
	}

	if err := s.client.Publish(s.subject, payload); err != nil {
		s.errs.Add(1)
		return err
	}
	s.published.Add(1)
	return nil
}

// Stats returns published and failed counts.
func (s *Sink) Stats() (published, errCount int64) {
	return s.published.Load(), s.errs.Load()
}

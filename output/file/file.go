// Package file provides the file sink: one file per completed instrument
// message, written atomically into a spool directory.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/c360/labgate/errors"
	"github.com/c360/labgate/message"
)

// Config holds configuration for the file sink.
type Config struct {
	Directory string `json:"directory"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	info, err := os.Stat(c.Directory)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "stat output directory")
	}
	if !info.IsDir() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"output path must be an existing directory")
	}
	return nil
}

// Sink writes each message to its own file. Filenames are unique via a
// monotonic counter, so concurrent sessions never collide.
type Sink struct {
	dir    string
	logger *slog.Logger

	counter atomic.Uint64
	written atomic.Int64
	bytes   atomic.Int64
	errs    atomic.Int64
}

// NewSink creates a file sink after validating its configuration.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{dir: cfg.Directory, logger: logger}, nil
}

// Name implements dispatch.Sink.
func (s *Sink) Name() string { return "file" }

// Deliver writes the message text to <sender->unixmillis-counter.txt via a
// temp file and rename so readers of the spool directory never observe a
// partial message.
func (s *Sink) Deliver(_ context.Context, msg *message.Message) error {
	name := fmt.Sprintf("%d-%d.txt", msg.ReceivedAt.UnixMilli(), s.counter.Add(1))
	if msg.Sender != "" {
		name = msg.Sender + "-" + name
	}
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".labgate-*")
	if err != nil {
		s.errs.Add(1)
		return errors.WrapTransient(err, "Sink", "Deliver", "create temp file")
	}
	defer os.Remove(tmp.Name())

	data := []byte(msg.Text())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.errs.Add(1)
		return errors.WrapTransient(err, "Sink", "Deliver", "write message")
	}
	if err := tmp.Close(); err != nil {
		s.errs.Add(1)
		return errors.WrapTransient(err, "Sink", "Deliver", "close temp file")
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		s.errs.Add(1)
		return errors.WrapTransient(err, "Sink", "Deliver", "rename into place")
	}

	s.written.Add(1)
	s.bytes.Add(int64(len(data)))
	s.logger.Debug("message written", "file", final, "bytes", len(data))
	return nil
}

// Stats returns files written, bytes written, and errors.
func (s *Sink) Stats() (files, bytes, errCount int64) {
	return s.written.Load(), s.bytes.Load(), s.errs.Load()
}

// Package config holds the gateway's runtime configuration assembled from
// command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/c360/labgate/errors"
)

// Config represents the complete gateway configuration.
type Config struct {
	// ASTM server
	Listen      string
	Port        int
	MaxSessions int

	// Protocol timers
	T1 time.Duration
	T2 time.Duration
	T3 time.Duration

	// File sink; empty disables it
	OutputDir string

	// LIS push sink; empty URL disables it
	LISURL   string
	Consumer string
	Retries  int
	Delay    int

	// Bus sink; empty URL disables it
	NATSURL     string
	NATSSubject string

	// Ops
	MetricsPort     int
	ShutdownTimeout time.Duration

	// Logging
	Verbose   bool
	LogFormat string
}

// Default returns the gateway defaults.
func Default() Config {
	return Config{
		Listen:          "0.0.0.0",
		Port:            4010,
		MaxSessions:     64,
		T1:              15 * time.Second,
		T2:              30 * time.Second,
		T3:              10 * time.Second,
		Consumer:        "senaite.lis2a.import",
		Retries:         3,
		Delay:           5,
		NATSSubject:     "lab.astm.message",
		MetricsPort:     0,
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "text",
	}
}

// Validate checks the configuration for errors. Invalid configuration is
// fatal at startup.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.MaxSessions < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max-sessions must be positive")
	}
	if c.Retries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retries cannot be negative")
	}
	if c.Delay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"delay cannot be negative")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("metrics port %d out of range", c.MetricsPort))
	}

	if c.OutputDir != "" {
		info, err := os.Stat(c.OutputDir)
		if err != nil || !info.IsDir() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"output path must be an existing directory")
		}
	}

	if c.LISURL != "" {
		u, err := url.Parse(c.LISURL)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "parse LIS URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"LIS URL scheme must be http or https")
		}
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"log format must be json or text")
	}
	return nil
}

// HasSink reports whether at least one delivery sink is configured. A
// gateway with no sink would acknowledge and discard, which is almost
// certainly a misconfiguration worth warning about.
func (c *Config) HasSink() bool {
	return c.OutputDir != "" || c.LISURL != "" || c.NATSURL != ""
}

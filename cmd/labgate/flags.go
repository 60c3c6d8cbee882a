package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/labgate/config"
)

func parseFlags(args []string) (config.Config, error) {
	cfg := config.Default()

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	fs.StringVar(&cfg.Listen, "listen",
		getEnv("LABGATE_LISTEN", cfg.Listen),
		"Listen IP address (env: LABGATE_LISTEN)")
	fs.IntVar(&cfg.Port, "port",
		getEnvInt("LABGATE_PORT", cfg.Port),
		"ASTM server port (env: LABGATE_PORT)")
	fs.StringVar(&cfg.OutputDir, "output",
		getEnv("LABGATE_OUTPUT", ""),
		"Output directory for ASTM message files; enables the file sink")
	fs.StringVar(&cfg.LISURL, "url",
		getEnv("LABGATE_URL", ""),
		"LIS push URL as http(s)://user:pass@host/path; enables the push sink")
	fs.StringVar(&cfg.Consumer, "consumer",
		getEnv("LABGATE_CONSUMER", cfg.Consumer),
		"LIS push consumer name")
	fs.IntVar(&cfg.Retries, "retries",
		getEnvInt("LABGATE_RETRIES", cfg.Retries),
		"Push attempts per message when the LIS is unreachable")
	fs.IntVar(&cfg.Delay, "delay",
		getEnvInt("LABGATE_DELAY", cfg.Delay),
		"Delay in seconds between push attempts")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Verbose logging")

	fs.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("LABGATE_NATS_URL", ""),
		"NATS server URL; enables the bus sink")
	fs.StringVar(&cfg.NATSSubject, "nats-subject",
		getEnv("LABGATE_NATS_SUBJECT", cfg.NATSSubject),
		"NATS subject for completed messages")
	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("LABGATE_METRICS_PORT", cfg.MetricsPort),
		"Ops HTTP port for /metrics and /healthz, 0 to disable")
	fs.IntVar(&cfg.MaxSessions, "max-sessions",
		getEnvInt("LABGATE_MAX_SESSIONS", cfg.MaxSessions),
		"Maximum concurrent instrument sessions")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LABGATE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout),
		"Graceful shutdown timeout (env: LABGATE_SHUTDOWN_TIMEOUT)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LABGATE_LOG_FORMAT", cfg.LogFormat),
		"Log format: json, text (env: LABGATE_LOG_FORMAT)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func printUsage(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - ASTM E1381/E1394 to LIS gateway

Terminates the ASTM low-level transport over TCP, assembles complete
messages, and delivers them to the configured sinks (files, LIS push,
message bus).

Usage:
  %s [flags]

Flags:
`, appName, appName)
	fs.PrintDefaults()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

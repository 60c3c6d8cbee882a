// Package main implements the entry point for the labgate receiver: an ASTM
// E1381/E1394 gateway that terminates the instrument transport over TCP and
// delivers completed messages to files, a LIS push endpoint, and/or a
// message bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	protocol "github.com/c360/labgate/astm"
	"github.com/c360/labgate/config"
	"github.com/c360/labgate/dispatch"
	"github.com/c360/labgate/health"
	inputastm "github.com/c360/labgate/input/astm"
	"github.com/c360/labgate/metric"
	"github.com/c360/labgate/natsclient"
	"github.com/c360/labgate/output/file"
	"github.com/c360/labgate/output/lims"
	"github.com/c360/labgate/output/natspub"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "labgate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(cfg.Verbose, cfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("starting ASTM gateway", "listen", cfg.Listen, "port", cfg.Port)

	if !cfg.HasSink() {
		slog.Warn("no sink configured; messages will be acknowledged and discarded")
	}

	ctx := context.Background()

	// Sinks.
	sinks, natsClient, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close(ctx)
	}

	// Dispatcher.
	dispatcher, err := dispatch.New(logger, dispatch.DefaultQueueSize, sinks...)
	if err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	// ASTM input.
	inputCfg := inputastm.DefaultConfig()
	inputCfg.Bind = cfg.Listen
	inputCfg.Port = cfg.Port
	inputCfg.MaxSessions = cfg.MaxSessions
	inputCfg.FSM = protocol.Config{T1: cfg.T1, T2: cfg.T2, T3: cfg.T3}

	var registry *metric.Registry
	monitor := health.NewMonitor()
	var opsServer *metric.Server
	if cfg.MetricsPort > 0 {
		registry = metric.NewRegistry()
		opsServer = metric.NewServer(cfg.MetricsPort, registry, logger)
		opsServer.Handle("/healthz", monitor.Handler())
	}

	input := inputastm.NewInput(inputastm.Deps{
		Config:          inputCfg,
		Dispatcher:      dispatcher,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	monitor.Register(input)

	if err := input.Initialize(); err != nil {
		return err
	}
	if err := input.Start(ctx); err != nil {
		return err
	}
	if opsServer != nil {
		if err := opsServer.Start(); err != nil {
			return err
		}
	}

	slog.Info("ASTM gateway ready to handle connections")
	return awaitShutdown(cfg, input, dispatcher, opsServer)
}

// buildSinks assembles the configured sinks. The LIS endpoint is probed up
// front so credential problems fail fast instead of per message.
func buildSinks(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
) ([]dispatch.Sink, *natsclient.Client, error) {
	var sinks []dispatch.Sink

	if cfg.OutputDir != "" {
		fileSink, err := file.NewSink(file.Config{Directory: cfg.OutputDir}, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileSink)
		slog.Info("file sink enabled", "directory", cfg.OutputDir)
	}

	if cfg.LISURL != "" {
		pushSink, err := lims.NewSink(lims.Config{
			URL:      cfg.LISURL,
			Consumer: cfg.Consumer,
			Retries:  cfg.Retries,
			Delay:    cfg.Delay,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("checking connection to LIS")
		if err := pushSink.Probe(ctx); err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, pushSink)
		slog.Info("LIS push sink enabled", "consumer", cfg.Consumer)
	}

	if cfg.NATSURL != "" {
		client, err := natsclient.NewClient(cfg.NATSURL, natsclient.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, nil, err
		}
		busSink, err := natspub.NewSink(natspub.Config{
			Subject:  cfg.NATSSubject,
			Consumer: cfg.Consumer,
		}, client, logger)
		if err != nil {
			client.Close(ctx)
			return nil, nil, err
		}
		sinks = append(sinks, busSink)
		slog.Info("bus sink enabled", "subject", cfg.NATSSubject)
		return sinks, client, nil
	}

	return sinks, nil, nil
}

// awaitShutdown blocks until SIGINT/SIGTERM, then drains sessions and sink
// queues within the configured grace period.
func awaitShutdown(
	cfg config.Config,
	input *inputastm.Input,
	dispatcher *dispatch.Dispatcher,
	opsServer *metric.Server,
) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	deadline := cfg.ShutdownTimeout
	if err := input.Stop(deadline / 2); err != nil {
		slog.Warn("input did not stop cleanly", "error", err)
	}
	if err := dispatcher.Stop(deadline / 2); err != nil {
		slog.Warn("dispatcher did not stop cleanly", "error", err)
	}
	if opsServer != nil {
		_ = opsServer.Stop(5 * time.Second)
	}

	slog.Info("gateway stopped")
	return nil
}

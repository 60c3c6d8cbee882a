// Package main implements labsend, the sender companion of the gateway: it
// reads a plain-text ASTM message from a file and transmits it to a receiver
// using the full sender role of the transport.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/c360/labgate/astm"
)

const appName = "labsend"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("send failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	target := fs.String("url", "", "Receiver address: tcp://host:port or host:port")
	input := fs.String("input", "", "Plain-text ASTM message file")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	logFormat := fs.String("log-format", "text", "Log format: json, text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if *logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))

	if *target == "" || *input == "" {
		fs.Usage()
		return fmt.Errorf("both --url and --input are required")
	}

	addr, err := hostPort(*target)
	if err != nil {
		return err
	}

	text, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	msg := astm.ParseText(text)
	if len(msg.Records) == 0 {
		return fmt.Errorf("input file contains no records")
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	slog.Info("transmitting message", "addr", addr, "records", len(msg.Records))
	return transmit(conn, msg)
}

// hostPort accepts tcp://host:port or a bare host:port.
func hostPort(target string) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
		if u.Scheme != "tcp" {
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		return u.Host, nil
	}
	return target, nil
}

// transmit drives the sender machine against the live connection, executing
// its outputs and feeding back peer bytes and timer expiries.
func transmit(conn net.Conn, msg *astm.Message) error {
	sender, err := astm.NewSender(astm.DefaultConfig(), msg)
	if err != nil {
		return err
	}

	timers := map[astm.TimerID]*time.Timer{
		astm.TimerResponse: newStoppedTimer(),
		astm.TimerReceive:  newStoppedTimer(),
		astm.TimerBackoff:  newStoppedTimer(),
	}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	bytesCh := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				bytesCh <- data
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	apply := func(outs []astm.Output) bool {
		done := false
		for _, out := range outs {
			switch out := out.(type) {
			case astm.SendBytes:
				if _, err := conn.Write(out.Data); err != nil {
					slog.Warn("write failed", "error", err)
					done = true
				}
			case astm.ArmTimer:
				t := timers[out.ID]
				if !t.Stop() {
					select {
					case <-t.C:
					default:
					}
				}
				t.Reset(out.Duration)
			case astm.CancelTimer:
				t := timers[out.ID]
				if !t.Stop() {
					select {
					case <-t.C:
					default:
					}
				}
			case astm.Close:
				slog.Debug("transfer finished", "reason", out.Reason)
				done = true
			}
		}
		return done
	}

	if apply(sender.Start()) {
		return senderResult(sender)
	}
	for {
		var outs []astm.Output
		select {
		case data := <-bytesCh:
			outs = sender.Step(astm.InputBytes{Data: data})
		case <-timers[astm.TimerResponse].C:
			outs = sender.Step(astm.InputTimer{ID: astm.TimerResponse})
		case <-timers[astm.TimerBackoff].C:
			outs = sender.Step(astm.InputTimer{ID: astm.TimerBackoff})
		case <-readErr:
			sender.Step(astm.InputPeerClosed{})
			return senderResult(sender)
		}
		if apply(outs) {
			return senderResult(sender)
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func senderResult(s *astm.Sender) error {
	if s.Succeeded() {
		slog.Info("message transmitted")
		return nil
	}
	return fmt.Errorf("transfer did not complete")
}

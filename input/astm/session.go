package astm

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	protocol "github.com/c360/labgate/astm"
	"github.com/c360/labgate/message"
)

// session binds one TCP connection to one receiver machine. All protocol
// state lives in the machine; the session only moves bytes, runs timers, and
// executes the machine's outputs. Nothing here is shared across sessions.
type session struct {
	conn    net.Conn
	remote  string
	machine *protocol.Machine
	input   *Input
	logger  *slog.Logger

	timers    map[protocol.TimerID]*time.Timer
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn net.Conn, in *Input) *session {
	remote := conn.RemoteAddr().String()
	return &session{
		conn:    conn,
		remote:  remote,
		machine: protocol.NewReceiver(in.cfg.FSM),
		input:   in,
		logger:  in.logger.With("remote", remote),
		timers: map[protocol.TimerID]*time.Timer{
			protocol.TimerResponse: newStoppedTimer(),
			protocol.TimerReceive:  newStoppedTimer(),
			protocol.TimerBackoff:  newStoppedTimer(),
		},
		done: make(chan struct{}),
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// run drives the session until the machine closes it, the peer disconnects,
// or the gateway shuts down.
func (s *session) run(ctx context.Context) {
	s.logger.Debug("session started")
	defer s.close()
	defer close(s.done)
	defer func() {
		for _, t := range s.timers {
			t.Stop()
		}
	}()

	bytesCh := make(chan []byte, 8)
	go s.readLoop(bytesCh)

	shutdown := s.input.shutdown
	draining := false
	for {
		var outs []protocol.Output
		select {
		case data, ok := <-bytesCh:
			if !ok {
				s.logger.Debug("peer disconnected")
				outs = s.machine.Step(protocol.InputPeerClosed{})
			} else {
				s.input.bytesTotal.Add(int64(len(data)))
				s.input.lastActivity.Store(time.Now())
				if s.input.metrics != nil {
					s.input.metrics.bytesReceived.Add(float64(len(data)))
				}
				outs = s.machine.Step(protocol.InputBytes{Data: data})
			}
		case <-s.timers[protocol.TimerResponse].C:
			outs = s.machine.Step(protocol.InputTimer{ID: protocol.TimerResponse})
		case <-s.timers[protocol.TimerReceive].C:
			s.logger.Warn("receive window expired, discarding partial message")
			if s.input.metrics != nil {
				s.input.metrics.timeoutsTotal.Inc()
			}
			outs = s.machine.Step(protocol.InputTimer{ID: protocol.TimerReceive})
		case <-s.timers[protocol.TimerBackoff].C:
			outs = s.machine.Step(protocol.InputTimer{ID: protocol.TimerBackoff})
		case <-shutdown:
			// Let an exchange in progress finish; Input.Stop force-closes
			// the connection when its grace period runs out.
			shutdown = nil
			draining = true
		case <-ctx.Done():
			return
		}

		if s.apply(outs) {
			return
		}
		if draining && s.machine.Phase() == protocol.PhaseIdle {
			s.logger.Debug("session closing for shutdown")
			return
		}
	}
}

// readLoop moves bytes from the socket to the session goroutine. The channel
// closes on any read error, which the session maps to PeerClosed.
func (s *session) readLoop(bytesCh chan<- []byte) {
	defer close(bytesCh)
	buf := make([]byte, s.input.cfg.ReadBuffer)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case bytesCh <- data:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// apply executes machine outputs in order. It reports whether the session
// ended.
func (s *session) apply(outs []protocol.Output) bool {
	closed := false
	for _, out := range outs {
		switch out := out.(type) {
		case protocol.SendBytes:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := s.conn.Write(out.Data); err != nil {
				s.logger.Warn("write failed", "error", err)
				s.input.errorsTotal.Add(1)
				closed = true
			}
			s.observeReply(out.Data)
		case protocol.ArmTimer:
			resetTimer(s.timers[out.ID], out.Duration)
		case protocol.CancelTimer:
			stopTimer(s.timers[out.ID])
		case protocol.Dispatch:
			msg := message.New(out.Message, s.remote)
			s.input.messagesTotal.Add(1)
			if s.input.metrics != nil {
				s.input.metrics.messagesDispatched.Inc()
			}
			s.logger.Info("message received",
				"message_id", msg.ID,
				"sender", msg.Sender,
				"records", len(out.Message.Records))
			s.input.dispatcher.Submit(msg)
		case protocol.Close:
			if out.Clean {
				s.logger.Debug("session closed", "reason", out.Reason)
			} else {
				s.logger.Warn("session aborted", "reason", out.Reason)
				if s.input.metrics != nil {
					s.input.metrics.abortsTotal.Inc()
				}
			}
			closed = true
		}
	}
	return closed
}

// observeReply counts protocol acknowledgements for metrics.
func (s *session) observeReply(data []byte) {
	if s.input.metrics == nil || len(data) != 1 {
		return
	}
	switch data[0] {
	case protocol.ACK:
		s.input.metrics.acksSent.Inc()
	case protocol.NAK:
		s.input.metrics.naksSent.Inc()
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

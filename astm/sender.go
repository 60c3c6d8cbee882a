package astm

import (
	"fmt"
)

// Sender is the transmitter role of the E1381 transport: establishment by
// ENQ, frame transfer with per-frame acknowledgement, termination by EOT.
// Like Machine it is pure; Start and Step return outputs for the runtime to
// execute.
//
// Contention is resolved by always yielding: an ENQ received while our own
// ENQ is outstanding defers to the peer by backing off for a T3 slot before
// trying again.
type Sender struct {
	cfg Config

	phase  Phase
	frames [][]byte // pre-encoded wire frames
	next   int      // index of the frame awaiting acknowledgement
	inbuf  []byte

	nakStreak   int
	enqAttempts int
	closed      bool
	done        bool
}

// NewSender builds a sender for one message. Frame numbers start at 1 per
// E1381 and advance modulo 8 across all frames of the message.
func NewSender(cfg Config, msg *Message) (*Sender, error) {
	if msg == nil || len(msg.Records) == 0 {
		return nil, fmt.Errorf("message has no records")
	}
	s := &Sender{cfg: cfg.withDefaults(), phase: PhaseIdle}
	fn := 1
	for _, record := range msg.Records {
		line := make([]byte, 0, len(record)+1)
		line = append(line, record...)
		line = append(line, CR)
		chunks := SplitRecord(line)
		for i, chunk := range chunks {
			frame, err := EncodeFrame(fn, chunk, i == len(chunks)-1)
			if err != nil {
				return nil, err
			}
			s.frames = append(s.frames, frame)
			fn = (fn + 1) % frameModulo
		}
	}
	return s, nil
}

// Start initiates establishment.
func (s *Sender) Start() []Output {
	s.phase = PhaseEstablishment
	s.enqAttempts = 1
	return []Output{
		SendBytes{Data: []byte{ENQ}},
		ArmTimer{ID: TimerResponse, Duration: s.cfg.T1},
	}
}

// Done reports whether the transfer finished, successfully or not.
func (s *Sender) Done() bool { return s.done }

// Succeeded reports whether every frame was acknowledged.
func (s *Sender) Succeeded() bool { return s.done && s.next == len(s.frames) }

// Phase returns the current protocol phase.
func (s *Sender) Phase() Phase { return s.phase }

// Step advances the sender by one input.
func (s *Sender) Step(in Input) []Output {
	if s.closed {
		return nil
	}
	switch in := in.(type) {
	case InputBytes:
		s.inbuf = append(s.inbuf, in.Data...)
		return s.drain()
	case InputTimer:
		return s.onTimer(in.ID)
	case InputPeerClosed:
		s.closed = true
		s.done = true
		return []Output{Close{Reason: "peer closed"}}
	}
	return nil
}

func (s *Sender) drain() []Output {
	var out []Output
	for len(s.inbuf) > 0 && !s.closed {
		b := s.inbuf[0]
		s.inbuf = s.inbuf[1:]
		switch s.phase {
		case PhaseEstablishment:
			out = append(out, s.onEstablishmentByte(b)...)
		case PhaseTransfer:
			out = append(out, s.onTransferByte(b)...)
		default:
			// Bytes outside an exchange carry no meaning for the sender.
		}
	}
	return out
}

func (s *Sender) onEstablishmentByte(b byte) []Output {
	switch b {
	case ACK:
		s.phase = PhaseTransfer
		s.nakStreak = 0
		return append([]Output{CancelTimer{ID: TimerResponse}}, s.sendCurrent()...)
	case NAK:
		// Receiver busy: wait a full backoff slot before a fresh ENQ.
		return []Output{
			CancelTimer{ID: TimerResponse},
			ArmTimer{ID: TimerBackoff, Duration: s.cfg.T3},
		}
	case ENQ:
		// Contention: yield to the peer.
		return []Output{
			CancelTimer{ID: TimerResponse},
			ArmTimer{ID: TimerBackoff, Duration: s.cfg.T3},
		}
	default:
		return nil
	}
}

func (s *Sender) onTransferByte(b byte) []Output {
	switch b {
	case ACK:
		s.nakStreak = 0
		s.next++
		if s.next == len(s.frames) {
			return s.finish()
		}
		return append([]Output{CancelTimer{ID: TimerResponse}}, s.sendCurrent()...)
	case NAK:
		s.nakStreak++
		if s.nakStreak >= s.cfg.MaxRetries {
			return s.abort("retry budget exhausted")
		}
		return []Output{
			CancelTimer{ID: TimerResponse},
			ArmTimer{ID: TimerBackoff, Duration: s.cfg.T3},
		}
	case EOT:
		// Receiver interrupt: the peer wants the line.
		return s.abort("receiver interrupt")
	default:
		return nil
	}
}

func (s *Sender) onTimer(id TimerID) []Output {
	switch {
	case id == TimerBackoff && s.phase == PhaseEstablishment:
		s.enqAttempts++
		if s.enqAttempts > s.cfg.MaxRetries {
			return s.abort("establishment failed")
		}
		return []Output{
			SendBytes{Data: []byte{ENQ}},
			ArmTimer{ID: TimerResponse, Duration: s.cfg.T1},
		}
	case id == TimerBackoff && s.phase == PhaseTransfer:
		// Backoff slot over: retransmit the unacknowledged frame.
		return s.sendCurrent()
	case id == TimerResponse && s.phase == PhaseEstablishment:
		s.enqAttempts++
		if s.enqAttempts > s.cfg.MaxRetries {
			return s.abort("establishment timed out")
		}
		return []Output{
			SendBytes{Data: []byte{ENQ}},
			ArmTimer{ID: TimerResponse, Duration: s.cfg.T1},
		}
	case id == TimerResponse && s.phase == PhaseTransfer:
		// Silent peer counts against the same retry budget as a NAK.
		s.nakStreak++
		if s.nakStreak >= s.cfg.MaxRetries {
			return s.abort("response timed out")
		}
		return s.sendCurrent()
	}
	return nil
}

func (s *Sender) sendCurrent() []Output {
	return []Output{
		SendBytes{Data: s.frames[s.next]},
		ArmTimer{ID: TimerResponse, Duration: s.cfg.T1},
	}
}

func (s *Sender) finish() []Output {
	s.phase = PhaseIdle
	s.closed = true
	s.done = true
	return []Output{
		CancelTimer{ID: TimerResponse},
		SendBytes{Data: []byte{EOT}},
		Close{Reason: "transfer complete", Clean: true},
	}
}

func (s *Sender) abort(reason string) []Output {
	s.phase = PhaseIdle
	s.closed = true
	s.done = true
	return []Output{
		CancelTimer{ID: TimerResponse},
		CancelTimer{ID: TimerBackoff},
		SendBytes{Data: []byte{EOT}},
		Close{Reason: reason},
	}
}

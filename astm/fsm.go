package astm

import (
	"time"
)

// Phase is the E1381 protocol phase.
type Phase int

// Protocol phases.
const (
	PhaseIdle Phase = iota
	PhaseEstablishment
	PhaseTransfer
	PhaseTermination
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEstablishment:
		return "establishment"
	case PhaseTransfer:
		return "transfer"
	case PhaseTermination:
		return "termination"
	default:
		return "unknown"
	}
}

// TimerID names the per-session protocol timers.
type TimerID int

// Protocol timers.
const (
	// TimerResponse (T1) bounds the wait for a peer reply after ENQ or a
	// transmitted frame.
	TimerResponse TimerID = iota
	// TimerReceive (T2) bounds the idle gap while a message is in progress.
	TimerReceive
	// TimerBackoff (T3) is the retransmission slot delay after a NAK.
	TimerBackoff
)

// String returns the conventional timer name.
func (t TimerID) String() string {
	switch t {
	case TimerResponse:
		return "T1"
	case TimerReceive:
		return "T2"
	case TimerBackoff:
		return "T3"
	default:
		return "unknown"
	}
}

// Input is the FSM input alphabet.
type Input interface{ isInput() }

// InputBytes carries bytes read from the peer.
type InputBytes struct{ Data []byte }

// InputTimer signals expiry of a previously armed timer.
type InputTimer struct{ ID TimerID }

// InputPeerClosed signals that the peer closed the connection.
type InputPeerClosed struct{}

func (InputBytes) isInput()      {}
func (InputTimer) isInput()      {}
func (InputPeerClosed) isInput() {}

// Output is the FSM output alphabet. The session runtime executes outputs in
// order against the real socket and timers.
type Output interface{ isOutput() }

// SendBytes asks the runtime to write bytes to the peer.
type SendBytes struct{ Data []byte }

// ArmTimer asks the runtime to (re)arm a timer.
type ArmTimer struct {
	ID       TimerID
	Duration time.Duration
}

// CancelTimer asks the runtime to stop a timer.
type CancelTimer struct{ ID TimerID }

// Dispatch hands a completed message to the runtime for delivery.
type Dispatch struct{ Message *Message }

// Close asks the runtime to close the connection.
type Close struct {
	Reason string
	Clean  bool
}

func (SendBytes) isOutput()   {}
func (ArmTimer) isOutput()    {}
func (CancelTimer) isOutput() {}
func (Dispatch) isOutput()    {}
func (Close) isOutput()       {}

// Config holds the timer windows and retry budget shared by both roles.
type Config struct {
	T1         time.Duration // response timer
	T2         time.Duration // receive timer
	T3         time.Duration // retry backoff
	MaxRetries int           // consecutive NAKs before the session is aborted
}

// DefaultConfig returns the ASTM-recommended timer windows.
func DefaultConfig() Config {
	return Config{
		T1:         15 * time.Second,
		T2:         30 * time.Second,
		T3:         10 * time.Second,
		MaxRetries: 6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.T1 <= 0 {
		c.T1 = d.T1
	}
	if c.T2 <= 0 {
		c.T2 = d.T2
	}
	if c.T3 <= 0 {
		c.T3 = d.T3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// fnUnsynced marks the window before the first frame of a transfer. Peers
// disagree on whether frame numbering starts at 0 or 1, so the first frame is
// accepted with either and the counter synchronizes to it.
const fnUnsynced = -1

// Machine is the receiver role of the E1381 transport. It is a pure state
// machine: Step consumes one input and returns the outputs the runtime must
// perform. It is not safe for concurrent use; a session owns exactly one
// machine.
type Machine struct {
	cfg Config

	phase      Phase
	expectedFN int
	inbuf      []byte

	recordBuf []byte   // ETB continuation buffer
	records   [][]byte // records of the in-progress message
	inMessage bool
	nakStreak int
	closed    bool
}

// NewReceiver creates a receiver machine in the Idle phase. Zero config
// fields fall back to DefaultConfig.
func NewReceiver(cfg Config) *Machine {
	return &Machine{cfg: cfg.withDefaults(), phase: PhaseIdle, expectedFN: fnUnsynced}
}

// Phase returns the current protocol phase.
func (m *Machine) Phase() Phase { return m.phase }

// ExpectedFN returns the next acceptable frame number, or -1 before the first
// frame of a transfer.
func (m *Machine) ExpectedFN() int { return m.expectedFN }

// Step advances the machine by one input.
func (m *Machine) Step(in Input) []Output {
	if m.closed {
		return nil
	}
	switch in := in.(type) {
	case InputBytes:
		m.inbuf = append(m.inbuf, in.Data...)
		return m.drain()
	case InputTimer:
		return m.onTimer(in.ID)
	case InputPeerClosed:
		m.reset()
		m.closed = true
		return []Output{Close{Reason: "peer closed"}}
	}
	return nil
}

// drain consumes as much of the input buffer as possible.
func (m *Machine) drain() []Output {
	var out []Output
	for len(m.inbuf) > 0 && !m.closed {
		switch m.inbuf[0] {
		case ENQ:
			m.inbuf = m.inbuf[1:]
			out = append(out, m.onENQ()...)
		case EOT:
			m.inbuf = m.inbuf[1:]
			out = append(out, m.onEOT()...)
		case ACK, NAK:
			// Handshake bytes are meaningless to the receiver role.
			m.inbuf = m.inbuf[1:]
		default:
			frame, status, consumed := Decode(m.inbuf)
			if status == NeedMore {
				return out
			}
			m.inbuf = m.inbuf[consumed:]
			if m.phase == PhaseIdle {
				// Frames without establishment are rejected.
				out = append(out, SendBytes{Data: []byte{NAK}})
				continue
			}
			if status == FrameOK {
				out = append(out, m.onFrame(frame)...)
			} else {
				out = append(out, m.onBadFrame()...)
			}
		}
	}
	return out
}

func (m *Machine) onENQ() []Output {
	switch m.phase {
	case PhaseIdle:
		m.phase = PhaseTransfer
		m.expectedFN = fnUnsynced
		m.nakStreak = 0
		return []Output{
			SendBytes{Data: []byte{ACK}},
			ArmTimer{ID: TimerReceive, Duration: m.cfg.T2},
		}
	default:
		// Re-establishment mid-session: the peer gave up on the previous
		// exchange. Discard partial state and accept the new one.
		m.clearMessage()
		m.expectedFN = fnUnsynced
		m.nakStreak = 0
		m.phase = PhaseTransfer
		return []Output{
			SendBytes{Data: []byte{ACK}},
			ArmTimer{ID: TimerReceive, Duration: m.cfg.T2},
		}
	}
}

func (m *Machine) onEOT() []Output {
	if m.phase == PhaseIdle {
		// Unsolicited EOT is legal and resets nothing.
		return nil
	}
	m.reset()
	return []Output{CancelTimer{ID: TimerReceive}}
}

func (m *Machine) onFrame(f Frame) []Output {
	accepted := false
	switch {
	case m.expectedFN == fnUnsynced && (f.FN == 0 || f.FN == 1):
		accepted = true
	case f.FN == m.expectedFN:
		accepted = true
	case m.expectedFN != fnUnsynced && f.FN == (m.expectedFN+frameModulo-1)%frameModulo:
		// Retransmit of a frame whose ACK was lost: acknowledge again
		// without re-appending the data.
		m.nakStreak = 0
		return []Output{
			SendBytes{Data: []byte{ACK}},
			ArmTimer{ID: TimerReceive, Duration: m.cfg.T2},
		}
	}
	if !accepted {
		return m.onBadFrame()
	}

	m.nakStreak = 0
	m.expectedFN = (f.FN + 1) % frameModulo
	m.recordBuf = append(m.recordBuf, f.Data...)

	var out []Output
	if f.Terminal {
		record := m.recordBuf
		if n := len(record); n > 0 && record[n-1] == CR {
			record = record[:n-1]
		}
		m.recordBuf = nil
		out = m.onRecord(record)
	}
	return append(out,
		SendBytes{Data: []byte{ACK}},
		ArmTimer{ID: TimerReceive, Duration: m.cfg.T2},
	)
}

func (m *Machine) onRecord(record []byte) []Output {
	if len(record) == 0 {
		return nil
	}
	switch record[0] {
	case 'H':
		// A header always opens a fresh message; a dangling one is dropped.
		m.records = [][]byte{record}
		m.inMessage = true
		m.phase = PhaseTransfer
	case 'L':
		if !m.inMessage {
			return nil
		}
		m.records = append(m.records, record)
		msg := &Message{Records: m.records}
		m.records = nil
		m.inMessage = false
		m.phase = PhaseTermination
		return []Output{Dispatch{Message: msg}}
	default:
		if m.inMessage {
			m.records = append(m.records, record)
		}
	}
	return nil
}

func (m *Machine) onBadFrame() []Output {
	m.nakStreak++
	if m.nakStreak >= m.cfg.MaxRetries {
		m.reset()
		m.closed = true
		return []Output{
			SendBytes{Data: []byte{EOT}},
			CancelTimer{ID: TimerReceive},
			Close{Reason: "retry budget exhausted"},
		}
	}
	return []Output{
		SendBytes{Data: []byte{NAK}},
		ArmTimer{ID: TimerReceive, Duration: m.cfg.T2},
	}
}

func (m *Machine) onTimer(id TimerID) []Output {
	if id != TimerReceive {
		return nil
	}
	if m.phase == PhaseIdle {
		return nil
	}
	// Receive window expired: the peer went silent mid-session. Drop the
	// partial message and wait for a fresh ENQ on the same connection.
	m.reset()
	return nil
}

func (m *Machine) clearMessage() {
	m.recordBuf = nil
	m.records = nil
	m.inMessage = false
}

func (m *Machine) reset() {
	m.clearMessage()
	m.phase = PhaseIdle
	m.expectedFN = fnUnsynced
	m.nakStreak = 0
}

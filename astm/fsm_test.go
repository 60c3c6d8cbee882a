package astm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepOutcome flattens FSM outputs for assertions.
type stepOutcome struct {
	sent       []byte
	dispatched []*Message
	closed     bool
}

func run(m *Machine, inputs ...Input) stepOutcome {
	var oc stepOutcome
	for _, in := range inputs {
		for _, out := range m.Step(in) {
			switch out := out.(type) {
			case SendBytes:
				oc.sent = append(oc.sent, out.Data...)
			case Dispatch:
				oc.dispatched = append(oc.dispatched, out.Message)
			case Close:
				oc.closed = true
			}
		}
	}
	return oc
}

func feed(m *Machine, data []byte) stepOutcome {
	return run(m, InputBytes{Data: data})
}

func framesFor(t *testing.T, startFN int, records ...string) []byte {
	t.Helper()
	var wire []byte
	fn := startFN
	for _, rec := range records {
		frame, err := EncodeFrame(fn, append([]byte(rec), CR), true)
		require.NoError(t, err)
		wire = append(wire, frame...)
		fn = (fn + 1) % frameModulo
	}
	return wire
}

func TestIdleENQStartsTransfer(t *testing.T) {
	m := NewReceiver(Config{})

	oc := feed(m, []byte{ENQ})
	assert.Equal(t, []byte{ACK}, oc.sent)
	assert.Equal(t, PhaseTransfer, m.Phase())
}

func TestIdleJunkGetsNAK(t *testing.T) {
	m := NewReceiver(Config{})

	oc := feed(m, []byte{'X'})
	assert.Equal(t, []byte{NAK}, oc.sent)
	assert.Equal(t, PhaseIdle, m.Phase())

	// A full frame without establishment is also rejected.
	oc = feed(m, framesFor(t, 1, "H|\\^&"))
	assert.Equal(t, []byte{NAK}, oc.sent)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestIdleEOTIgnored(t *testing.T) {
	m := NewReceiver(Config{})

	oc := feed(m, []byte{EOT})
	assert.Empty(t, oc.sent)
	assert.Equal(t, PhaseIdle, m.Phase())
}

// Minimal Cobas-style session: ENQ, H/P/L frames, EOT.
func TestMinimalSession(t *testing.T) {
	m := NewReceiver(Config{})

	oc := feed(m, []byte{ENQ})
	require.Equal(t, []byte{ACK}, oc.sent)

	oc = feed(m, framesFor(t, 1, `H|\^&|||cobas|||||||P|1`, "P|1", "L|1|N"))
	assert.Equal(t, []byte{ACK, ACK, ACK}, oc.sent)
	require.Len(t, oc.dispatched, 1)

	msg := oc.dispatched[0]
	require.Len(t, msg.Records, 3)
	assert.Equal(t, byte('H'), msg.Records[0][0])
	assert.Equal(t, "P|1", string(msg.Records[1]))
	assert.Equal(t, "L|1|N", string(msg.Records[2]))
	assert.Equal(t, "cobas", msg.SenderName())

	oc = feed(m, []byte{EOT})
	assert.Empty(t, oc.dispatched)
	assert.Equal(t, PhaseIdle, m.Phase())
}

// Frame numbers advance 0..7 and wrap back to 0 across one message.
func TestFrameNumberWraparound(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})

	records := []string{`H|\^&`}
	for i := 0; i < 8; i++ {
		records = append(records, "C|1|I|note|G")
	}
	records = append(records, "L|1|N")

	oc := feed(m, framesFor(t, 0, records...))
	assert.Equal(t, bytes.Repeat([]byte{ACK}, 10), oc.sent)
	require.Len(t, oc.dispatched, 1)
	assert.Len(t, oc.dispatched[0].Records, 10)

	oc = feed(m, []byte{EOT})
	assert.Equal(t, PhaseIdle, m.Phase())
}

// Bad checksum draws a NAK; the retransmission with a good checksum advances.
func TestBadChecksumRecovery(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})

	good := framesFor(t, 1, `H|\^&`)
	bad := append([]byte{}, good...)
	bad[len(bad)-4] = '0'
	bad[len(bad)-3] = '0'

	oc := feed(m, bad)
	assert.Equal(t, []byte{NAK}, oc.sent)

	oc = feed(m, good)
	assert.Equal(t, []byte{ACK}, oc.sent)
	assert.Equal(t, 2, m.ExpectedFN())
}

// A retransmit of the previously ACKed frame is re-ACKed without re-append.
func TestLostACKRetransmit(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})

	header := framesFor(t, 1, `H|\^&`)
	oc := feed(m, header)
	require.Equal(t, []byte{ACK}, oc.sent)

	oc = feed(m, header) // peer never saw our ACK
	assert.Equal(t, []byte{ACK}, oc.sent)
	assert.Empty(t, oc.dispatched)
	assert.Equal(t, 2, m.ExpectedFN())

	oc = feed(m, framesFor(t, 2, "P|1", "L|1|N"))
	require.Len(t, oc.dispatched, 1)
	// The duplicated header must appear exactly once.
	assert.Len(t, oc.dispatched[0].Records, 3)
}

func TestWrongFrameNumberGetsNAK(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	feed(m, framesFor(t, 1, `H|\^&`)) // expected is now 2

	oc := feed(m, framesFor(t, 5, "P|1"))
	assert.Equal(t, []byte{NAK}, oc.sent)
	assert.Equal(t, 2, m.ExpectedFN())
}

// A record split across an ETB frame and an ETX frame is reassembled whole.
func TestETBContinuation(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	feed(m, framesFor(t, 1, `H|\^&`))

	longTail := bytes.Repeat([]byte{'x'}, 100)
	part1, err := EncodeFrame(2, append([]byte("R|1|^^^GLU|"), longTail[:50]...), false)
	require.NoError(t, err)
	part2, err := EncodeFrame(3, append(append([]byte{}, longTail[50:]...), CR), true)
	require.NoError(t, err)

	oc := feed(m, append(append([]byte{}, part1...), part2...))
	assert.Equal(t, []byte{ACK, ACK}, oc.sent)

	oc = feed(m, framesFor(t, 4, "L|1|N"))
	require.Len(t, oc.dispatched, 1)
	want := append([]byte("R|1|^^^GLU|"), longTail...)
	assert.Equal(t, want, oc.dispatched[0].Records[1])
}

// EOT mid-message aborts: the partial message is never dispatched.
func TestPeerAbortMidMessage(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	feed(m, framesFor(t, 1, `H|\^&`, "P|1"))

	oc := feed(m, []byte{EOT})
	assert.Empty(t, oc.dispatched)
	assert.Equal(t, PhaseIdle, m.Phase())

	// The next session starts clean and dispatches only its own records.
	feed(m, []byte{ENQ})
	oc = feed(m, framesFor(t, 1, `H|\^&`, "L|1|N"))
	require.Len(t, oc.dispatched, 1)
	assert.Len(t, oc.dispatched[0].Records, 2)
}

// A sustained NAK storm exhausts the retry budget and aborts with EOT.
func TestNAKStormAborts(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})

	bad := framesFor(t, 1, `H|\^&`)
	bad[len(bad)-4] = '0'
	bad[len(bad)-3] = '0'

	var oc stepOutcome
	for i := 0; i < 6 && !oc.closed; i++ {
		oc = feed(m, bad)
	}
	assert.True(t, oc.closed)
	assert.Contains(t, string(oc.sent), string([]byte{EOT}))

	// A closed machine is inert.
	assert.Empty(t, m.Step(InputBytes{Data: []byte{ENQ}}))
}

// The receive window expiring mid-message discards it without dispatch.
func TestReceiveTimerDiscards(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	feed(m, framesFor(t, 1, `H|\^&`, "P|1"))

	oc := run(m, InputTimer{ID: TimerReceive})
	assert.Empty(t, oc.dispatched)
	assert.Equal(t, PhaseIdle, m.Phase())

	// Frames after expiry are rejected until a fresh ENQ.
	oc = feed(m, framesFor(t, 3, "R|1|x"))
	assert.Equal(t, []byte{NAK}, oc.sent)
}

// Two messages may ride one establishment.
func TestMultipleMessagesPerSession(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})

	oc := feed(m, framesFor(t, 1, `H|\^&`, "L|1|N", `H|\^&`, "R|1|x", "L|1|N"))
	require.Len(t, oc.dispatched, 2)
	assert.Len(t, oc.dispatched[0].Records, 2)
	assert.Len(t, oc.dispatched[1].Records, 3)

	feed(m, []byte{EOT})
	assert.Equal(t, PhaseIdle, m.Phase())
}

// Records arriving outside an H..L envelope are ACKed but dropped.
func TestOrphanRecordsDropped(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})

	oc := feed(m, framesFor(t, 1, "R|1|orphan", `H|\^&`, "L|1|N"))
	assert.Equal(t, []byte{ACK, ACK, ACK}, oc.sent)
	require.Len(t, oc.dispatched, 1)
	assert.Len(t, oc.dispatched[0].Records, 2)
}

// Frame numbering may start at 0 or 1; the receiver syncs to the first frame.
func TestInitialFrameNumberSync(t *testing.T) {
	for _, start := range []int{0, 1} {
		m := NewReceiver(Config{})
		feed(m, []byte{ENQ})

		oc := feed(m, framesFor(t, start, `H|\^&`, "L|1|N"))
		require.Len(t, oc.dispatched, 1, "start fn %d", start)
	}

	// Anything else is rejected until sync.
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	oc := feed(m, framesFor(t, 4, `H|\^&`))
	assert.Equal(t, []byte{NAK}, oc.sent)
}

func TestENQMidSessionResets(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	feed(m, framesFor(t, 1, `H|\^&`, "P|1"))

	oc := feed(m, []byte{ENQ})
	assert.Equal(t, []byte{ACK}, oc.sent)

	oc = feed(m, framesFor(t, 1, `H|\^&`, "L|1|N"))
	require.Len(t, oc.dispatched, 1)
	assert.Len(t, oc.dispatched[0].Records, 2)
}

func TestPeerClosedDropsState(t *testing.T) {
	m := NewReceiver(Config{})
	feed(m, []byte{ENQ})
	feed(m, framesFor(t, 1, `H|\^&`, "P|1"))

	oc := run(m, InputPeerClosed{})
	assert.True(t, oc.closed)
	assert.Empty(t, oc.dispatched)
}

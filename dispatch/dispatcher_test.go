package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labgate/astm"
	"github.com/c360/labgate/message"
)

type recordingSink struct {
	name string
	err  error

	mu       sync.Mutex
	received []*message.Message
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.received = append(s.received, msg)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func testMsg() *message.Message {
	return message.New(&astm.Message{Records: [][]byte{
		[]byte(`H|\^&|||inst`),
		[]byte("L|1|N"),
	}}, "test")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestFanOutToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}

	d, err := New(nil, 8, a, b)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(time.Second)

	msg := testMsg()
	d.Submit(msg)

	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 })
	delivered, failed, dropped := d.Stats()
	assert.Equal(t, int64(2), delivered)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
}

func TestFailingSinkDoesNotAffectOthers(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("down")}
	good := &recordingSink{name: "good"}

	d, err := New(nil, 8, bad, good)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(time.Second)

	for i := 0; i < 3; i++ {
		d.Submit(testMsg())
	}

	waitFor(t, func() bool { return good.count() == 3 })
	_, failed, _ := d.Stats()
	assert.Equal(t, int64(3), failed)
}

func TestOrderingPreservedPerSink(t *testing.T) {
	s := &recordingSink{name: "ordered"}

	d, err := New(nil, 32, s)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(time.Second)

	var ids []string
	for i := 0; i < 10; i++ {
		msg := testMsg()
		ids = append(ids, msg.ID)
		d.Submit(msg)
	}

	waitFor(t, func() bool { return s.count() == 10 })

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.received {
		assert.Equal(t, ids[i], m.ID)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	s := &recordingSink{name: "slowstart"}

	d, err := New(nil, 32, s)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	for i := 0; i < 5; i++ {
		d.Submit(testMsg())
	}
	require.NoError(t, d.Stop(2*time.Second))
	assert.Equal(t, 5, s.count())
}

func TestDoubleStartRejected(t *testing.T) {
	d, err := New(nil, 8, &recordingSink{name: "x"})
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(time.Second))
}

func TestNoSinksIsLegal(t *testing.T) {
	d, err := New(nil, 8)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	d.Submit(testMsg()) // nowhere to go, must not panic
	assert.Zero(t, d.Sinks())
	require.NoError(t, d.Stop(time.Second))
}

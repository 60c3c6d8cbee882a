package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)

	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
}

func TestOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("labgate-test"),
		WithReconnect(5, 250*time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, "labgate-test", c.opts.Name)
	assert.Equal(t, 5, c.opts.MaxReconnects)
	assert.Equal(t, 250*time.Millisecond, c.opts.ReconnectWait)
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish("lab.astm.message", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "closed", StatusClosed.String())
}

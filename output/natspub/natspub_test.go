package natspub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labgate/astm"
	"github.com/c360/labgate/message"
	"github.com/c360/labgate/natsclient"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultSubject, cfg.Subject)
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestDeliverWithoutConnectionFails(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	s, err := NewSink(DefaultConfig(), client, nil)
	require.NoError(t, err)

	msg := message.New(&astm.Message{Records: [][]byte{
		[]byte(`H|\^&`), []byte("L|1|N"),
	}}, "test")

	err = s.Deliver(context.Background(), msg)
	require.Error(t, err)

	_, errCount := s.Stats()
	assert.Equal(t, int64(1), errCount)
}

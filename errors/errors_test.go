package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	err := WrapTransient(ErrConnectionLost, "Session", "readLoop", "socket read")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrConnectionLost))
	assert.Contains(t, err.Error(), "Session.readLoop: socket read failed")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	transient := WrapTransient(stderrors.New("boom"), "Sink", "Deliver", "post")
	invalid := WrapInvalid(stderrors.New("boom"), "Config", "Validate", "check")
	fatal := WrapFatal(stderrors.New("boom"), "Listener", "Start", "bind")

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(invalid))

	assert.True(t, IsInvalid(invalid))
	assert.False(t, IsInvalid(fatal))

	assert.True(t, IsFatal(fatal))
	assert.False(t, IsFatal(transient))

	assert.Equal(t, ErrorTransient, Classify(transient))
	assert.Equal(t, ErrorInvalid, Classify(invalid))
	assert.Equal(t, ErrorFatal, Classify(fatal))
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsInvalid(ErrChecksumFailed))
	assert.True(t, IsInvalid(ErrBadFraming))
	assert.True(t, IsTransient(ErrConnectionTimeout))
	assert.True(t, IsFatal(ErrMissingConfig))

	// Unknown errors default to transient so retry remains possible.
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}

func TestNilChecks(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
}

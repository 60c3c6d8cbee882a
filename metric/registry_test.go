package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labgate/errors"
)

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labgate",
		Subsystem: "test",
		Name:      "things_total",
		Help:      "Things counted in tests",
	})

	require.NoError(t, r.RegisterCounter("astm-input", "things", counter))
	assert.True(t, r.Unregister("astm-input", "things"))
	assert.False(t, r.Unregister("astm-input", "things"))
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labgate",
		Name:      "sessions_active",
		Help:      "Active sessions",
	})

	require.NoError(t, r.RegisterGauge("astm-input", "sessions", gauge))

	err := r.RegisterGauge("astm-input", "sessions", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterDistinctKinds(t *testing.T) {
	r := NewRegistry()

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "labgate",
		Name:      "frame_bytes",
		Help:      "Frame sizes",
		Buckets:   []float64{16, 64, 256},
	})
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labgate",
		Name:      "sink_errors_total",
		Help:      "Sink delivery errors",
	}, []string{"sink"})

	assert.NoError(t, r.RegisterHistogram("astm-input", "frame_bytes", hist))
	assert.NoError(t, r.RegisterCounterVec("dispatcher", "sink_errors", vec))
}

package astm

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/labgate/metric"
)

// Metrics holds Prometheus metrics for the ASTM input component
type Metrics struct {
	sessionsActive     prometheus.Gauge
	sessionsTotal      prometheus.Counter
	bytesReceived      prometheus.Counter
	acksSent           prometheus.Counter
	naksSent           prometheus.Counter
	messagesDispatched prometheus.Counter
	abortsTotal        prometheus.Counter
	timeoutsTotal      prometheus.Counter
}

// newMetrics creates and registers ASTM input metrics. A nil registry
// disables metrics entirely (nil input = nil feature pattern).
func newMetrics(registry *metric.Registry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "sessions_active",
			Help:      "Currently open instrument sessions",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "sessions_total",
			Help:      "Total accepted instrument sessions",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "bytes_received_total",
			Help:      "Total bytes received from instruments",
		}),
		acksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "acks_sent_total",
			Help:      "Frames acknowledged",
		}),
		naksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "naks_sent_total",
			Help:      "Frames rejected with NAK",
		}),
		messagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "messages_dispatched_total",
			Help:      "Completed messages handed to the dispatcher",
		}),
		abortsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "session_aborts_total",
			Help:      "Sessions aborted on protocol violations",
		}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labgate",
			Subsystem: "astm",
			Name:      "receive_timeouts_total",
			Help:      "Receive windows expired mid-message",
		}),
	}

	componentName := fmt.Sprintf("astm_%d", port)
	_ = registry.RegisterGauge(componentName, "sessions_active", m.sessionsActive)
	_ = registry.RegisterCounter(componentName, "sessions_total", m.sessionsTotal)
	_ = registry.RegisterCounter(componentName, "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter(componentName, "acks_sent", m.acksSent)
	_ = registry.RegisterCounter(componentName, "naks_sent", m.naksSent)
	_ = registry.RegisterCounter(componentName, "messages_dispatched", m.messagesDispatched)
	_ = registry.RegisterCounter(componentName, "session_aborts", m.abortsTotal)
	_ = registry.RegisterCounter(componentName, "receive_timeouts", m.timeoutsTotal)

	return m
}

// Package health aggregates component health and serves it on the ops
// endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/c360/labgate/component"
)

// Status is the aggregate health report served at /healthz.
type Status struct {
	Healthy    bool                              `json:"healthy"`
	CheckedAt  time.Time                         `json:"checked_at"`
	Components map[string]component.HealthStatus `json:"components"`
	Flow       map[string]component.FlowMetrics  `json:"flow,omitempty"`
}

// Monitor tracks registered components.
type Monitor struct {
	mu         sync.RWMutex
	components []component.Discoverable
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Register adds a component to the health report.
func (m *Monitor) Register(c component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Snapshot collects the current status of every registered component. The
// aggregate is healthy only when every component is.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Healthy:    true,
		CheckedAt:  time.Now(),
		Components: make(map[string]component.HealthStatus, len(m.components)),
		Flow:       make(map[string]component.FlowMetrics, len(m.components)),
	}
	for _, c := range m.components {
		meta := c.Meta()
		h := c.Health()
		st.Components[meta.Name] = h
		st.Flow[meta.Name] = c.DataFlow()
		if !h.Healthy {
			st.Healthy = false
		}
	}
	return st
}

// Handler serves the aggregate status as JSON. Unhealthy aggregates answer
// 503 so load balancers and probes need no body parsing.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		st := m.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if !st.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})
}

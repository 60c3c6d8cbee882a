// Package component defines the lifecycle and observability contracts shared
// by the gateway's inputs, sinks, and infrastructure services.
package component

import (
	"time"
)

// Metadata describes a component for discovery and logging.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "output", "service"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus reports the current health of a component.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	Detail     string        `json:"detail,omitempty"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics reports data-flow rates for a component.
type FlowMetrics struct {
	MessagesTotal int64     `json:"messages_total"`
	BytesTotal    int64     `json:"bytes_total"`
	ErrorsTotal   int64     `json:"errors_total"`
	ErrorRate     float64   `json:"error_rate"`
	LastActivity  time.Time `json:"last_activity"`
}

// Discoverable is the minimal observability contract every component meets.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

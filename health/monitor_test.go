package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labgate/component"
)

type fakeComponent struct {
	name    string
	healthy bool
}

func (f *fakeComponent) Meta() component.Metadata {
	return component.Metadata{Name: f.name, Type: "test"}
}

func (f *fakeComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: f.healthy, LastCheck: time.Now()}
}

func (f *fakeComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{MessagesTotal: 7}
}

func TestSnapshotAggregates(t *testing.T) {
	m := NewMonitor()
	m.Register(&fakeComponent{name: "a", healthy: true})
	m.Register(&fakeComponent{name: "b", healthy: true})

	st := m.Snapshot()
	assert.True(t, st.Healthy)
	assert.Len(t, st.Components, 2)
	assert.Equal(t, int64(7), st.Flow["a"].MessagesTotal)
}

func TestOneUnhealthyComponentFailsAggregate(t *testing.T) {
	m := NewMonitor()
	m.Register(&fakeComponent{name: "a", healthy: true})
	m.Register(&fakeComponent{name: "b", healthy: false})

	assert.False(t, m.Snapshot().Healthy)
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewMonitor()
	m.Register(&fakeComponent{name: "a", healthy: true})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Healthy)

	m.Register(&fakeComponent{name: "b", healthy: false})
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestEmptyMonitorIsHealthy(t *testing.T) {
	assert.True(t, NewMonitor().Snapshot().Healthy)
}

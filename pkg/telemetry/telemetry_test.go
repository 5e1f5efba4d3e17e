package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource(t *testing.T) {
	s := NewStaticSource()

	_, err := s.AgentMetrics(context.Background(), "agent-1")
	require.Error(t, err, "an unregistered agent is a collaborator failure, not empty metrics")

	s.Set("agent-1", &Metrics{ErrorRate: 0.02, TaskCount: 50})

	m, err := s.AgentMetrics(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, m.ErrorRate, 1e-9)

	// Callers get a copy.
	m.ErrorRate = 0.99
	again, err := s.AgentMetrics(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, again.ErrorRate, 1e-9)
}

func TestSystemConditionsDegraded(t *testing.T) {
	healthy := SystemConditions{BusHealthy: true, NetworkOK: true, LoadFactor: 0.4}
	assert.False(t, healthy.Degraded())

	assert.True(t, SystemConditions{BusHealthy: false, NetworkOK: true, LoadFactor: 0.4}.Degraded())
	assert.True(t, SystemConditions{BusHealthy: true, NetworkOK: false, LoadFactor: 0.4}.Degraded())
	assert.True(t, SystemConditions{BusHealthy: true, NetworkOK: true, LoadFactor: 0.9}.Degraded())
}

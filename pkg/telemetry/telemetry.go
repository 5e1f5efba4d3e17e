// Package telemetry defines the collaborator contracts the governance
// engine consumes: the per-agent metrics source and the system-wide
// condition probe. How metrics are collected or aggregated is out of
// scope; the engine only reads snapshots.
package telemetry

import (
	"context"
	"fmt"
	"sync"
)

// ResourceUsage is consumption relative to allocation per dimension.
// 1.0 means fully used, >1.0 means over-allocation.
type ResourceUsage struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Network float64 `json:"network"`
}

// Metrics is a point-in-time performance snapshot for a single agent.
// All rates are in [0,1] except ResourceUsage.
type Metrics struct {
	ErrorRate                float64       `json:"error_rate"`
	TimeoutRate              float64       `json:"timeout_rate"`
	SuccessRate              float64       `json:"success_rate"`
	QualityScore             float64       `json:"quality_score"`
	BaselineQuality          float64       `json:"baseline_quality"`
	CurrentQuality           float64       `json:"current_quality"`
	CollaborationSuccessRate float64       `json:"collaboration_success_rate"`
	CollaborationFailureRate float64       `json:"collaboration_failure_rate"`
	ResourceUsage            ResourceUsage `json:"resource_usage"`
	TaskCount                int           `json:"task_count"`
	AvgResponseTime          float64       `json:"avg_response_time"` // milliseconds
}

// Source supplies agent metrics. Implementations may block on I/O; the
// engine treats fetch failures as fatal for the current evaluation cycle.
type Source interface {
	AgentMetrics(ctx context.Context, agentID string) (*Metrics, error)
}

// SystemConditions describes fleet-wide health at evaluation time, used
// to adjust penalties for degradation that is not the agent's fault.
type SystemConditions struct {
	BusHealthy  bool    `json:"bus_healthy"`
	NetworkOK   bool    `json:"network_ok"`
	LoadFactor  float64 `json:"load_factor"` // 0 idle .. 1 saturated
	ActiveAgent int     `json:"active_agents"`
}

// Degraded reports whether conditions plausibly confound agent metrics.
func (c SystemConditions) Degraded() bool {
	return !c.BusHealthy || !c.NetworkOK || c.LoadFactor > 0.85
}

// SystemProbe reports current system conditions.
type SystemProbe interface {
	Conditions(ctx context.Context) (SystemConditions, error)
}

// NominalProbe is the default probe: a healthy, lightly loaded system.
type NominalProbe struct{}

func (NominalProbe) Conditions(ctx context.Context) (SystemConditions, error) {
	return SystemConditions{BusHealthy: true, NetworkOK: true, LoadFactor: 0.3}, nil
}

// StaticSource serves fixed metrics per agent. For tests and single-node
// deployments where the orchestrator pushes snapshots in.
type StaticSource struct {
	mu      sync.RWMutex
	metrics map[string]*Metrics
}

func NewStaticSource() *StaticSource {
	return &StaticSource{metrics: make(map[string]*Metrics)}
}

// Set installs the snapshot returned for agentID.
func (s *StaticSource) Set(agentID string, m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := *m
	s.metrics[agentID] = &val
}

func (s *StaticSource) AgentMetrics(ctx context.Context, agentID string) (*Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[agentID]
	if !ok {
		return nil, fmt.Errorf("telemetry: no metrics for agent %s", agentID)
	}
	// return copy to avoid race on mutation outside lock
	val := *m
	return &val, nil
}

package throttle

import (
	"context"
	"sync"
)

// Policy sizes the bucket created for an agent the first time it is seen.
type Policy struct {
	Capacity   int
	RefillRate float64 // tokens per second
	Step       float64
	Floor      float64
}

// Store abstracts per-agent throttle state so the hot path can be
// enforced in-process or across replicas.
type Store interface {
	// Allow checks and consumes cost tokens for the agent.
	Allow(ctx context.Context, agentID string, policy Policy, cost int) (bool, error)
	// ApplyPenalty scales the agent's refill by penalty severity.
	ApplyPenalty(ctx context.Context, agentID string, policy Policy, severity int) error
	// Reset restores the agent to full, unpenalized capacity.
	Reset(ctx context.Context, agentID string) error
}

// MemoryStore keeps one Throttle per agent. For single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Throttle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Throttle)}
}

func (s *MemoryStore) bucket(agentID string, policy Policy) *Throttle {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.buckets[agentID]
	if !ok {
		t = New(policy.Capacity, policy.RefillRate, policy.Step, policy.Floor)
		s.buckets[agentID] = t
	}
	return t
}

func (s *MemoryStore) Allow(ctx context.Context, agentID string, policy Policy, cost int) (bool, error) {
	return s.bucket(agentID, policy).Consume(cost), nil
}

func (s *MemoryStore) ApplyPenalty(ctx context.Context, agentID string, policy Policy, severity int) error {
	s.bucket(agentID, policy).ApplyPenalty(severity)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, agentID string) error {
	s.mu.Lock()
	t, ok := s.buckets[agentID]
	s.mu.Unlock()
	if ok {
		t.Reset()
	}
	return nil
}

// Get returns the agent's throttle, or nil if none exists yet.
func (s *MemoryStore) Get(agentID string) *Throttle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[agentID]
}

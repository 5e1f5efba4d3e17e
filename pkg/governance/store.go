package governance

import (
	"context"
	"sync"
)

// PenaltyStore persists active penalties, at most one per agent.
// Not-found reads return (nil, nil): absence of a penalty is a normal
// state, not an error.
type PenaltyStore interface {
	GetByAgent(ctx context.Context, agentID string) (*Penalty, error)
	GetByID(ctx context.Context, penaltyID string) (*Penalty, error)
	// Put stores the penalty, replacing any prior penalty for the agent.
	Put(ctx context.Context, p *Penalty) error
	// Delete removes the agent's penalty. Deleting a missing penalty is
	// a no-op.
	Delete(ctx context.Context, agentID string) error
	List(ctx context.Context) ([]*Penalty, error)
}

// AppealStore persists appeals keyed by their own id. Method names avoid
// the penalty methods so one store can implement both interfaces.
type AppealStore interface {
	GetAppeal(ctx context.Context, appealID string) (*Appeal, error)
	PutAppeal(ctx context.Context, a *Appeal) error
	ListAppeals(ctx context.Context) ([]*Appeal, error)
}

// MemoryStore implements PenaltyStore and AppealStore in memory.
// Thread-safe via RWMutex.
type MemoryStore struct {
	mu        sync.RWMutex
	penalties map[string]*Penalty // agentID -> penalty
	byID      map[string]string   // penaltyID -> agentID
	appeals   map[string]*Appeal  // appealID -> appeal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		penalties: make(map[string]*Penalty),
		byID:      make(map[string]string),
		appeals:   make(map[string]*Appeal),
	}
}

func (s *MemoryStore) GetByAgent(ctx context.Context, agentID string) (*Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.penalties[agentID]; ok {
		// return copy to avoid race on mutation outside lock
		val := *p
		return &val, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, penaltyID string) (*Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agentID, ok := s.byID[penaltyID]
	if !ok {
		return nil, nil
	}
	p, ok := s.penalties[agentID]
	if !ok || p.ID != penaltyID {
		return nil, nil
	}
	val := *p
	return &val, nil
}

func (s *MemoryStore) Put(ctx context.Context, p *Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.penalties[p.AgentID]; ok {
		delete(s.byID, prior.ID)
	}
	val := *p
	s.penalties[p.AgentID] = &val
	s.byID[p.ID] = p.AgentID
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.penalties[agentID]; ok {
		delete(s.byID, p.ID)
		delete(s.penalties, agentID)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Penalty, 0, len(s.penalties))
	for _, p := range s.penalties {
		val := *p
		out = append(out, &val)
	}
	return out, nil
}

func (s *MemoryStore) GetAppeal(ctx context.Context, appealID string) (*Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.appeals[appealID]; ok {
		val := *a
		return &val, nil
	}
	return nil, nil
}

func (s *MemoryStore) PutAppeal(ctx context.Context, a *Appeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := *a
	s.appeals[a.ID] = &val
	return nil
}

func (s *MemoryStore) ListAppeals(ctx context.Context) ([]*Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Appeal, 0, len(s.appeals))
	for _, a := range s.appeals {
		val := *a
		out = append(out, &val)
	}
	return out, nil
}

package governance

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AgentLister enumerates the fleet a sweep covers.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]string, error)
}

// Fleet is an in-memory AgentLister with explicit registration.
type Fleet struct {
	mu     sync.RWMutex
	agents map[string]struct{}
}

func NewFleet(agentIDs ...string) *Fleet {
	f := &Fleet{agents: make(map[string]struct{}, len(agentIDs))}
	for _, id := range agentIDs {
		f.agents[id] = struct{}{}
	}
	return f
}

func (f *Fleet) Register(agentID string) {
	f.mu.Lock()
	f.agents[agentID] = struct{}{}
	f.mu.Unlock()
}

func (f *Fleet) Deregister(agentID string) {
	f.mu.Lock()
	delete(f.agents, agentID)
	f.mu.Unlock()
}

func (f *Fleet) ListAgents(_ context.Context) ([]string, error) {
	f.mu.RLock()
	ids := make([]string, 0, len(f.agents))
	for id := range f.agents {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Sweeper runs scheduled governance cycles over the whole fleet. Each
// sweep evaluates every agent and, for agents that stay trigger-free,
// checks whether an outstanding penalty can be lifted. Metrics fetches
// are paced by a rate limiter so a large fleet cannot stampede the
// telemetry collaborator.
type Sweeper struct {
	engine   *Engine
	fleet    AgentLister
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	closed  sync.Once
}

func NewSweeper(engine *Engine, fleet AgentLister, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		fleet:    fleet,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(engine.cfg.SweepFetchRate), engine.cfg.SweepFetchBurst),
		logger:   slog.Default().With("component", "sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish. Safe
// to call on a sweeper that was never started.
func (s *Sweeper) Stop() {
	s.closed.Do(func() { close(s.stop) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full fleet pass. Per-agent failures are logged and do
// not abort the pass; one misbehaving collaborator must not shield the
// rest of the fleet from evaluation.
func (s *Sweeper) Sweep(ctx context.Context) {
	agents, err := s.fleet.ListAgents(ctx)
	if err != nil {
		s.logger.Error("fleet listing failed", "error", err)
		return
	}

	start := time.Now()
	penalized, recovered := 0, 0
	for _, agentID := range agents {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-s.stop:
			return
		default:
		}

		p, err := s.engine.EvaluateAgentPerformance(ctx, agentID)
		if err != nil {
			var cerr *CollaboratorError
			if errors.As(err, &cerr) {
				s.logger.Warn("evaluation skipped", "agent_id", agentID, "collaborator", cerr.Collaborator, "error", err)
			} else {
				s.logger.Error("evaluation failed", "agent_id", agentID, "error", err)
			}
			continue
		}
		if p != nil {
			penalized++
			continue
		}

		ok, err := s.engine.CheckForRecovery(ctx, agentID)
		if err != nil {
			s.logger.Warn("recovery check failed", "agent_id", agentID, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}

	s.logger.Info("sweep complete",
		"agents", len(agents), "penalized", penalized, "recovered", recovered,
		"elapsed", time.Since(start))
}

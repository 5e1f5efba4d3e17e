// Package governance implements the penalty lifecycle for autonomous
// worker agents: scheduled evaluation against policy triggers, graduated
// sanctions with throttling and mandatory remediation, recovery checks,
// and the appeal process that can reverse any of it.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-foundation/aegis/pkg/config"
	"github.com/aegis-foundation/aegis/pkg/evaluator"
	"github.com/aegis-foundation/aegis/pkg/observability"
	"github.com/aegis-foundation/aegis/pkg/remediation"
	"github.com/aegis-foundation/aegis/pkg/telemetry"
	"github.com/aegis-foundation/aegis/pkg/throttle"
)

// PenaltyTopic is the external bus topic for penalty lifecycle events.
const PenaltyTopic = "governance.penalties"

// Clock provides authority time for the engine. Tests inject a fixed
// clock; production uses wall time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Engine orchestrates the evaluator, the throttle store, and the
// remediation manager around the penalty/appeal stores. Evaluation is
// per-agent and embarrassingly parallel: every agent's lifecycle is
// serialized under its own lock, and no global lock exists outside the
// lock table itself.
type Engine struct {
	cfg         *config.Config
	source      telemetry.Source
	eval        *evaluator.Evaluator
	remediation *remediation.Manager
	throttles   throttle.Store
	penalties   PenaltyStore
	appeals     AppealStore
	publisher   Publisher
	emitter     *Emitter
	audit       *SQLiteAuditLog
	recorder    *observability.Recorder
	clock       Clock
	logger      *slog.Logger

	mu         sync.Mutex
	agentLocks map[string]*sync.Mutex

	statsMu         sync.Mutex
	appliedTotal    int
	appealsTotal    int
	appealsApproved int
}

// NewEngine wires an engine around the metrics source. Optional
// collaborators default to in-memory/no-op implementations; inject the
// real ones with the setters below.
func NewEngine(cfg *config.Config, source telemetry.Source) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	store := NewMemoryStore()
	return &Engine{
		cfg:         cfg,
		source:      source,
		eval:        evaluator.New(cfg, nil),
		remediation: remediation.NewManager(cfg.GraduationScore),
		throttles:   throttle.NewMemoryStore(),
		penalties:   store,
		appeals:     store,
		publisher:   NopPublisher{},
		emitter:     NewEmitter(),
		clock:       wallClock{},
		logger:      slog.Default().With("component", "governance"),
		agentLocks:  make(map[string]*sync.Mutex),
	}
}

// SetEvaluator replaces the default evaluator (e.g. one with custom rules).
func (e *Engine) SetEvaluator(ev *evaluator.Evaluator) { e.eval = ev }

// SetThrottleStore replaces the in-memory throttle store (e.g. Redis).
func (e *Engine) SetThrottleStore(s throttle.Store) { e.throttles = s }

// SetStores replaces the penalty and appeal stores (e.g. Postgres).
func (e *Engine) SetStores(p PenaltyStore, a AppealStore) {
	e.penalties = p
	e.appeals = a
}

// SetPublisher injects the external event-bus collaborator.
func (e *Engine) SetPublisher(p Publisher) { e.publisher = p }

// SetAuditLog injects the append-only audit log.
func (e *Engine) SetAuditLog(l *SQLiteAuditLog) { e.audit = l }

// SetRecorder injects the metrics recorder.
func (e *Engine) SetRecorder(r *observability.Recorder) { e.recorder = r }

// SetClock injects an authority clock.
func (e *Engine) SetClock(c Clock) {
	if c != nil {
		e.clock = c
	}
}

// Emitter exposes the in-process notification registry for observers.
func (e *Engine) Emitter() *Emitter { return e.emitter }

// Remediation exposes the remediation manager for progress queries.
func (e *Engine) Remediation() *remediation.Manager { return e.remediation }

// lockAgent serializes the lifecycle of one agent. Distinct agents never
// contend.
func (e *Engine) lockAgent(agentID string) func() {
	e.mu.Lock()
	l, ok := e.agentLocks[agentID]
	if !ok {
		l = &sync.Mutex{}
		e.agentLocks[agentID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (e *Engine) throttlePolicy() throttle.Policy {
	return throttle.Policy{
		Capacity:   e.cfg.ThrottleCapacity,
		RefillRate: e.cfg.ThrottleRefillRate,
		Step:       e.cfg.MultiplierStep,
		Floor:      e.cfg.MultiplierFloor,
	}
}

func (e *Engine) fetchMetrics(ctx context.Context, agentID string) (*telemetry.Metrics, error) {
	m, err := e.source.AgentMetrics(ctx, agentID)
	if err != nil {
		// Never penalize on incomplete data: abort the cycle.
		return nil, &CollaboratorError{Collaborator: "metrics", Err: err}
	}
	return m, nil
}

// levelFor derives a penalty level from fired triggers: the worst
// severity, bumped one step per additional trigger, capped at 6.
func levelFor(triggers []evaluator.Trigger) int {
	level := 1
	for _, t := range triggers {
		if t.Severity > level {
			level = t.Severity
		}
	}
	level += len(triggers) - 1
	if level > 6 {
		level = 6
	}
	return level
}

// EvaluateAgentPerformance runs one governance cycle for the agent. It
// returns nil when no trigger fires; the agent's current state is then
// left untouched. The metrics fetch happens before the agent lock is
// taken so a slow collaborator never blocks other lifecycle operations.
func (e *Engine) EvaluateAgentPerformance(ctx context.Context, agentID string) (*Penalty, error) {
	start := time.Now()

	m, err := e.fetchMetrics(ctx, agentID)
	if err != nil {
		return nil, err
	}
	c, err := e.eval.AnalyzeContext(ctx, agentID, m)
	if err != nil {
		return nil, fmt.Errorf("analyze context for %s: %w", agentID, err)
	}

	triggers := e.eval.EvaluateTriggers(m, c)
	if len(triggers) == 0 {
		e.recorder.EvaluationDone(ctx, start, false)
		return nil, nil
	}

	p, err := e.ApplyPenalty(ctx, agentID, levelFor(triggers), triggers, c, m)
	e.recorder.EvaluationDone(ctx, start, err == nil)
	return p, err
}

// ApplyPenalty builds and stores the sanction for the agent, replacing
// any prior one, then attaches the throttle, starts remediation for
// top-band levels, and notifies observers. The in-memory penalty state
// is authoritative; the bus publish is a notification, not a commit.
func (e *Engine) ApplyPenalty(ctx context.Context, agentID string, level int, triggers []evaluator.Trigger, c *evaluator.Context, m *telemetry.Metrics) (*Penalty, error) {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}

	unlock := e.lockAgent(agentID)

	p := &Penalty{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		Level:          level,
		Name:           PenaltyName(level),
		TriggeredBy:    triggers,
		MetricsAtStart: m,
		Plan:           ImprovementPlan{TargetMetrics: e.targetMetrics(triggers, m)},
		AppealStatus:   AppealNone,
		CreatedAt:      e.clock.Now(),
	}

	report := e.eval.DetectAnomalies(level, triggers, c)
	var autoAppeal *Appeal
	if report.AutoReviewTriggered {
		// Confounding external factors coincided with a top-tier
		// penalty: queue a mandatory review instead of waiting for the
		// agent's operator to contest it.
		p.AppealStatus = AppealPending
		autoAppeal = &Appeal{
			ID:        uuid.New().String(),
			PenaltyID: p.ID,
			AgentID:   agentID,
			Grounds: Grounds{
				Type:        "automatic_review",
				Explanation: "anomaly detector flagged confounding system conditions",
				Evidence:    fmt.Sprintf("anomalies=%v score=%.2f", report.Anomalies, report.AnomalyScore),
			},
			Status:    "pending",
			CreatedAt: e.clock.Now(),
		}
	}

	if err := e.penalties.Put(ctx, p); err != nil {
		unlock()
		return nil, fmt.Errorf("persist penalty for %s: %w", agentID, err)
	}
	if autoAppeal != nil {
		if err := e.appeals.PutAppeal(ctx, autoAppeal); err != nil {
			unlock()
			return nil, fmt.Errorf("persist auto-review appeal for %s: %w", agentID, err)
		}
	}

	if err := e.throttles.ApplyPenalty(ctx, agentID, e.throttlePolicy(), level); err != nil {
		// Persisted penalty stands; the throttle store will pick up the
		// multiplier on its next successful write.
		e.logger.Warn("throttle penalty failed", "agent_id", agentID, "error", err)
	}

	if level >= e.cfg.RemediationLevel {
		if _, err := e.remediation.StartRetraining(agentID, triggers); err != nil {
			e.logger.Warn("retraining start failed", "agent_id", agentID, "error", err)
		}
	}

	unlock()

	e.statsMu.Lock()
	e.appliedTotal++
	if autoAppeal != nil {
		e.appealsTotal++
	}
	e.statsMu.Unlock()

	e.logger.Info("penalty applied",
		"agent_id", agentID, "penalty_id", p.ID, "level", level, "name", p.Name,
		"triggers", p.TriggerTypes(), "auto_review", autoAppeal != nil)

	e.recorder.PenaltyApplied(ctx, level)
	e.auditRecord(ctx, AuditEntry{AgentID: agentID, Action: "penalty_applied", PenaltyID: p.ID, Detail: p.TriggerTypes()})
	e.publish(ctx, "penalty.applied", p)
	e.emitter.Emit(Event{Type: EventPenaltyApplied, AgentID: agentID, Payload: p})
	if autoAppeal != nil {
		e.publish(ctx, "appeal.filed", autoAppeal)
		e.emitter.Emit(Event{Type: EventAppealFiled, AgentID: agentID, Payload: autoAppeal})
	}

	return p, nil
}

// higherIsBetter marks target metrics the agent must raise, not lower.
func higherIsBetter(name string) bool {
	switch name {
	case "currentQuality", "qualityScore", "successRate", "collaborationSuccessRate":
		return true
	}
	return false
}

// targetMetrics derives the improvement plan: every target is strictly
// better than the threshold that fired.
func (e *Engine) targetMetrics(triggers []evaluator.Trigger, m *telemetry.Metrics) map[string]float64 {
	targets := make(map[string]float64)
	for _, t := range triggers {
		switch t.Type {
		case evaluator.TriggerErrorRate:
			targets["errorRate"] = t.Threshold / 2
		case evaluator.TriggerTimeoutFrequency:
			targets["timeoutRate"] = t.Threshold / 2
		case evaluator.TriggerCollaborationFailure:
			targets["collaborationFailureRate"] = t.Threshold / 2
		case evaluator.TriggerQualityDrop:
			// Quality must climb back to within half the tolerated drop.
			targets["currentQuality"] = m.BaselineQuality * (1 - e.cfg.QualityDropFraction/2)
		case evaluator.TriggerResourceAbuse:
			targets["resourceUsage.cpu"] = 1.0
			targets["resourceUsage.memory"] = 1.0
			targets["resourceUsage.network"] = 1.0
		case evaluator.TriggerCustomRule:
			targets["successRate"] = 0.8
		}
	}
	return targets
}

// metricValue resolves a target-metric name against a live snapshot.
func metricValue(m *telemetry.Metrics, name string) (float64, bool) {
	switch name {
	case "errorRate":
		return m.ErrorRate, true
	case "timeoutRate":
		return m.TimeoutRate, true
	case "successRate":
		return m.SuccessRate, true
	case "qualityScore":
		return m.QualityScore, true
	case "currentQuality":
		return m.CurrentQuality, true
	case "collaborationFailureRate":
		return m.CollaborationFailureRate, true
	case "collaborationSuccessRate":
		return m.CollaborationSuccessRate, true
	case "resourceUsage.cpu":
		return m.ResourceUsage.CPU, true
	case "resourceUsage.memory":
		return m.ResourceUsage.Memory, true
	case "resourceUsage.network":
		return m.ResourceUsage.Network, true
	}
	return 0, false
}

// CheckForRecovery lifts the agent's penalty when every improvement
// target is met by live metrics. Partial improvement changes nothing: no
// partial credit. Calling this for an unsanctioned agent is a no-op.
func (e *Engine) CheckForRecovery(ctx context.Context, agentID string) (bool, error) {
	// Cheap existence probe before paying for a metrics fetch.
	existing, err := e.penalties.GetByAgent(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load penalty for %s: %w", agentID, err)
	}
	if existing == nil {
		return false, nil
	}

	// An agent in mandatory remediation recovers through graduation, not
	// through the metric targets.
	if e.remediation.Progress(agentID) != nil {
		e.logger.Debug("recovery blocked by active remediation", "agent_id", agentID)
		return false, nil
	}

	m, err := e.fetchMetrics(ctx, agentID)
	if err != nil {
		return false, err
	}

	unlock := e.lockAgent(agentID)

	p, err := e.penalties.GetByAgent(ctx, agentID)
	if err != nil {
		unlock()
		return false, fmt.Errorf("load penalty for %s: %w", agentID, err)
	}
	if p == nil {
		// Lifted while we were fetching metrics.
		unlock()
		return false, nil
	}

	for name, target := range p.Plan.TargetMetrics {
		value, ok := metricValue(m, name)
		if !ok {
			unlock()
			return false, fmt.Errorf("unknown target metric %q on penalty %s", name, p.ID)
		}
		met := value <= target
		if higherIsBetter(name) {
			met = value >= target
		}
		if !met {
			unlock()
			e.logger.Debug("recovery target not met",
				"agent_id", agentID, "metric", name, "value", value, "target", target)
			return false, nil
		}
	}

	if err := e.penalties.Delete(ctx, agentID); err != nil {
		unlock()
		return false, fmt.Errorf("delete penalty for %s: %w", agentID, err)
	}
	if err := e.throttles.Reset(ctx, agentID); err != nil {
		e.logger.Warn("throttle reset failed", "agent_id", agentID, "error", err)
	}
	unlock()

	e.logger.Info("agent recovered", "agent_id", agentID, "penalty_id", p.ID)
	e.recorder.RecoveryCompleted(ctx)
	e.auditRecord(ctx, AuditEntry{AgentID: agentID, Action: "recovery_completed", PenaltyID: p.ID})
	e.publish(ctx, "penalty.recovered", p)
	e.emitter.Emit(Event{Type: EventRecoveryCompleted, AgentID: agentID, Payload: p})
	return true, nil
}

// FileAppeal contests an active penalty. The caller is assumed to be
// authorized; validation here is purely about lifecycle state.
func (e *Engine) FileAppeal(ctx context.Context, penaltyID, agentID string, grounds Grounds) (string, error) {
	unlock := e.lockAgent(agentID)

	p, err := e.penalties.GetByID(ctx, penaltyID)
	if err != nil {
		unlock()
		return "", fmt.Errorf("load penalty %s: %w", penaltyID, err)
	}
	if p == nil || p.AgentID != agentID {
		unlock()
		return "", fmt.Errorf("penalty %s for agent %s: %w", penaltyID, agentID, ErrNotFound)
	}
	if p.AppealStatus == AppealPending {
		unlock()
		return "", fmt.Errorf("penalty %s already has a pending appeal: %w", penaltyID, ErrInvalidTransition)
	}

	a := &Appeal{
		ID:        uuid.New().String(),
		PenaltyID: penaltyID,
		AgentID:   agentID,
		Grounds:   grounds,
		Status:    "pending",
		CreatedAt: e.clock.Now(),
	}
	if err := e.appeals.PutAppeal(ctx, a); err != nil {
		unlock()
		return "", fmt.Errorf("persist appeal: %w", err)
	}
	p.AppealStatus = AppealPending
	if err := e.penalties.Put(ctx, p); err != nil {
		unlock()
		return "", fmt.Errorf("mark penalty appealed: %w", err)
	}
	unlock()

	e.statsMu.Lock()
	e.appealsTotal++
	e.statsMu.Unlock()

	e.logger.Info("appeal filed", "agent_id", agentID, "penalty_id", penaltyID, "appeal_id", a.ID, "grounds", grounds.Type)
	e.recorder.AppealFiled(ctx)
	e.auditRecord(ctx, AuditEntry{AgentID: agentID, Action: "appeal_filed", PenaltyID: penaltyID, Detail: grounds})
	e.publish(ctx, "appeal.filed", a)
	e.emitter.Emit(Event{Type: EventAppealFiled, AgentID: agentID, Payload: a})
	return a.ID, nil
}

// ReviewAppeal resolves a pending appeal. Approval reverses the penalty
// as if it never happened; denial leaves it active with a terminal
// appeal status. An appeal is resolved exactly once.
func (e *Engine) ReviewAppeal(ctx context.Context, appealID, reviewerID, decision string, comments []string) error {
	if decision != "approved" && decision != "denied" {
		return fmt.Errorf("decision must be approved or denied, got %q", decision)
	}

	a, err := e.appeals.GetAppeal(ctx, appealID)
	if err != nil {
		return fmt.Errorf("load appeal %s: %w", appealID, err)
	}
	if a == nil {
		return fmt.Errorf("appeal %s: %w", appealID, ErrNotFound)
	}
	if a.Status != "pending" {
		return fmt.Errorf("appeal %s already %s: %w", appealID, a.Status, ErrInvalidTransition)
	}

	unlock := e.lockAgent(a.AgentID)

	// Re-read under the lock; a concurrent review may have resolved it.
	a, err = e.appeals.GetAppeal(ctx, appealID)
	if err != nil {
		unlock()
		return fmt.Errorf("load appeal %s: %w", appealID, err)
	}
	if a == nil || a.Status != "pending" {
		unlock()
		return fmt.Errorf("appeal %s: %w", appealID, ErrInvalidTransition)
	}

	a.Status = decision
	a.Review = &Review{
		ReviewerID: reviewerID,
		Decision:   decision,
		Comments:   comments,
		ReviewedAt: e.clock.Now(),
	}
	if err := e.appeals.PutAppeal(ctx, a); err != nil {
		unlock()
		return fmt.Errorf("persist appeal resolution: %w", err)
	}

	p, err := e.penalties.GetByID(ctx, a.PenaltyID)
	if err != nil {
		unlock()
		return fmt.Errorf("load penalty %s: %w", a.PenaltyID, err)
	}

	if decision == "approved" {
		if p != nil {
			if err := e.penalties.Delete(ctx, p.AgentID); err != nil {
				unlock()
				return fmt.Errorf("reverse penalty %s: %w", p.ID, err)
			}
			if err := e.throttles.Reset(ctx, p.AgentID); err != nil {
				e.logger.Warn("throttle reset failed", "agent_id", p.AgentID, "error", err)
			}
			e.remediation.Abandon(p.AgentID)
		}
	} else if p != nil {
		p.AppealStatus = AppealDenied
		if err := e.penalties.Put(ctx, p); err != nil {
			unlock()
			return fmt.Errorf("mark penalty appeal denied: %w", err)
		}
	}
	unlock()

	if decision == "approved" {
		e.statsMu.Lock()
		e.appealsApproved++
		e.statsMu.Unlock()
	}

	e.logger.Info("appeal resolved",
		"appeal_id", appealID, "agent_id", a.AgentID, "decision", decision, "reviewer", reviewerID)
	e.recorder.AppealResolved(ctx, decision)
	e.auditRecord(ctx, AuditEntry{AgentID: a.AgentID, Action: "appeal_resolved", PenaltyID: a.PenaltyID, Detail: decision})
	e.publish(ctx, "appeal.resolved", a)
	e.emitter.Emit(Event{Type: EventAppealResolved, AgentID: a.AgentID, Payload: a})
	return nil
}

// RecordRemediationScore reports a stage assessment for an agent in
// retraining. Graduation re-opens the normal recovery path and notifies
// observers.
func (e *Engine) RecordRemediationScore(ctx context.Context, agentID string, score float64) (bool, error) {
	graduated, err := e.remediation.RecordStageScore(agentID, score)
	if err != nil {
		return false, err
	}
	if !graduated {
		return false, nil
	}

	e.logger.Info("remediation graduated", "agent_id", agentID)
	e.recorder.Graduation(ctx)
	e.auditRecord(ctx, AuditEntry{AgentID: agentID, Action: "remediation_graduated"})
	e.publish(ctx, "remediation.graduated", map[string]string{"agent_id": agentID})
	e.emitter.Emit(Event{Type: EventRemediationGraduated, AgentID: agentID})
	return true, nil
}

// AllowAction is the hot-path admission check. Unsanctioned agents pass
// without consuming; sanctioned agents spend against their throttle.
func (e *Engine) AllowAction(ctx context.Context, agentID string, cost int) (bool, error) {
	p, err := e.penalties.GetByAgent(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load penalty for %s: %w", agentID, err)
	}
	if p == nil {
		return true, nil
	}

	allowed, err := e.throttles.Allow(ctx, agentID, e.throttlePolicy(), cost)
	if err != nil {
		return false, fmt.Errorf("throttle check for %s: %w", agentID, err)
	}
	if !allowed {
		e.recorder.ThrottleDenied(ctx, agentID)
	}
	return allowed, nil
}

// Dashboard aggregates current governance state. It reads point-in-time
// snapshots and never blocks lifecycle writers.
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	penalties, err := e.penalties.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	appeals, err := e.appeals.ListAppeals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}

	d := &Dashboard{
		TotalPenalties: len(penalties),
		ByLevel:        make(map[int]int, 6),
		TotalAppeals:   len(appeals),
		Retraining:     e.remediation.Stats(),
	}
	for level := 1; level <= 6; level++ {
		d.ByLevel[level] = 0
	}
	for _, p := range penalties {
		d.ByLevel[p.Level]++
		if p.Level >= e.cfg.RemediationLevel {
			d.Probation++
		}
	}
	for _, a := range appeals {
		if a.Status == "pending" {
			d.PendingAppeals++
		}
	}

	e.statsMu.Lock()
	applied, filed, approved := e.appliedTotal, e.appealsTotal, e.appealsApproved
	e.statsMu.Unlock()
	d.Fairness = e.eval.FairnessMetrics(applied, filed, approved)

	return d, nil
}

// publish sends a lifecycle event to the external bus. Best-effort: a
// failure is reported, never rolled back into penalty state.
func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	if _, err := e.publisher.Publish(ctx, PenaltyTopic, eventType, payload); err != nil {
		e.logger.Warn("bus publish failed", "event_type", eventType,
			"error", &CollaboratorError{Collaborator: "bus", Err: err})
	}
}

func (e *Engine) auditRecord(ctx context.Context, entry AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Warn("audit record failed", "action", entry.Action, "error", err)
	}
}

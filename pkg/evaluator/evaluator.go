// Package evaluator converts raw agent telemetry plus situational context
// into policy-violation triggers and anomaly assessments. It holds no
// state beyond its configuration and a rolling quality history used for
// variance checks.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/aegis-foundation/aegis/pkg/config"
	"github.com/aegis-foundation/aegis/pkg/telemetry"
)

// TriggerType tags the policy rule a trigger came from.
type TriggerType string

const (
	TriggerErrorRate            TriggerType = "error_rate"
	TriggerTimeoutFrequency     TriggerType = "timeout_frequency"
	TriggerQualityDrop          TriggerType = "quality_drop"
	TriggerCollaborationFailure TriggerType = "collaboration_failure"
	TriggerResourceAbuse        TriggerType = "resource_abuse"
	TriggerCustomRule           TriggerType = "custom_rule"
)

// Trigger is a detected policy violation. Transient; never persisted on
// its own.
type Trigger struct {
	Type      TriggerType `json:"type"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Severity  int         `json:"severity"` // 1..6
}

// AgentState is the historical baseline view of an agent.
type AgentState struct {
	BaselineQuality float64 `json:"baseline_quality"`
	SuccessRate     float64 `json:"success_rate"`
	TaskCount       int     `json:"task_count"`
}

// Context is the situational adjustment input to trigger evaluation and
// anomaly detection: penalties are never applied from raw numbers alone.
type Context struct {
	AgentID        string                     `json:"agent_id"`
	TaskDifficulty float64                    `json:"task_difficulty"` // 0 trivial .. 1 extreme
	System         telemetry.SystemConditions `json:"system"`
	Agent          AgentState                 `json:"agent"`
}

// AnomalyReport flags penalties that warrant human review.
type AnomalyReport struct {
	Anomalies           []string `json:"anomalies"`
	AnomalyScore        float64  `json:"anomaly_score"`
	AutoReviewTriggered bool     `json:"auto_review_triggered"`
}

// FairnessReport aggregates the health of the governance process itself.
type FairnessReport struct {
	FalsePositiveRate float64 `json:"false_positive_rate"`
	AppealSuccessRate float64 `json:"appeal_success_rate"`
	FairnessScore     float64 `json:"fairness_score"`
}

const qualityHistorySize = 20

// Evaluator derives triggers and anomaly scores from metrics.
type Evaluator struct {
	cfg    *config.Config
	probe  telemetry.SystemProbe
	rules  *RuleSet // optional operator-defined CEL rules
	logger *slog.Logger

	mu      sync.Mutex
	quality map[string][]float64 // rolling per-agent quality samples
}

// New creates an evaluator. A nil probe defaults to nominal conditions.
func New(cfg *config.Config, probe telemetry.SystemProbe) *Evaluator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if probe == nil {
		probe = telemetry.NominalProbe{}
	}
	return &Evaluator{
		cfg:     cfg,
		probe:   probe,
		logger:  slog.Default().With("component", "evaluator"),
		quality: make(map[string][]float64),
	}
}

// SetRules installs operator-defined CEL trigger rules.
func (e *Evaluator) SetRules(rules *RuleSet) {
	e.rules = rules
}

// AnalyzeContext derives the three situational views for an agent: task
// difficulty, system conditions, and the agent's historical baseline. It
// also records the current quality sample for later variance checks.
func (e *Evaluator) AnalyzeContext(ctx context.Context, agentID string, m *telemetry.Metrics) (*Context, error) {
	cond, err := e.probe.Conditions(ctx)
	if err != nil {
		return nil, fmt.Errorf("system probe failed: %w", err)
	}

	e.recordQuality(agentID, m)

	return &Context{
		AgentID:        agentID,
		TaskDifficulty: taskDifficulty(m),
		System:         cond,
		Agent: AgentState{
			BaselineQuality: m.BaselineQuality,
			SuccessRate:     m.SuccessRate,
			TaskCount:       m.TaskCount,
		},
	}, nil
}

// taskDifficulty scores recent workload hardness from response time and
// volume. 500ms average and 200 tasks each saturate their half.
func taskDifficulty(m *telemetry.Metrics) float64 {
	rt := math.Min(m.AvgResponseTime/500.0, 1.0)
	load := math.Min(float64(m.TaskCount)/200.0, 1.0)
	return 0.5*rt + 0.5*load
}

// recordQuality keeps a ring of baseline-era samples. Samples already
// past the tolerated drop stay out: a sustained degradation must never
// become its own normal variance.
func (e *Evaluator) recordQuality(agentID string, m *telemetry.Metrics) {
	if m.BaselineQuality > 0 {
		if drop := (m.BaselineQuality - m.CurrentQuality) / m.BaselineQuality; drop > e.cfg.QualityDropFraction {
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.quality[agentID], m.CurrentQuality)
	if len(h) > qualityHistorySize {
		h = h[len(h)-qualityHistorySize:]
	}
	e.quality[agentID] = h
}

func (e *Evaluator) qualityHistory(agentID string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.quality[agentID]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// EvaluateTriggers compares metrics against the configured thresholds and
// returns the fired triggers. Agents with fewer than MinSampleCount tasks
// are never triggered, no matter how extreme the other metrics look.
func (e *Evaluator) EvaluateTriggers(m *telemetry.Metrics, c *Context) []Trigger {
	if m.TaskCount < e.cfg.MinSampleCount {
		return []Trigger{}
	}

	var triggers []Trigger

	if m.ErrorRate > e.cfg.ErrorRateThreshold {
		triggers = append(triggers, e.trigger(TriggerErrorRate, m.ErrorRate, e.cfg.ErrorRateThreshold))
	}
	if m.TimeoutRate > e.cfg.TimeoutFrequencyThreshold {
		triggers = append(triggers, e.trigger(TriggerTimeoutFrequency, m.TimeoutRate, e.cfg.TimeoutFrequencyThreshold))
	}
	if m.CollaborationFailureRate > e.cfg.CollaborationFailureThreshold {
		triggers = append(triggers, e.trigger(TriggerCollaborationFailure, m.CollaborationFailureRate, e.cfg.CollaborationFailureThreshold))
	}

	if t, ok := e.qualityDropTrigger(c.AgentID, m); ok {
		triggers = append(triggers, t)
	}
	if t, ok := e.resourceAbuseTrigger(m); ok {
		triggers = append(triggers, t)
	}

	if e.rules != nil {
		triggers = append(triggers, e.rules.Evaluate(m)...)
	}

	return triggers
}

// qualityDropTrigger fires when quality fell more than the configured
// fraction below baseline. When enough history exists, a drop that is
// within normal variance (not a z-score outlier) is forgiven.
func (e *Evaluator) qualityDropTrigger(agentID string, m *telemetry.Metrics) (Trigger, bool) {
	if m.BaselineQuality <= 0 {
		return Trigger{}, false
	}
	drop := (m.BaselineQuality - m.CurrentQuality) / m.BaselineQuality
	if drop <= e.cfg.QualityDropFraction {
		return Trigger{}, false
	}

	// Forgive only transient dips that sit within the spread of the
	// agent's baseline-era history. The history holds no degraded
	// samples, and a flat history (zero spread) forgives nothing.
	history := e.qualityHistory(agentID)
	if len(history) >= e.cfg.MinSampleCount && StdDev(history) > 0 &&
		!IsOutlier(m.CurrentQuality, history, e.cfg.OutlierZThreshold) {
		e.logger.Debug("quality drop within normal variance, not triggering",
			"agent_id", agentID, "drop", drop)
		return Trigger{}, false
	}

	return e.trigger(TriggerQualityDrop, drop, e.cfg.QualityDropFraction), true
}

// resourceAbuseTrigger fires when any resource dimension exceeds the
// over-allocation ceiling. The worst dimension sets the trigger value.
func (e *Evaluator) resourceAbuseTrigger(m *telemetry.Metrics) (Trigger, bool) {
	worst := math.Max(m.ResourceUsage.CPU, math.Max(m.ResourceUsage.Memory, m.ResourceUsage.Network))
	if worst <= e.cfg.ResourceAbuseCeiling {
		return Trigger{}, false
	}
	return e.trigger(TriggerResourceAbuse, worst, e.cfg.ResourceAbuseCeiling), true
}

// trigger builds a Trigger whose severity grows with how far the value
// exceeds the threshold: one step per 25% of exceedance, capped at 6.
func (e *Evaluator) trigger(tt TriggerType, value, threshold float64) Trigger {
	return Trigger{
		Type:      tt,
		Value:     value,
		Threshold: threshold,
		Severity:  severityFor(value, threshold),
	}
}

func severityFor(value, threshold float64) int {
	if threshold <= 0 {
		return 1
	}
	exceedance := value/threshold - 1.0
	sev := 1 + int(exceedance/0.25)
	if sev < 1 {
		sev = 1
	}
	if sev > 6 {
		sev = 6
	}
	return sev
}

// DetectAnomalies flags an applied penalty for mandatory human review
// when confounding external factors coincide with top-tier severity.
func (e *Evaluator) DetectAnomalies(level int, triggers []Trigger, c *Context) *AnomalyReport {
	report := &AnomalyReport{Anomalies: []string{}}

	if c.System.Degraded() {
		report.Anomalies = append(report.Anomalies, "system_degraded_during_evaluation")
		report.AnomalyScore += 0.4
	}
	if c.TaskDifficulty > 0.7 {
		report.Anomalies = append(report.Anomalies, "elevated_task_difficulty")
		report.AnomalyScore += 0.2
	}
	if len(triggers) == 1 && level >= e.cfg.RemediationLevel {
		// A single trigger driving a top-tier penalty is itself suspicious.
		report.Anomalies = append(report.Anomalies, "single_trigger_high_severity")
		report.AnomalyScore += 0.2
	}
	if report.AnomalyScore > 1.0 {
		report.AnomalyScore = 1.0
	}

	report.AutoReviewTriggered = level >= e.cfg.RemediationLevel && c.System.Degraded()
	return report
}

// ValidateMinimumResources clamps each dimension of a proposed allocation
// up to the configured floor. No penalty may starve an agent to zero.
func (e *Evaluator) ValidateMinimumResources(alloc telemetry.ResourceUsage) telemetry.ResourceUsage {
	floor := e.cfg.MinResourceAllocation
	if alloc.CPU < floor {
		alloc.CPU = floor
	}
	if alloc.Memory < floor {
		alloc.Memory = floor
	}
	if alloc.Network < floor {
		alloc.Network = floor
	}
	return alloc
}

// FairnessMetrics scores the governance process: a healthy fleet contests
// few penalties and overturns even fewer.
func (e *Evaluator) FairnessMetrics(penaltyCount, appealCount, approvedCount int) FairnessReport {
	var report FairnessReport
	if penaltyCount > 0 {
		report.FalsePositiveRate = float64(approvedCount) / float64(penaltyCount)
	}
	if appealCount > 0 {
		report.AppealSuccessRate = float64(approvedCount) / float64(appealCount)
	}

	appealRate := 0.0
	if penaltyCount > 0 {
		appealRate = float64(appealCount) / float64(penaltyCount)
		if appealRate > 1 {
			appealRate = 1
		}
	}
	score := 1.0 - 0.5*appealRate - 0.5*report.AppealSuccessRate
	if score < 0 {
		score = 0
	}
	report.FairnessScore = score
	return report
}

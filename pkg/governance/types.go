package governance

import (
	"time"

	"github.com/aegis-foundation/aegis/pkg/evaluator"
	"github.com/aegis-foundation/aegis/pkg/remediation"
	"github.com/aegis-foundation/aegis/pkg/telemetry"
)

// AppealStatus tracks an active penalty's contest state.
type AppealStatus string

const (
	AppealNone     AppealStatus = "none"
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// PenaltyName returns the symbolic sanction label for a level.
func PenaltyName(level int) string {
	switch level {
	case 1:
		return "warning"
	case 2:
		return "compute reduction"
	case 3:
		return "task throttling"
	case 4:
		return "priority demotion"
	case 5:
		return "probation"
	case 6:
		return "suspension"
	default:
		return "unknown"
	}
}

// ImprovementPlan names the metric targets the agent must beat to
// recover. Each target is strictly better than the threshold that fired.
type ImprovementPlan struct {
	TargetMetrics map[string]float64 `json:"target_metrics"`
}

// Penalty is the active sanction record for an agent. An agent holds at
// most one; deleting it is the only way to lift a sanction.
type Penalty struct {
	ID             string              `json:"id"`
	AgentID        string              `json:"agent_id"`
	Level          int                 `json:"level"` // 1..6
	Name           string              `json:"name"`
	TriggeredBy    []evaluator.Trigger `json:"triggered_by"`
	MetricsAtStart *telemetry.Metrics  `json:"metrics_at_start"`
	Plan           ImprovementPlan     `json:"improvement_plan"`
	AppealStatus   AppealStatus        `json:"appeal_status"`
	CreatedAt      time.Time           `json:"created_at"`
}

// TriggerTypes lists the trigger-type tags that caused the penalty, in
// firing order.
func (p *Penalty) TriggerTypes() []string {
	out := make([]string, len(p.TriggeredBy))
	for i, t := range p.TriggeredBy {
		out[i] = string(t.Type)
	}
	return out
}

// MaxSeverity returns the worst severity among the firing triggers.
func (p *Penalty) MaxSeverity() int {
	max := 1
	for _, t := range p.TriggeredBy {
		if t.Severity > max {
			max = t.Severity
		}
	}
	return max
}

// Grounds is the reason an appeal is filed.
type Grounds struct {
	Type        string `json:"type"` // e.g. "external_factors", "data_error"
	Explanation string `json:"explanation"`
	Evidence    string `json:"evidence,omitempty"`
}

// Review is the resolution a reviewer attaches to an appeal.
type Review struct {
	ReviewerID string    `json:"reviewer_id"`
	Decision   string    `json:"decision"` // "approved" | "denied"
	Comments   []string  `json:"comments,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Appeal contests a penalty. Terminal once reviewed.
type Appeal struct {
	ID        string    `json:"id"`
	PenaltyID string    `json:"penalty_id"`
	AgentID   string    `json:"agent_id"`
	Grounds   Grounds   `json:"grounds"`
	Status    string    `json:"status"` // "pending" | "approved" | "denied"
	Review    *Review   `json:"review,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Dashboard is a point-in-time aggregate of governance state. Reads do
// not block writers; eventual consistency is acceptable here.
type Dashboard struct {
	TotalPenalties int                      `json:"total_penalties"`
	ByLevel        map[int]int              `json:"by_level"`
	PendingAppeals int                      `json:"pending_appeals"`
	TotalAppeals   int                      `json:"total_appeals"`
	Probation      int                      `json:"probation"` // penalties at or above the remediation level
	Retraining     remediation.Statistics   `json:"retraining"`
	Fairness       evaluator.FairnessReport `json:"fairness"`
}

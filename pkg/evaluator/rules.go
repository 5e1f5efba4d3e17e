package evaluator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/aegis-foundation/aegis/pkg/telemetry"
)

// Rule is an operator-defined trigger expressed in CEL over the metrics
// snapshot, e.g. `metrics.success_rate < 0.5 && metrics.task_count > 100`.
type Rule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Severity   int    `yaml:"severity" json:"severity"` // 1..6
}

// RuleSet compiles and caches CEL programs for custom trigger rules.
type RuleSet struct {
	env    *cel.Env
	logger *slog.Logger

	mu       sync.RWMutex
	rules    []Rule
	programs map[string]cel.Program
}

// NewRuleSet creates an empty rule set with a standard environment.
func NewRuleSet() (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &RuleSet{
		env:      env,
		logger:   slog.Default().With("component", "evaluator.rules"),
		programs: make(map[string]cel.Program),
	}, nil
}

// Add compiles and registers a rule. Compilation failures are rejected up
// front so a bad expression can never reach the evaluation path.
func (rs *RuleSet) Add(rule Rule) error {
	if rule.Severity < 1 || rule.Severity > 6 {
		return fmt.Errorf("rule %q: severity must be in 1..6, got %d", rule.Name, rule.Severity)
	}

	ast, issues := rs.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("rule %q: compile failed: %w", rule.Name, issues.Err())
	}
	prg, err := rs.env.Program(ast)
	if err != nil {
		return fmt.Errorf("rule %q: program failed: %w", rule.Name, err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append(rs.rules, rule)
	rs.programs[rule.Name] = prg
	return nil
}

// Evaluate runs every rule against the metrics snapshot and returns a
// custom_rule trigger per fired rule. A rule that errors at runtime is
// skipped: an evaluation fault must never penalize an agent.
func (rs *RuleSet) Evaluate(m *telemetry.Metrics) []Trigger {
	input := map[string]any{
		"metrics": map[string]any{
			"error_rate":                 m.ErrorRate,
			"timeout_rate":               m.TimeoutRate,
			"success_rate":               m.SuccessRate,
			"quality_score":              m.QualityScore,
			"baseline_quality":           m.BaselineQuality,
			"current_quality":            m.CurrentQuality,
			"collaboration_success_rate": m.CollaborationSuccessRate,
			"collaboration_failure_rate": m.CollaborationFailureRate,
			"task_count":                 m.TaskCount,
			"avg_response_time":          m.AvgResponseTime,
			"cpu":                        m.ResourceUsage.CPU,
			"memory":                     m.ResourceUsage.Memory,
			"network":                    m.ResourceUsage.Network,
		},
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var triggers []Trigger
	for _, rule := range rs.rules {
		prg := rs.programs[rule.Name]
		out, _, err := prg.Eval(input)
		if err != nil {
			rs.logger.Warn("custom rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		fired, ok := out.Value().(bool)
		if !ok || !fired {
			continue
		}
		triggers = append(triggers, Trigger{
			Type:     TriggerCustomRule,
			Value:    1,
			Severity: rule.Severity,
		})
	}
	return triggers
}

// Len returns the number of registered rules.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

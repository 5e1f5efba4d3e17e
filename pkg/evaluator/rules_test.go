package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-foundation/aegis/pkg/config"
	"github.com/aegis-foundation/aegis/pkg/telemetry"
)

func TestRuleSet_AddAndEvaluate(t *testing.T) {
	rs, err := NewRuleSet()
	require.NoError(t, err)

	require.NoError(t, rs.Add(Rule{
		Name:       "slow_and_failing",
		Expression: `metrics.success_rate < 0.5 && metrics.avg_response_time > 300.0`,
		Severity:   4,
	}))
	require.NoError(t, rs.Add(Rule{
		Name:       "memory_hog",
		Expression: `metrics.memory > 1.2`,
		Severity:   2,
	}))
	assert.Equal(t, 2, rs.Len())

	m := &telemetry.Metrics{
		SuccessRate:     0.4,
		AvgResponseTime: 450,
		ResourceUsage:   telemetry.ResourceUsage{Memory: 1.0},
	}
	triggers := rs.Evaluate(m)
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerCustomRule, triggers[0].Type)
	assert.Equal(t, 4, triggers[0].Severity)
}

func TestRuleSet_RejectsBadRules(t *testing.T) {
	rs, err := NewRuleSet()
	require.NoError(t, err)

	assert.Error(t, rs.Add(Rule{Name: "broken", Expression: `metrics.>>>`, Severity: 1}))
	assert.Error(t, rs.Add(Rule{Name: "too-severe", Expression: `true`, Severity: 9}))
	assert.Equal(t, 0, rs.Len())
}

func TestEvaluator_CustomRulesFeedTriggers(t *testing.T) {
	rs, err := NewRuleSet()
	require.NoError(t, err)
	require.NoError(t, rs.Add(Rule{
		Name:       "hard_floor",
		Expression: `metrics.success_rate < 0.6`,
		Severity:   3,
	}))

	e := New(config.DefaultConfig(), nil)
	e.SetRules(rs)

	m := healthyMetrics()
	m.SuccessRate = 0.5
	c := testContext(t, e, "agent-1", m)

	triggers := e.EvaluateTriggers(m, c)
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerCustomRule, triggers[0].Type)
}

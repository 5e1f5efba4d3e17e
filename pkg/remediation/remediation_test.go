package remediation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-foundation/aegis/pkg/evaluator"
)

func TestStartRetraining_MapsDeficiencies(t *testing.T) {
	m := NewManager(0.85)

	triggers := []evaluator.Trigger{
		{Type: evaluator.TriggerErrorRate, Severity: 3},
		{Type: evaluator.TriggerQualityDrop, Severity: 2},
		{Type: evaluator.TriggerErrorRate, Severity: 4}, // duplicate type
	}
	id, err := m.StartRetraining("agent-1", triggers)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	p := m.Progress("agent-1")
	require.NotNil(t, p)
	assert.Equal(t, "Diagnosis", p.CurrentStage)
	assert.Equal(t, 0, p.StageIndex)
	assert.Equal(t, 4, p.TotalStages)
	assert.Equal(t, []string{"error_handling", "quality_assurance"}, p.Deficiencies)
}

func TestStartRetraining_DuplicateKeepsExisting(t *testing.T) {
	m := NewManager(0.85)

	first, err := m.StartRetraining("agent-1", []evaluator.Trigger{{Type: evaluator.TriggerTimeoutFrequency}})
	require.NoError(t, err)
	second, err := m.StartRetraining("agent-1", []evaluator.Trigger{{Type: evaluator.TriggerResourceAbuse}})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.ActiveCount())
	// Deficiencies stay the original session's.
	assert.Equal(t, []string{"responsiveness"}, m.Progress("agent-1").Deficiencies)
}

func TestProgress_NilWithoutSession(t *testing.T) {
	m := NewManager(0.85)
	assert.Nil(t, m.Progress("ghost"))
}

func TestRecordStageScore_AdvancesAndGraduates(t *testing.T) {
	m := NewManager(0.85)
	_, err := m.StartRetraining("agent-1", []evaluator.Trigger{{Type: evaluator.TriggerErrorRate}})
	require.NoError(t, err)

	// Failing the stage does not advance.
	grad, err := m.RecordStageScore("agent-1", 0.3)
	require.NoError(t, err)
	assert.False(t, grad)
	assert.Equal(t, "Diagnosis", m.Progress("agent-1").CurrentStage)
	assert.InDelta(t, 0.3, m.Progress("agent-1").Score, 1e-9)

	// A passing retry supersedes the failed attempt in the aggregate.
	grad, err = m.RecordStageScore("agent-1", 0.9)
	require.NoError(t, err)
	assert.False(t, grad)
	assert.InDelta(t, 0.9, m.Progress("agent-1").Score, 1e-9)

	for _, score := range []float64{0.9, 0.9} {
		grad, err = m.RecordStageScore("agent-1", score)
		require.NoError(t, err)
		assert.False(t, grad)
	}
	assert.Equal(t, "Final Assessment", m.Progress("agent-1").CurrentStage)

	// Final stage passed and aggregate above the floor: graduation.
	grad, err = m.RecordStageScore("agent-1", 0.95)
	require.NoError(t, err)
	assert.True(t, grad)
	assert.Nil(t, m.Progress("agent-1"))
	assert.Equal(t, 0, m.ActiveCount())
}

func TestRecordStageScore_AggregateBlocksGraduation(t *testing.T) {
	m := NewManager(0.85)
	_, err := m.StartRetraining("agent-1", []evaluator.Trigger{{Type: evaluator.TriggerQualityDrop}})
	require.NoError(t, err)

	// Scrape past each stage bar; aggregate stays below 0.85.
	for _, score := range []float64{0.55, 0.70, 0.80} {
		_, err = m.RecordStageScore("agent-1", score)
		require.NoError(t, err)
	}
	grad, err := m.RecordStageScore("agent-1", 0.86)
	require.NoError(t, err)
	assert.False(t, grad)

	// Session stays live at the final stage until the aggregate clears.
	p := m.Progress("agent-1")
	require.NotNil(t, p)
	assert.Equal(t, "Final Assessment", p.CurrentStage)
	assert.Less(t, p.Score, 0.85)
}

func TestRecordStageScore_NoSession(t *testing.T) {
	m := NewManager(0.85)
	_, err := m.RecordStageScore("ghost", 1.0)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAbandonAndStats(t *testing.T) {
	m := NewManager(0.85)

	_, err := m.StartRetraining("a", []evaluator.Trigger{{Type: evaluator.TriggerErrorRate}})
	require.NoError(t, err)
	_, err = m.StartRetraining("b", []evaluator.Trigger{{Type: evaluator.TriggerErrorRate}})
	require.NoError(t, err)

	// Graduate a.
	for _, score := range []float64{0.9, 0.9, 0.9, 0.95} {
		_, err = m.RecordStageScore("a", score)
		require.NoError(t, err)
	}
	// Abandon b (penalty reversed).
	m.Abandon("b")
	m.Abandon("b") // idempotent

	stats := m.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Graduated)
	assert.Equal(t, 1, stats.Abandoned)
	assert.InDelta(t, 0.5, stats.GraduationRate, 1e-9)
}

func TestCurriculum_MasteryIncreases(t *testing.T) {
	stages := Curriculum()
	require.Len(t, stages, 4)
	assert.Equal(t, "Diagnosis", stages[0].Name)
	for i := 1; i < len(stages); i++ {
		assert.Greater(t, stages[i].MinScore, stages[i-1].MinScore)
	}
}

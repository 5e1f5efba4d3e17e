// Package remediation runs the curriculum-based recovery program for
// agents under severe penalty. The curriculum orchestrates staged
// checkpoints only; it performs no model updates.
package remediation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-foundation/aegis/pkg/evaluator"
)

// ErrNoSession is returned when an agent has no live retraining session.
var ErrNoSession = errors.New("remediation: no active session")

// Stage is one checkpoint of the curriculum.
type Stage struct {
	Name     string  `json:"name"`
	MinScore float64 `json:"min_score"`
}

// Curriculum returns the fixed four-stage program, ordered by increasing
// mastery requirements.
func Curriculum() []Stage {
	return []Stage{
		{Name: "Diagnosis", MinScore: 0.50},
		{Name: "Targeted Practice", MinScore: 0.65},
		{Name: "Supervised Tasks", MinScore: 0.75},
		{Name: "Final Assessment", MinScore: 0.85},
	}
}

// Session is one agent's passage through the curriculum.
type Session struct {
	SessionID         string    `json:"session_id"`
	AgentID           string    `json:"agent_id"`
	Deficiencies      []string  `json:"deficiencies"`
	CurrentStageIndex int       `json:"current_stage_index"`
	Stages            []Stage   `json:"stages"`
	Scores            []float64 `json:"scores"`       // every attempt, in order
	StageScores       []float64 `json:"stage_scores"` // latest attempt per stage
	Score             float64   `json:"score"`        // mean of StageScores over attempted stages
	Graduated         bool      `json:"graduated"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
}

// Progress is the read-only view reported to the controller.
type Progress struct {
	SessionID    string   `json:"session_id"`
	CurrentStage string   `json:"current_stage"`
	StageIndex   int      `json:"stage_index"`
	TotalStages  int      `json:"total_stages"`
	Score        float64  `json:"score"`
	Deficiencies []string `json:"deficiencies"`
	Graduated    bool     `json:"graduated"`
}

// Statistics is the fleet-wide view for dashboards.
type Statistics struct {
	Active         int     `json:"active"`
	Graduated      int     `json:"graduated"`
	Abandoned      int     `json:"abandoned"`
	GraduationRate float64 `json:"graduation_rate"`
}

// deficiencyFor maps a trigger type to the named deficiency the
// curriculum addresses.
func deficiencyFor(tt evaluator.TriggerType) string {
	switch tt {
	case evaluator.TriggerErrorRate:
		return "error_handling"
	case evaluator.TriggerQualityDrop:
		return "quality_assurance"
	case evaluator.TriggerCollaborationFailure:
		return "collaboration"
	case evaluator.TriggerResourceAbuse:
		return "resource_discipline"
	case evaluator.TriggerTimeoutFrequency:
		return "responsiveness"
	default:
		return "general_performance"
	}
}

// Manager owns retraining sessions, at most one live per agent.
type Manager struct {
	minGraduationScore float64
	logger             *slog.Logger

	mu        sync.RWMutex
	active    map[string]*Session // keyed by agentID
	graduated int
	abandoned int
}

// NewManager creates a manager with the given graduation score floor.
func NewManager(minGraduationScore float64) *Manager {
	return &Manager{
		minGraduationScore: minGraduationScore,
		logger:             slog.Default().With("component", "remediation"),
		active:             make(map[string]*Session),
	}
}

// StartRetraining opens a session at the Diagnosis stage for the
// deficiencies named by the triggers. If the agent is already in
// remediation the existing session is kept and its ID returned: exactly
// one live session per agent, always.
func (m *Manager) StartRetraining(agentID string, triggers []evaluator.Trigger) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("remediation: empty agent id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[agentID]; ok {
		m.logger.Info("agent already in remediation, keeping existing session",
			"agent_id", agentID, "session_id", existing.SessionID)
		return existing.SessionID, nil
	}

	seen := make(map[string]bool)
	var deficiencies []string
	for _, t := range triggers {
		d := deficiencyFor(t.Type)
		if !seen[d] {
			seen[d] = true
			deficiencies = append(deficiencies, d)
		}
	}

	stages := Curriculum()
	s := &Session{
		SessionID:    uuid.New().String(),
		AgentID:      agentID,
		Deficiencies: deficiencies,
		Stages:       stages,
		StageScores:  make([]float64, len(stages)),
		StartedAt:    time.Now().UTC(),
	}
	m.active[agentID] = s

	m.logger.Info("retraining started",
		"agent_id", agentID, "session_id", s.SessionID, "deficiencies", deficiencies)
	return s.SessionID, nil
}

// RecordStageScore records an assessment for the agent's current stage
// and advances the session when the stage's bar is met. It returns true
// when the session graduates: final stage passed with an aggregate score
// at or above the graduation floor.
func (m *Manager) RecordStageScore(agentID string, score float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[agentID]
	if !ok {
		return false, ErrNoSession
	}

	s.Scores = append(s.Scores, score)
	s.StageScores[s.CurrentStageIndex] = score

	// The aggregate counts the latest attempt per stage, so a failed
	// attempt weighs on the score only until the stage is retried.
	attempted := s.CurrentStageIndex + 1
	sum := 0.0
	for _, v := range s.StageScores[:attempted] {
		sum += v
	}
	s.Score = sum / float64(attempted)

	stage := s.Stages[s.CurrentStageIndex]
	if score < stage.MinScore {
		m.logger.Info("stage not passed",
			"agent_id", agentID, "stage", stage.Name, "score", score, "required", stage.MinScore)
		return false, nil
	}

	if s.CurrentStageIndex < len(s.Stages)-1 {
		s.CurrentStageIndex++
		return false, nil
	}

	// Final stage passed; graduation additionally requires the aggregate.
	if s.Score < m.minGraduationScore {
		m.logger.Info("final stage passed but aggregate below graduation floor",
			"agent_id", agentID, "score", s.Score, "required", m.minGraduationScore)
		return false, nil
	}

	s.Graduated = true
	s.CompletedAt = time.Now().UTC()
	delete(m.active, agentID)
	m.graduated++

	m.logger.Info("agent graduated remediation",
		"agent_id", agentID, "session_id", s.SessionID, "score", s.Score)
	return true, nil
}

// Abandon closes the agent's session without graduation. Used when the
// underlying penalty is reversed on appeal.
func (m *Manager) Abandon(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[agentID]; ok {
		delete(m.active, agentID)
		m.abandoned++
	}
}

// Progress returns the agent's session view, or nil when no live session
// exists.
func (m *Manager) Progress(agentID string) *Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.active[agentID]
	if !ok {
		return nil
	}
	return &Progress{
		SessionID:    s.SessionID,
		CurrentStage: s.Stages[s.CurrentStageIndex].Name,
		StageIndex:   s.CurrentStageIndex,
		TotalStages:  len(s.Stages),
		Score:        s.Score,
		Deficiencies: append([]string(nil), s.Deficiencies...),
		Graduated:    s.Graduated,
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Stats returns fleet-wide counts and the graduation rate among
// completed sessions.
func (m *Manager) Stats() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		Active:    len(m.active),
		Graduated: m.graduated,
		Abandoned: m.abandoned,
	}
	if done := m.graduated + m.abandoned; done > 0 {
		stats.GraduationRate = float64(m.graduated) / float64(done)
	}
	return stats
}

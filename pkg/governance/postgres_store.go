package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements PenaltyStore and AppealStore on PostgreSQL.
// Structured fields (triggers, metrics, plan, grounds, review) are stored
// as JSONB; the keys mirror the in-memory maps exactly.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const penaltyColumns = "id, agent_id, level, name, triggered_by, metrics_at_start, improvement_plan, appeal_status, created_at"

func (s *PostgresStore) GetByAgent(ctx context.Context, agentID string) (*Penalty, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+penaltyColumns+" FROM penalties WHERE agent_id = $1", agentID)
	return scanPenalty(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, penaltyID string) (*Penalty, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+penaltyColumns+" FROM penalties WHERE id = $1", penaltyID)
	return scanPenalty(row)
}

func scanPenalty(row *sql.Row) (*Penalty, error) {
	var p Penalty
	var triggeredBy, metricsAtStart, plan []byte
	err := row.Scan(&p.ID, &p.AgentID, &p.Level, &p.Name, &triggeredBy, &metricsAtStart, &plan, &p.AppealStatus, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found is valid, the engine treats absence as unsanctioned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get penalty: %w", err)
	}
	if err := json.Unmarshal(triggeredBy, &p.TriggeredBy); err != nil {
		return nil, fmt.Errorf("decode triggered_by: %w", err)
	}
	if err := json.Unmarshal(metricsAtStart, &p.MetricsAtStart); err != nil {
		return nil, fmt.Errorf("decode metrics_at_start: %w", err)
	}
	if err := json.Unmarshal(plan, &p.Plan); err != nil {
		return nil, fmt.Errorf("decode improvement_plan: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Put(ctx context.Context, p *Penalty) error {
	triggeredBy, err := json.Marshal(p.TriggeredBy)
	if err != nil {
		return fmt.Errorf("encode triggered_by: %w", err)
	}
	metricsAtStart, err := json.Marshal(p.MetricsAtStart)
	if err != nil {
		return fmt.Errorf("encode metrics_at_start: %w", err)
	}
	plan, err := json.Marshal(p.Plan)
	if err != nil {
		return fmt.Errorf("encode improvement_plan: %w", err)
	}

	// One active penalty per agent: upsert on agent_id replaces the prior
	// record entirely.
	query := `
		INSERT INTO penalties (id, agent_id, level, name, triggered_by, metrics_at_start, improvement_plan, appeal_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id) DO UPDATE SET
			id = EXCLUDED.id,
			level = EXCLUDED.level,
			name = EXCLUDED.name,
			triggered_by = EXCLUDED.triggered_by,
			metrics_at_start = EXCLUDED.metrics_at_start,
			improvement_plan = EXCLUDED.improvement_plan,
			appeal_status = EXCLUDED.appeal_status,
			created_at = EXCLUDED.created_at
	`
	_, err = s.db.ExecContext(ctx, query, p.ID, p.AgentID, p.Level, p.Name, triggeredBy, metricsAtStart, plan, p.AppealStatus, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist penalty: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, agentID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM penalties WHERE agent_id = $1", agentID); err != nil {
		return fmt.Errorf("failed to delete penalty: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Penalty, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+penaltyColumns+" FROM penalties")
	if err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Penalty
	for rows.Next() {
		var p Penalty
		var triggeredBy, metricsAtStart, plan []byte
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Level, &p.Name, &triggeredBy, &metricsAtStart, &plan, &p.AppealStatus, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		if err := json.Unmarshal(triggeredBy, &p.TriggeredBy); err != nil {
			return nil, fmt.Errorf("decode triggered_by: %w", err)
		}
		if err := json.Unmarshal(metricsAtStart, &p.MetricsAtStart); err != nil {
			return nil, fmt.Errorf("decode metrics_at_start: %w", err)
		}
		if err := json.Unmarshal(plan, &p.Plan); err != nil {
			return nil, fmt.Errorf("decode improvement_plan: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

const appealColumns = "id, penalty_id, agent_id, grounds, status, review, created_at"

func (s *PostgresStore) GetAppeal(ctx context.Context, appealID string) (*Appeal, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+appealColumns+" FROM appeals WHERE id = $1", appealID)

	var a Appeal
	var grounds, review []byte
	err := row.Scan(&a.ID, &a.PenaltyID, &a.AgentID, &grounds, &a.Status, &review, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appeal: %w", err)
	}
	if err := json.Unmarshal(grounds, &a.Grounds); err != nil {
		return nil, fmt.Errorf("decode grounds: %w", err)
	}
	if len(review) > 0 && string(review) != "null" {
		if err := json.Unmarshal(review, &a.Review); err != nil {
			return nil, fmt.Errorf("decode review: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) PutAppeal(ctx context.Context, a *Appeal) error {
	grounds, err := json.Marshal(a.Grounds)
	if err != nil {
		return fmt.Errorf("encode grounds: %w", err)
	}
	review, err := json.Marshal(a.Review)
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}

	query := `
		INSERT INTO appeals (id, penalty_id, agent_id, grounds, status, review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			review = EXCLUDED.review
	`
	_, err = s.db.ExecContext(ctx, query, a.ID, a.PenaltyID, a.AgentID, grounds, a.Status, review, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist appeal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAppeals(ctx context.Context) ([]*Appeal, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+appealColumns+" FROM appeals")
	if err != nil {
		return nil, fmt.Errorf("failed to list appeals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Appeal
	for rows.Next() {
		var a Appeal
		var grounds, review []byte
		if err := rows.Scan(&a.ID, &a.PenaltyID, &a.AgentID, &grounds, &a.Status, &review, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan appeal: %w", err)
		}
		if err := json.Unmarshal(grounds, &a.Grounds); err != nil {
			return nil, fmt.Errorf("decode grounds: %w", err)
		}
		if len(review) > 0 && string(review) != "null" {
			if err := json.Unmarshal(review, &a.Review); err != nil {
				return nil, fmt.Errorf("decode review: %w", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

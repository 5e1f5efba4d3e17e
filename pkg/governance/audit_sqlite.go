package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// AuditEntry records one governance action for later review. The log is
// append-only; lifted penalties disappear from the penalty store but
// never from here.
type AuditEntry struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"` // penalty_applied, recovery_completed, appeal_filed, appeal_resolved, remediation_graduated
	PenaltyID string    `json:"penalty_id,omitempty"`
	Detail    any       `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SQLiteAuditLog persists audit entries in SQLite.
type SQLiteAuditLog struct {
	db *sql.DB
}

func NewSQLiteAuditLog(db *sql.DB) (*SQLiteAuditLog, error) {
	l := &SQLiteAuditLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

// OpenSQLiteAuditLog opens (or creates) the audit database at path.
func OpenSQLiteAuditLog(path string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return NewSQLiteAuditLog(db)
}

func (l *SQLiteAuditLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS governance_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		action TEXT NOT NULL,
		penalty_id TEXT,
		detail JSON,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON governance_audit(agent_id);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

// Record appends an entry. Failures are returned so the caller can log
// them; the engine never blocks a governance action on the audit write.
func (l *SQLiteAuditLog) Record(ctx context.Context, e AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = l.db.ExecContext(ctx,
		"INSERT INTO governance_audit (agent_id, action, penalty_id, detail, timestamp) VALUES (?, ?, ?, ?, ?)",
		e.AgentID, e.Action, e.PenaltyID, string(detail), ts)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ForAgent returns the agent's audit trail, newest first.
func (l *SQLiteAuditLog) ForAgent(ctx context.Context, agentID string, limit int) ([]AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, agent_id, action, penalty_id, detail, timestamp FROM governance_audit WHERE agent_id = ? ORDER BY id DESC LIMIT ?",
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var penaltyID sql.NullString
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Action, &penaltyID, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.PenaltyID = penaltyID.String
		if detail.Valid && detail.String != "null" {
			var d any
			if err := json.Unmarshal([]byte(detail.String), &d); err == nil {
				e.Detail = d
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *SQLiteAuditLog) Close() error {
	return l.db.Close()
}

package governance

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func penaltyRows(t *testing.T, p *Penalty) *sqlmock.Rows {
	t.Helper()
	triggeredBy, err := json.Marshal(p.TriggeredBy)
	require.NoError(t, err)
	metricsAtStart, err := json.Marshal(p.MetricsAtStart)
	require.NoError(t, err)
	plan, err := json.Marshal(p.Plan)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"id", "agent_id", "level", "name", "triggered_by", "metrics_at_start", "improvement_plan", "appeal_status", "created_at"}).
		AddRow(p.ID, p.AgentID, p.Level, p.Name, triggeredBy, metricsAtStart, plan, string(p.AppealStatus), p.CreatedAt)
}

func TestPostgresGetByAgent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	p := testPenalty("pen-1", "agent-1", 3)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+penaltyColumns+" FROM penalties WHERE agent_id = $1")).
		WithArgs("agent-1").
		WillReturnRows(penaltyRows(t, p))

	store := NewPostgresStore(db)
	got, err := store.GetByAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pen-1", got.ID)
	assert.Equal(t, 3, got.Level)
	require.Len(t, got.TriggeredBy, 1)
	assert.InDelta(t, 0.05, got.Plan.TargetMetrics["errorRate"], 1e-9)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByAgentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+penaltyColumns+" FROM penalties WHERE agent_id = $1")).
		WithArgs("agent-9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "level", "name", "triggered_by", "metrics_at_start", "improvement_plan", "appeal_status", "created_at"}))

	store := NewPostgresStore(db)
	got, err := store.GetByAgent(context.Background(), "agent-9")
	require.NoError(t, err, "absence is not an error")
	assert.Nil(t, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutUpsertsOnAgentID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	p := testPenalty("pen-1", "agent-1", 3)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO penalties")).
		WithArgs(p.ID, p.AgentID, p.Level, p.Name, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), p.AppealStatus, p.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.Put(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM penalties WHERE agent_id = $1")).
		WithArgs("agent-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.Delete(context.Background(), "agent-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppealRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	a := &Appeal{
		ID:        "ap-1",
		PenaltyID: "pen-1",
		AgentID:   "agent-1",
		Grounds:   Grounds{Type: "external_factors", Explanation: "collector outage"},
		Status:    "pending",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appeals")).
		WithArgs(a.ID, a.PenaltyID, a.AgentID, sqlmock.AnyArg(), a.Status, sqlmock.AnyArg(), a.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	grounds, err := json.Marshal(a.Grounds)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+appealColumns+" FROM appeals WHERE id = $1")).
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "penalty_id", "agent_id", "grounds", "status", "review", "created_at"}).
			AddRow(a.ID, a.PenaltyID, a.AgentID, grounds, a.Status, []byte("null"), a.CreatedAt))

	store := NewPostgresStore(db)
	require.NoError(t, store.PutAppeal(context.Background(), a))

	got, err := store.GetAppeal(context.Background(), "ap-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "external_factors", got.Grounds.Type)
	assert.Nil(t, got.Review, "unreviewed appeals carry no review")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPenalties(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := penaltyRows(t, testPenalty("pen-1", "agent-1", 3))
	p2 := testPenalty("pen-2", "agent-2", 6)
	triggeredBy, _ := json.Marshal(p2.TriggeredBy)
	metricsAtStart, _ := json.Marshal(p2.MetricsAtStart)
	plan, _ := json.Marshal(p2.Plan)
	rows.AddRow(p2.ID, p2.AgentID, p2.Level, p2.Name, triggeredBy, metricsAtStart, plan, string(p2.AppealStatus), p2.CreatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + penaltyColumns + " FROM penalties")).
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "suspension", got[1].Name)

	require.NoError(t, mock.ExpectationsWereMet())
}

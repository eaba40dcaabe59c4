package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source, accepted, rejected, manual_review, forecasted, result, started_at, finished_at`).
		WithArgs("missing-batch").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBatch(context.Background(), "missing-batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get batch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batches`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO rejections`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO forecasts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	fc := model.Forecast{Item: "минтай", Category: model.CategoryFresh, Family: model.FamilyExponential}
	res := &model.BatchResult{
		Records: []model.RecordOutcome{
			{Item: "сёмга", Status: model.OutcomeAccepted},
			{Item: "x", Status: model.OutcomeRejected, Reason: model.RejectDegenerateRecord},
			{Item: "минтай", Status: model.OutcomeForecasted, Forecast: &fc},
		},
		Accepted: 1, Rejected: 1, Forecasted: 1,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}

	id, err := s.SaveBatch(context.Background(), "inventory.xlsx", res)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBatch_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batches`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.SaveBatch(context.Background(), "inventory.xlsx", &model.BatchResult{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadStates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	fitted := now.Add(-time.Hour)
	rows := pgxmock.NewRows([]string{
		"item", "category", "family", "a", "b", "c", "accuracy", "point_count",
		"fitted_at", "observation_count", "fit_count", "last_accuracy", "updated_at",
	}).AddRow(
		"сёмга", "salt_cured", "exponential", 0.08, 0.2, 0.001, 0.95, 6,
		&fitted, 6, 1, 0.95, now,
	)

	mock.ExpectQuery(`SELECT item, category, family`).WillReturnRows(rows)

	states, err := s.LoadStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "сёмга", states[0].Item)
	assert.Equal(t, model.CategorySaltCured, states[0].Category)
	assert.Equal(t, model.FamilyExponential, states[0].Coefficients.Family)
	assert.Equal(t, fitted, states[0].Coefficients.FittedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertStates_BulkPath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_states"}, stateColumns).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "states" .* ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := s.UpsertStates(context.Background(), []model.AdaptiveState{
		{Item: "сёмга", Category: model.CategorySaltCured,
			Coefficients: model.CoefficientSet{Family: model.FamilyExponential, A: 0.08, B: 0.2}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertStates_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// No states, no queries.
	require.NoError(t, s.UpsertStates(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRejections(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	detail := "empty item"
	rows := pgxmock.NewRows([]string{"id", "batch_id", "item", "reason", "detail", "created_at"}).
		AddRow("r1", "b1", "", "invalid_record", &detail, now)

	mock.ExpectQuery(`SELECT id, batch_id, item, reason, detail, created_at FROM rejections`).
		WithArgs(25).
		WillReturnRows(rows)

	out, err := s.ListRejections(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "empty item", out[0].Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

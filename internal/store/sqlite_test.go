package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastock/shrinkage-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testBatchResult() *model.BatchResult {
	fc := model.Forecast{
		Item: "минтай", Category: model.CategoryFresh, ElapsedDays: 7,
		Family: model.FamilyExponential, PredictedRate: 0.03,
		PredictedShrinkage: 3, PredictedFinalBalance: 97, Confidence: 0.5,
	}
	return &model.BatchResult{
		Records: []model.RecordOutcome{
			{Item: "сёмга", Status: model.OutcomeAccepted},
			{Item: "", Status: model.OutcomeRejected, Reason: model.RejectInvalidRecord, Detail: "empty item"},
			{Item: "минтай", Status: model.OutcomeForecasted, Forecast: &fc},
		},
		Accepted:   1,
		Rejected:   1,
		Forecasted: 1,
		StartedAt:  time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 7, 1, 8, 0, 2, 0, time.UTC),
	}
}

func TestSQLite_SaveAndGetBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.SaveBatch(ctx, "inventory.xlsx", testBatchResult())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := st.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "inventory.xlsx", got.Source)
	assert.Equal(t, 1, got.Accepted)
	assert.Equal(t, 1, got.Rejected)
	assert.Equal(t, 1, got.Forecasted)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Records, 3)
}

func TestSQLite_GetBatch_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetBatch(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestSQLite_ListBatches(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.SaveBatch(ctx, "a.xlsx", testBatchResult())
	require.NoError(t, err)
	_, err = st.SaveBatch(ctx, "b.xlsx", testBatchResult())
	require.NoError(t, err)

	all, err := st.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := st.ListBatches(ctx, BatchFilter{Source: "a.xlsx"})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "a.xlsx", onlyA[0].Source)

	limited, err := st.ListBatches(ctx, BatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_SaveBatchRecordsRejections(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.SaveBatch(ctx, "inventory.xlsx", testBatchResult())
	require.NoError(t, err)

	rejections, err := st.ListRejections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, id, rejections[0].BatchID)
	assert.Equal(t, string(model.RejectInvalidRecord), rejections[0].Reason)
	assert.Equal(t, "empty item", rejections[0].Detail)
}

func TestSQLite_UpsertAndLoadStates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	states := []model.AdaptiveState{
		{
			Item: "сёмга", Category: model.CategorySaltCured,
			Coefficients: model.CoefficientSet{
				Family: model.FamilyExponential, A: 0.08, B: 0.2, C: 0.001,
				Accuracy: 0.95, PointCount: 6, FittedAt: now,
			},
			ObservationCount: 6, FitCount: 1, LastAccuracy: 0.95, UpdatedAt: now,
		},
		{
			Item: "треска", Category: model.CategoryFresh,
			Coefficients: model.CoefficientSet{Family: model.FamilyLinear, A: 0.002, B: 0.01},
			ObservationCount: 2, FitCount: 1, LastAccuracy: 1, UpdatedAt: now,
		},
	}
	require.NoError(t, st.UpsertStates(ctx, states))

	loaded, err := st.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "сёмга", loaded[0].Item)
	assert.Equal(t, model.FamilyExponential, loaded[0].Coefficients.Family)
	assert.Equal(t, 0.08, loaded[0].Coefficients.A)

	// Upsert replaces, never duplicates.
	states[0].ObservationCount = 9
	require.NoError(t, st.UpsertStates(ctx, states[:1]))

	loaded, err = st.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 9, loaded[0].ObservationCount)
}

func TestSQLite_SaveForecastWithoutBatch(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveForecast(context.Background(), "", model.Forecast{
		Item: "минтай", Category: model.CategoryFresh, ElapsedDays: 10,
		Family: model.FamilyExponential, PredictedRate: 0.02,
		PredictedShrinkage: 1, PredictedFinalBalance: 49, Confidence: 0.4,
	})
	assert.NoError(t, err)
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{MaxConcurrentItems: 4},
		Validate: config.ValidateConfig{
			NegativeRatePenalty:     0.5,
			StorageDaysPenalty:      0.3,
			IncompletePeriodPenalty: 0.4,
			MaxPlausibleDays:        3650,
			NegativeRateTolerance:   0.01,
			OvershootMargin:         0.05,
			OvershootSignal:         0.6,
			NegativeRateSignal:      0.5,
			ReviewErrorThreshold:    0.7,
			ReviewConfidenceFloor:   0.2,
		},
		Fit: config.FitConfig{
			MaxB:           10.0,
			LinearEpsilon:  0.005,
			MinLinearR2:    0.3,
			AcceptableR2:   0.85,
			WarningR2:      0.7,
			AcceptableRMSE: 0.05,
			WarningRMSE:    0.1,
			AcceptableMAE:  0.03,
			WarningMAE:     0.07,
		},
		Estimate: config.EstimateConfig{
			BaseLearningRate:  0.1,
			BaseA:             0.015,
			BaseB:             0.05,
			BaseC:             0.001,
			DefaultConfidence: 0.5,
			SeasonalFactors: map[string]float64{
				"winter": 1.0, "spring": 1.0, "summer": 1.0, "autumn": 1.0,
			},
		},
		Classify: config.ClassifyConfig{Rules: config.DefaultRules()},
	}
}

var batchTime = time.Date(2025, 7, 20, 8, 0, 0, 0, time.UTC)

// record builds an observation record whose observed rate is exactly rate.
func record(item string, days int, rate float64) model.RawRecord {
	return model.RawRecord{
		Item:           item,
		InitialBalance: 100,
		FinalBalance:   100 * (1 - rate),
		StorageDays:    days,
	}
}

func TestProcessBatch_EndToEnd(t *testing.T) {
	e := New(testConfig())

	records := []model.RawRecord{
		record("сёмга с/с", 5, 0.02),
		record("сёмга с/с", 10, 0.035),
		record("сёмга с/с", 15, 0.045),
		record("сёмга с/с", 20, 0.05),
		{Item: "сёмга с/с", InitialBalance: 100, StorageDays: 7, Preliminary: true},
	}

	res, err := e.ProcessBatch(context.Background(), records, batchTime)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, model.CategorySaltCured, item.Category)
	require.NotNil(t, item.Coefficients)
	assert.Equal(t, model.FamilyExponential, item.Coefficients.Family)
	assert.Greater(t, item.Coefficients.Accuracy, 0.9)
	assert.Positive(t, item.Coefficients.B)
	require.NotNil(t, item.State)
	assert.Equal(t, 4, item.State.ObservationCount)
	assert.Equal(t, 1, item.State.FitCount)
	require.NotNil(t, item.Verification)

	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 1, res.Forecasted)
	assert.Zero(t, res.Rejected)
	assert.Zero(t, res.ManualReview)

	// The preliminary record's forecast follows the curve fitted in the same
	// batch: a prediction for day 7 lands strictly between the fitted rates
	// for days 5 and 10.
	fcOutcome := res.Records[4]
	require.Equal(t, model.OutcomeForecasted, fcOutcome.Status)
	require.NotNil(t, fcOutcome.Forecast)
	lo := item.Coefficients.Eval(5)
	hi := item.Coefficients.Eval(10)
	assert.Greater(t, fcOutcome.Forecast.PredictedRate, lo)
	assert.Less(t, fcOutcome.Forecast.PredictedRate, hi)
	assert.InDelta(t, 100*(1-fcOutcome.Forecast.PredictedRate), fcOutcome.Forecast.PredictedFinalBalance, 1e-9)
}

func TestProcessBatch_EveryRecordGetsOneOutcome(t *testing.T) {
	e := New(testConfig())

	records := []model.RawRecord{
		record("треска", 5, 0.01),
		{Item: "", InitialBalance: 100, FinalBalance: 95, StorageDays: 5},       // invalid
		{Item: "треска", InitialBalance: 100, FinalBalance: 120, StorageDays: 8}, // 20% overshoot
		record("треска", 12, 0.03),
		{Item: "минтай", InitialBalance: -5, FinalBalance: 1, StorageDays: 3}, // invalid
	}

	res, err := e.ProcessBatch(context.Background(), records, batchTime)
	require.NoError(t, err)

	require.Len(t, res.Records, len(records))
	for i, rec := range res.Records {
		assert.NotEmpty(t, rec.Status, "record %d has no outcome", i)
	}

	assert.Equal(t, model.OutcomeAccepted, res.Records[0].Status)
	assert.Equal(t, model.OutcomeRejected, res.Records[1].Status)
	assert.Equal(t, model.RejectInvalidRecord, res.Records[1].Reason)
	assert.Equal(t, model.OutcomeManualReview, res.Records[2].Status)
	assert.Equal(t, model.OutcomeAccepted, res.Records[3].Status)
	assert.Equal(t, model.OutcomeRejected, res.Records[4].Status)

	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 1, res.ManualReview)
}

func TestProcessBatch_ManualReviewExcludedFromFitting(t *testing.T) {
	e := New(testConfig())

	// Two clean records plus one flagged for review: the review record must
	// not count toward the fit's observations.
	records := []model.RawRecord{
		record("судак", 5, 0.01),
		record("судак", 10, 0.02),
		{Item: "судак", InitialBalance: 100, FinalBalance: 130, StorageDays: 7},
	}

	res, err := e.ProcessBatch(context.Background(), records, batchTime)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	require.NotNil(t, res.Items[0].Coefficients)
	assert.Equal(t, 2, res.Items[0].Coefficients.PointCount)
	assert.Equal(t, 2, res.Items[0].State.ObservationCount)
}

func TestProcessBatch_InsufficientDataIsTerminal(t *testing.T) {
	e := New(testConfig())

	res, err := e.ProcessBatch(context.Background(), []model.RawRecord{
		record("окунь", 5, 0.01),
	}, batchTime)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].InsufficientData)
	assert.Nil(t, res.Items[0].Coefficients)
	// The record itself was still fine.
	assert.Equal(t, 1, res.Accepted)
}

func TestProcessBatch_ItemsAreIndependent(t *testing.T) {
	e := New(testConfig())

	// Interleaved items; the second item's records are all garbage.
	records := []model.RawRecord{
		record("щука", 4, 0.01),
		{Item: "сельдь г/к", InitialBalance: 0, StorageDays: 5},
		record("щука", 9, 0.02),
		{Item: "сельдь г/к", InitialBalance: 0, StorageDays: 9},
		record("щука", 14, 0.03),
	}

	res, err := e.ProcessBatch(context.Background(), records, batchTime)
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "щука", res.Items[0].Item)
	require.NotNil(t, res.Items[0].Coefficients)

	assert.Equal(t, "сельдь г/к", res.Items[1].Item)
	assert.Equal(t, model.CategoryHotSmoked, res.Items[1].Category)
	assert.True(t, res.Items[1].InsufficientData)
	assert.Equal(t, 2, res.Rejected)
}

func TestProcessBatch_PreliminaryWithoutHistoryUsesCategoryDefault(t *testing.T) {
	e := New(testConfig())

	res, err := e.ProcessBatch(context.Background(), []model.RawRecord{
		{Item: "вобла суш", InitialBalance: 50, StorageDays: 14, Preliminary: true},
	}, batchTime)
	require.NoError(t, err)

	require.Equal(t, model.OutcomeForecasted, res.Records[0].Status)
	fc := res.Records[0].Forecast
	require.NotNil(t, fc)
	assert.Equal(t, model.CategoryDried, fc.Category)
	// No fits yet, so the confidence carries the configured default.
	assert.InDelta(t, 0.5, fc.Confidence, 1e-12)
	assert.GreaterOrEqual(t, fc.PredictedFinalBalance, 0.0)
	assert.LessOrEqual(t, fc.PredictedFinalBalance, 50.0)
}

func TestProcessBatch_ContextCancellation(t *testing.T) {
	e := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ProcessBatch(ctx, []model.RawRecord{record("треска", 5, 0.01)}, batchTime)
	assert.Error(t, err)
}

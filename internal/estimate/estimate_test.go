package estimate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/model"
)

func testCfg() config.EstimateConfig {
	return config.EstimateConfig{
		BaseLearningRate:  0.1,
		BaseA:             0.015,
		BaseB:             0.05,
		BaseC:             0.001,
		DefaultConfidence: 0.5,
	}
}

var now = time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

func TestState_CategoryDefault(t *testing.T) {
	e := New(testCfg())

	st, err := e.State("треска с/с", model.CategorySaltCured)
	require.NoError(t, err)

	// salt_cured multipliers: 0.7 / 0.8 / 0.85
	assert.InDelta(t, 0.015*0.7, st.Coefficients.A, 1e-12)
	assert.InDelta(t, 0.05*0.8, st.Coefficients.B, 1e-12)
	assert.InDelta(t, 0.001*0.85, st.Coefficients.C, 1e-12)
	assert.Equal(t, model.FamilyExponential, st.Coefficients.Family)
	assert.Zero(t, st.ObservationCount)
	assert.Zero(t, st.FitCount)
}

func TestState_InvalidKey(t *testing.T) {
	e := New(testCfg())

	_, err := e.State("", model.CategoryFresh)
	assert.True(t, errors.Is(err, model.ErrInvalidKey))

	_, err = e.State("треска", model.Category("pickled"))
	assert.True(t, errors.Is(err, model.ErrInvalidKey))
}

func TestUpdate_FirstFitSeedsState(t *testing.T) {
	e := New(testCfg())
	fitted := model.CoefficientSet{
		Family: model.FamilyExponential, A: 0.09, B: 0.2, C: 0.0005,
		Accuracy: 0.95, PointCount: 6, FittedAt: now,
	}

	st, err := e.Update("сёмга х/к", model.CategoryColdSmoked, fitted, 0.9, 6, now)
	require.NoError(t, err)

	assert.Equal(t, fitted, st.Coefficients)
	assert.Equal(t, 6, st.ObservationCount)
	assert.Equal(t, 1, st.FitCount)
	assert.Equal(t, 0.95, st.LastAccuracy)
	assert.Equal(t, now, st.UpdatedAt)
}

func TestUpdate_ZeroWeightIsNoop(t *testing.T) {
	e := New(testCfg())

	before, err := e.State("минтай", model.CategoryFresh)
	require.NoError(t, err)

	fitted := model.CoefficientSet{Family: model.FamilyExponential, A: 0.5, B: 1, Accuracy: 0.9}
	st, err := e.Update("минтай", model.CategoryFresh, fitted, 0, 3, now)
	require.NoError(t, err)

	assert.Equal(t, before.Coefficients, st.Coefficients)
	assert.Zero(t, st.ObservationCount)
	assert.Zero(t, st.FitCount)

	// Negative accuracy clamps to zero weight as well.
	fitted.Accuracy = -0.4
	st, err = e.Update("минтай", model.CategoryFresh, fitted, 1, 2, now)
	require.NoError(t, err)
	assert.Equal(t, before.Coefficients, st.Coefficients)
	assert.Zero(t, st.ObservationCount)
}

func TestUpdate_BlendMovesTowardFit(t *testing.T) {
	e := New(testCfg())
	first := model.CoefficientSet{Family: model.FamilyExponential, A: 0.05, B: 0.1, C: 0, Accuracy: 1}

	_, err := e.Update("судак", model.CategoryFresh, first, 1, 4, now)
	require.NoError(t, err)

	second := model.CoefficientSet{Family: model.FamilyExponential, A: 0.09, B: 0.3, C: 0, Accuracy: 1}
	st, err := e.Update("судак", model.CategoryFresh, second, 1, 4, now)
	require.NoError(t, err)

	// step = 0.1/(1+4) × 1 = 0.02
	assert.InDelta(t, 0.05+0.02*(0.09-0.05), st.Coefficients.A, 1e-12)
	assert.InDelta(t, 0.1+0.02*(0.3-0.1), st.Coefficients.B, 1e-12)
	assert.Equal(t, 8, st.ObservationCount)
	assert.Equal(t, 2, st.FitCount)

	// The estimate stays strictly between the old value and the new fit.
	assert.Greater(t, st.Coefficients.A, 0.05)
	assert.Less(t, st.Coefficients.A, 0.09)
}

func TestUpdate_ConvergesTowardRepeatedFit(t *testing.T) {
	e := New(testCfg())
	first := model.CoefficientSet{Family: model.FamilyExponential, A: 0.02, B: 0.1, C: 0, Accuracy: 1}
	_, err := e.Update("щука", model.CategoryFresh, first, 1, 1, now)
	require.NoError(t, err)

	target := model.CoefficientSet{Family: model.FamilyExponential, A: 0.08, B: 0.25, C: 0, Accuracy: 1}

	prev := 0.02
	var st model.AdaptiveState
	for i := 0; i < 50; i++ {
		st, err = e.Update("щука", model.CategoryFresh, target, 1, 1, now)
		require.NoError(t, err)
		// Monotone approach: each step moves toward the target, never past it.
		assert.Greater(t, st.Coefficients.A, prev)
		assert.Less(t, st.Coefficients.A, 0.08)
		prev = st.Coefficients.A
	}

	assert.Greater(t, st.Coefficients.A, 0.03)
	assert.Equal(t, 51, st.ObservationCount)
}

func TestUpdate_FamilySwitchReplacesState(t *testing.T) {
	e := New(testCfg())
	exp := model.CoefficientSet{Family: model.FamilyExponential, A: 0.05, B: 0.1, Accuracy: 1}
	_, err := e.Update("окунь", model.CategoryFresh, exp, 1, 3, now)
	require.NoError(t, err)

	lin := model.CoefficientSet{Family: model.FamilyLinear, A: 0.002, B: 0.01, Accuracy: 0.9}
	st, err := e.Update("окунь", model.CategoryFresh, lin, 1, 3, now)
	require.NoError(t, err)

	assert.Equal(t, model.FamilyLinear, st.Coefficients.Family)
	assert.Equal(t, 0.002, st.Coefficients.A)
	assert.Equal(t, 2, st.FitCount)
}

func TestAdjustedCoefficients_SeasonalReadTimeOnly(t *testing.T) {
	e := New(testCfg())
	fitted := model.CoefficientSet{Family: model.FamilyExponential, A: 0.08, B: 0.2, Accuracy: 1}
	st, err := e.Update("сельдь", model.CategoryFresh, fitted, 1, 3, now)
	require.NoError(t, err)

	summer := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	winter := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 0.2*1.25, e.AdjustedCoefficients(st, summer).B, 1e-12)
	assert.InDelta(t, 0.2*1.15, e.AdjustedCoefficients(st, winter).B, 1e-12)

	// Stored state is untouched by the read-time view.
	after, err := e.State("сельдь", model.CategoryFresh)
	require.NoError(t, err)
	assert.Equal(t, 0.2, after.Coefficients.B)
}

func TestAdjustmentFactor_CategoryOverride(t *testing.T) {
	cfg := testCfg()
	cfg.Adjustments = map[string]map[string]float64{
		"dried": {"summer": 1.4},
	}
	e := New(cfg)

	assert.Equal(t, 1.4, e.AdjustmentFactor(model.CategoryDried, model.SeasonSummer))
	assert.Equal(t, 1.15, e.AdjustmentFactor(model.CategoryDried, model.SeasonWinter))
	assert.Equal(t, 1.25, e.AdjustmentFactor(model.CategoryFresh, model.SeasonSummer))
}

func TestSeedAndSnapshot(t *testing.T) {
	e := New(testCfg())
	e.Seed([]model.AdaptiveState{
		{Item: "б", Category: model.CategoryFresh, ObservationCount: 7, FitCount: 2},
		{Item: "а", Category: model.CategorySmoked, ObservationCount: 3, FitCount: 1},
		{Item: "", Category: model.CategoryFresh}, // invalid, skipped
	})

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "а", snap[0].Item)
	assert.Equal(t, 3, snap[0].ObservationCount)
	assert.Equal(t, "б", snap[1].Item)
	assert.Equal(t, 7, snap[1].ObservationCount)

	st, err := e.State("б", model.CategoryFresh)
	require.NoError(t, err)
	assert.Equal(t, 7, st.ObservationCount)
	assert.Equal(t, 2, st.FitCount)
}

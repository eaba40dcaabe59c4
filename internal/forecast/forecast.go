// Package forecast turns adaptive coefficient states into single-boundary
// shrinkage predictions.
package forecast

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/estimate"
	"github.com/seastock/shrinkage-cli/internal/model"
)

// Forecaster predicts the shrinkage of a stored balance after a number of
// elapsed days, using the seasonally adjusted coefficients for the item.
type Forecaster struct {
	est               *estimate.Estimator
	defaultConfidence float64
}

// New returns a forecaster reading states from est. defaultConfidence is
// reported for states that have never absorbed a real fit.
func New(est *estimate.Estimator, defaultConfidence float64) *Forecaster {
	return &Forecaster{est: est, defaultConfidence: defaultConfidence}
}

// Forecast predicts shrinkage for balance units of (item, category) stored
// for elapsedDays, as of the given time. invConfidence scales the reported
// confidence; pass 1 when the balance is trusted.
//
// The predicted rate is clamped to [0,1], so the predicted final balance is
// always within [0, balance].
func (f *Forecaster) Forecast(item string, cat model.Category, balance float64, elapsedDays int, at time.Time, invConfidence float64) (model.Forecast, error) {
	if balance < 0 {
		return model.Forecast{}, eris.Errorf("forecast: negative balance %.3f", balance)
	}
	if elapsedDays <= 0 {
		return model.Forecast{}, eris.Errorf("forecast: elapsed days must be positive, got %d", elapsedDays)
	}

	st, err := f.est.State(item, cat)
	if err != nil {
		return model.Forecast{}, err
	}

	cs := f.est.AdjustedCoefficients(st, at)
	rate := model.Clamp01(cs.Eval(float64(elapsedDays)))
	shrinkage := balance * rate

	stateConf := f.defaultConfidence
	if st.FitCount > 0 {
		stateConf = model.Clamp01(st.LastAccuracy)
	}

	fc := model.Forecast{
		Item:                  item,
		Category:              cat,
		ElapsedDays:           elapsedDays,
		Family:                cs.Family,
		PredictedRate:         rate,
		PredictedShrinkage:    shrinkage,
		PredictedFinalBalance: balance - shrinkage,
		Confidence:            stateConf * model.Clamp01(invConfidence),
	}

	zap.L().Debug("forecast computed",
		zap.String("item", item),
		zap.String("category", string(cat)),
		zap.Int("elapsed_days", elapsedDays),
		zap.Float64("predicted_rate", fc.PredictedRate),
		zap.Float64("confidence", fc.Confidence))

	return fc, nil
}

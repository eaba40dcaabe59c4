// Package estimate maintains adaptive per-(item, category) coefficient
// estimates. Fresh fits are folded into the running state with a learning
// rate that shrinks as observations accumulate, weighted by fit accuracy and
// inventory confidence, so a noisy batch nudges the estimate instead of
// replacing it.
package estimate

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/model"
)

// Estimator owns all adaptive states. Safe for concurrent use.
type Estimator struct {
	cfg         config.EstimateConfig
	multipliers map[string]config.Multipliers

	mu     sync.RWMutex
	states map[model.StateKey]*model.AdaptiveState
}

// New returns an estimator with an empty state table. Missing multiplier or
// seasonal tables fall back to the built-in defaults.
func New(cfg config.EstimateConfig) *Estimator {
	if len(cfg.CategoryMultipliers) == 0 {
		cfg.CategoryMultipliers = config.DefaultMultipliers()
	}
	if len(cfg.SeasonalFactors) == 0 {
		cfg.SeasonalFactors = map[string]float64{
			string(model.SeasonWinter): 1.15,
			string(model.SeasonSpring): 1.05,
			string(model.SeasonSummer): 1.25,
			string(model.SeasonAutumn): 1.10,
		}
	}
	return &Estimator{
		cfg:         cfg,
		multipliers: cfg.CategoryMultipliers,
		states:      make(map[model.StateKey]*model.AdaptiveState),
	}
}

// State returns a copy of the adaptive state for (item, category),
// initializing it from the category default on first access.
func (e *Estimator) State(item string, cat model.Category) (model.AdaptiveState, error) {
	if err := checkKey(item, cat); err != nil {
		return model.AdaptiveState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.lockedState(item, cat), nil
}

// Update folds one fitted coefficient set into the state for (item, category)
// and returns a copy of the updated state.
//
// The learning weight is clamp01(accuracy) × clamp01(inventory confidence).
// A zero weight is a full no-op: coefficients stay put and the observation
// count does not advance, so an untrusted fit contributes nothing at all.
// The first real fit seeds the state wholesale: a category default carries
// no item-specific signal worth preserving. Later fits are blended with
// step = base_rate/(1+observation_count) × weight, so the state stiffens as
// history accumulates.
func (e *Estimator) Update(item string, cat model.Category, fitted model.CoefficientSet, invConfidence float64, observations int, now time.Time) (model.AdaptiveState, error) {
	if err := checkKey(item, cat); err != nil {
		return model.AdaptiveState{}, err
	}

	w := model.Clamp01(fitted.Accuracy) * model.Clamp01(invConfidence)

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.lockedState(item, cat)
	lr := e.cfg.BaseLearningRate / (1 + float64(st.ObservationCount))

	switch {
	case w <= 0:
		// Nothing trustworthy to learn from: no contribution, no count.
		observations = 0
	case st.FitCount == 0 || fitted.Family != st.Coefficients.Family:
		// Coefficients are only comparable within one family, so a family
		// switch, like the first real fit, replaces the state outright.
		st.Coefficients = fitted
		st.FitCount++
		st.LastAccuracy = fitted.Accuracy
	default:
		step := lr * w
		st.Coefficients.A += step * (fitted.A - st.Coefficients.A)
		st.Coefficients.B += step * (fitted.B - st.Coefficients.B)
		st.Coefficients.C += step * (fitted.C - st.Coefficients.C)
		st.Coefficients.Accuracy = fitted.Accuracy
		st.Coefficients.PointCount = fitted.PointCount
		st.Coefficients.FittedAt = fitted.FittedAt
		st.FitCount++
		st.LastAccuracy = fitted.Accuracy
	}

	st.ObservationCount += observations
	st.UpdatedAt = now

	zap.L().Debug("adaptive state updated",
		zap.String("item", item),
		zap.String("category", string(cat)),
		zap.Float64("weight", w),
		zap.Float64("learning_rate", lr),
		zap.Int("observation_count", st.ObservationCount),
		zap.Int("fit_count", st.FitCount))

	return *st, nil
}

// AdjustedCoefficients returns the state's coefficients with the seasonal
// adjustment for the given time applied to the time-rate coefficient. The
// stored state is never modified: adjustment is a read-time view.
func (e *Estimator) AdjustedCoefficients(st model.AdaptiveState, at time.Time) model.CoefficientSet {
	factor := e.AdjustmentFactor(st.Category, model.SeasonOf(at))
	cs := st.Coefficients
	switch cs.Family {
	case model.FamilyLinear:
		cs.A *= factor
	default:
		cs.B *= factor
	}
	return cs
}

// AdjustmentFactor returns the seasonal factor for a category, preferring a
// category-specific override when configured.
func (e *Estimator) AdjustmentFactor(cat model.Category, season model.Season) float64 {
	if overrides, ok := e.cfg.Adjustments[string(cat)]; ok {
		if f, ok := overrides[string(season)]; ok && f > 0 {
			return f
		}
	}
	if f, ok := e.cfg.SeasonalFactors[string(season)]; ok && f > 0 {
		return f
	}
	return 1.0
}

// Seed loads previously persisted states, replacing any in-memory entries
// with the same key. Invalid entries are skipped.
func (e *Estimator) Seed(states []model.AdaptiveState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range states {
		if checkKey(st.Item, st.Category) != nil {
			zap.L().Warn("skipping persisted state with invalid key",
				zap.String("item", st.Item),
				zap.String("category", string(st.Category)))
			continue
		}
		cp := st
		e.states[st.Key()] = &cp
	}
}

// Snapshot returns copies of all states, ordered by item then category.
func (e *Estimator) Snapshot() []model.AdaptiveState {
	e.mu.RLock()
	out := make([]model.AdaptiveState, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, *st)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// lockedState returns the live state for (item, category), creating the
// category default on first access. Caller holds e.mu.
func (e *Estimator) lockedState(item string, cat model.Category) *model.AdaptiveState {
	key := model.StateKey{Item: item, Category: cat}
	if st, ok := e.states[key]; ok {
		return st
	}

	mult, ok := e.multipliers[string(cat)]
	if !ok {
		mult = config.Multipliers{A: 1, B: 1, C: 1}
	}
	st := &model.AdaptiveState{
		Item:     item,
		Category: cat,
		Coefficients: model.CoefficientSet{
			Family: model.FamilyExponential,
			A:      e.cfg.BaseA * mult.A,
			B:      e.cfg.BaseB * mult.B,
			C:      e.cfg.BaseC * mult.C,
		},
	}
	e.states[key] = st
	return st
}

func checkKey(item string, cat model.Category) error {
	if item == "" {
		return eris.Wrap(model.ErrInvalidKey, "empty item name")
	}
	if !cat.Valid() {
		return eris.Wrapf(model.ErrInvalidKey, "unknown category %q", cat)
	}
	return nil
}

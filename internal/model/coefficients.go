package model

import (
	"math"
	"time"
)

// ModelFamily identifies the shrinkage-rate model a CoefficientSet belongs to.
type ModelFamily string

const (
	FamilyExponential ModelFamily = "exponential" // S(t) = a·(1 − e^(−b·t)) + c·t
	FamilyLinear      ModelFamily = "linear"      // S(t) = a·t + b
	FamilyPolynomial2 ModelFamily = "polynomial2" // S(t) = a·t² + b·t + c
)

// CoefficientSet holds fitted model parameters with the fit quality that
// produced them. The meaning of A, B, C depends on Family; C is unused for
// the linear family.
type CoefficientSet struct {
	Family     ModelFamily `json:"family"`
	A          float64     `json:"a"`
	B          float64     `json:"b"`
	C          float64     `json:"c"`
	Accuracy   float64     `json:"accuracy"` // weighted R², in (-inf, 1]
	PointCount int         `json:"point_count"`
	FittedAt   time.Time   `json:"fitted_at"`
}

// Eval evaluates the family's rate formula at t days. The result is the raw
// model value, not clamped; callers producing user-facing rates clamp to
// [0,1].
func (c CoefficientSet) Eval(t float64) float64 {
	switch c.Family {
	case FamilyLinear:
		return c.A*t + c.B
	case FamilyPolynomial2:
		return c.A*t*t + c.B*t + c.C
	default:
		return c.A*(1-math.Exp(-c.B*t)) + c.C*t
	}
}

// StateKey identifies one AdaptiveState.
type StateKey struct {
	Item     string   `json:"item"`
	Category Category `json:"category"`
}

// AdaptiveState is the smoothed coefficient estimate for one (item, category)
// key. Owned exclusively by the adaptive estimator; read-only elsewhere.
// ObservationCount never decreases.
type AdaptiveState struct {
	Item             string         `json:"item"`
	Category         Category       `json:"category"`
	Coefficients     CoefficientSet `json:"coefficients"`
	ObservationCount int            `json:"observation_count"`

	// FitCount counts real (non-zero-weight) fits folded into the state.
	// Zero means the state still carries the category default.
	FitCount     int       `json:"fit_count"`
	LastAccuracy float64   `json:"last_accuracy"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the state's identifying key.
func (s *AdaptiveState) Key() StateKey {
	return StateKey{Item: s.Item, Category: s.Category}
}

// Forecast is a single-boundary shrinkage prediction.
type Forecast struct {
	Item                  string      `json:"item"`
	Category              Category    `json:"category"`
	ElapsedDays           int         `json:"elapsed_days"`
	Family                ModelFamily `json:"family"`
	PredictedRate         float64     `json:"predicted_rate"` // clamped to [0,1]
	PredictedShrinkage    float64     `json:"predicted_shrinkage"`
	PredictedFinalBalance float64     `json:"predicted_final_balance"`
	Confidence            float64     `json:"confidence"`
}

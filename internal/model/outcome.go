package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Failure taxonomy. Per-record failures are local: they are reported in the
// batch result and never abort processing of other records.
var (
	// ErrInvalidRecord marks a structural constraint violation, e.g. a
	// non-positive initial balance.
	ErrInvalidRecord = eris.New("invalid record")

	// ErrDegenerateRecord marks a record whose expected balance is not
	// positive, so no rate can be derived.
	ErrDegenerateRecord = eris.New("degenerate record")

	// ErrInsufficientData is a terminal state, not an error: too few points
	// to fit. Downstream consumers fall back to category defaults.
	ErrInsufficientData = eris.New("insufficient data")

	// ErrInvalidKey is a programming-contract violation: a structurally
	// invalid (item, category) key passed to the estimator.
	ErrInvalidKey = eris.New("invalid state key")
)

// RejectReason is the machine-readable code attached to a rejected record.
type RejectReason string

const (
	RejectInvalidRecord    RejectReason = "invalid_record"
	RejectDegenerateRecord RejectReason = "degenerate_record"
)

// OutcomeStatus is the terminal disposition of one input record. Every input
// record yields exactly one outcome.
type OutcomeStatus string

const (
	OutcomeAccepted     OutcomeStatus = "accepted"      // contributed to fitting
	OutcomeRejected     OutcomeStatus = "rejected"      // structural/degenerate failure
	OutcomeManualReview OutcomeStatus = "manual_review" // annotated, excluded from fitting
	OutcomeForecasted   OutcomeStatus = "forecasted"    // preliminary record, routed to forecaster
)

// RecordOutcome is the terminal result for one input record.
type RecordOutcome struct {
	Item        string        `json:"item"`
	Status      OutcomeStatus `json:"status"`
	Reason      RejectReason  `json:"reason,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Observation *Observation  `json:"observation,omitempty"`
	Forecast    *Forecast     `json:"forecast,omitempty"`
}

// VerificationStatus grades a back-calculation check of a fitted model.
type VerificationStatus string

const (
	VerificationAcceptable VerificationStatus = "acceptable"
	VerificationWarning    VerificationStatus = "warning"
	VerificationCritical   VerificationStatus = "critical"
)

// Verification holds accuracy metrics from re-applying fitted coefficients to
// the observations they were fitted on.
type Verification struct {
	RSquared float64            `json:"r_squared"`
	RMSE     float64            `json:"rmse"`
	MAE      float64            `json:"mae"`
	Status   VerificationStatus `json:"status"`
}

// ItemResult is the per-item terminal result of a batch: either a fitted
// CoefficientSet folded into the adaptive state, or an insufficient-data
// marker.
type ItemResult struct {
	Item             string          `json:"item"`
	Category         Category        `json:"category"`
	Coefficients     *CoefficientSet `json:"coefficients,omitempty"`
	InsufficientData bool            `json:"insufficient_data,omitempty"`
	State            *AdaptiveState  `json:"state,omitempty"`
	Verification     *Verification   `json:"verification,omitempty"`
}

// BatchResult aggregates one engine run over a record batch.
type BatchResult struct {
	Items   []ItemResult    `json:"items"`
	Records []RecordOutcome `json:"records"`

	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	ManualReview int `json:"manual_review"`
	Forecasted   int `json:"forecasted"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Package validate scores raw inventory records for trustworthiness and
// period completeness, converting them into quality-annotated observations.
package validate

import (
	"github.com/rotisserie/eris"

	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/model"
)

// Validator converts raw records into annotated observations. All penalty
// factors and thresholds come from configuration; a rejected record carries
// an explicit reason and never affects other records.
type Validator struct {
	cfg     config.ValidateConfig
	surplus config.SurplusConfig
}

// New creates a Validator.
func New(cfg config.ValidateConfig, surplus config.SurplusConfig) *Validator {
	return &Validator{cfg: cfg, surplus: surplus}
}

// Validate checks structural constraints, computes derived balances and
// attaches a QualityAnnotation. It returns model.ErrInvalidRecord for
// structural violations and model.ErrDegenerateRecord when no rate can be
// derived; both reject only the single record.
func (v *Validator) Validate(rec model.RawRecord) (*model.Observation, error) {
	if rec.Item == "" {
		return nil, eris.Wrap(model.ErrInvalidRecord, "empty item name")
	}
	if rec.InitialBalance <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRecord, "initial balance %.3f is not positive", rec.InitialBalance)
	}
	if rec.Incoming < 0 || rec.Outgoing < 0 {
		return nil, eris.Wrap(model.ErrInvalidRecord, "negative incoming or outgoing quantity")
	}
	if rec.StorageDays <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRecord, "storage days %d is not positive", rec.StorageDays)
	}

	surplusRate := rec.SurplusRate
	if surplusRate == 0 {
		surplusRate = v.surplus.Rate(rec.Item)
	}
	correctedIncoming := rec.Incoming * (1 + surplusRate)

	obs := &model.Observation{
		Item:              rec.Item,
		InitialBalance:    rec.InitialBalance,
		CorrectedIncoming: correctedIncoming,
		Outgoing:          rec.Outgoing,
		FinalBalance:      rec.FinalBalance,
		StorageDays:       rec.StorageDays,
		SurplusRate:       surplusRate,
	}

	if rec.Preliminary {
		// Only the start boundary is known: no outgoing movement or final
		// count to reconcile yet. StorageDays holds elapsed days so far.
		obs.Outgoing = 0
		obs.FinalBalance = 0
		obs.ExpectedBalance = rec.InitialBalance + correctedIncoming
		obs.Quality = v.annotate(rec, 0, true)
		return obs, nil
	}

	obs.ExpectedBalance = rec.InitialBalance + correctedIncoming - rec.Outgoing
	if obs.ExpectedBalance <= 0 {
		return nil, eris.Wrapf(model.ErrDegenerateRecord,
			"expected balance %.3f is not positive", obs.ExpectedBalance)
	}

	obs.RawRate = (obs.ExpectedBalance - rec.FinalBalance) / obs.ExpectedBalance
	obs.ObservedRate = model.Clamp01(obs.RawRate)
	if rec.FinalBalance < obs.ExpectedBalance {
		obs.ShrinkageAmount = obs.ExpectedBalance - rec.FinalBalance
	}
	obs.Quality = v.annotate(rec, obs.RawRate, false)

	return obs, nil
}

// annotate builds the quality annotation. Multiple independent human-error
// signals are combined as 1 − Π(1 − s) so they saturate toward 1 instead of
// summing past it.
func (v *Validator) annotate(rec model.RawRecord, rawRate float64, preliminary bool) model.QualityAnnotation {
	q := model.QualityAnnotation{
		InventoryConfidence: 1.0,
		IsValidPeriod:       !rec.IncompletePeriod && !preliminary,
		IsPreliminary:       preliminary,
	}

	if !preliminary && (rawRate < 0 || rawRate > 1) {
		q.InventoryConfidence *= v.cfg.NegativeRatePenalty
	}
	if rec.StorageDays < 1 || rec.StorageDays > v.cfg.MaxPlausibleDays {
		q.InventoryConfidence *= v.cfg.StorageDaysPenalty
	}
	if rec.IncompletePeriod {
		q.InventoryConfidence *= v.cfg.IncompletePeriodPenalty
	}

	if !preliminary {
		var signals []float64
		if rawRate < -v.cfg.NegativeRateTolerance {
			signals = append(signals, v.cfg.NegativeRateSignal)
		}
		surplusRate := rec.SurplusRate
		if surplusRate == 0 {
			surplusRate = v.surplus.Rate(rec.Item)
		}
		expected := rec.InitialBalance + rec.Incoming*(1+surplusRate) - rec.Outgoing
		if rec.FinalBalance > expected*(1+v.cfg.OvershootMargin) {
			signals = append(signals, v.cfg.OvershootSignal)
		}
		q.HumanErrorProbability = combineSignals(signals)
	}

	q.ManualReviewRequired = q.HumanErrorProbability > v.cfg.ReviewErrorThreshold ||
		q.InventoryConfidence < v.cfg.ReviewConfidenceFloor

	return q
}

func combineSignals(signals []float64) float64 {
	clean := 1.0
	for _, s := range signals {
		clean *= 1 - model.Clamp01(s)
	}
	return 1 - clean
}

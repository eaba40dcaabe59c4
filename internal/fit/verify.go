package fit

import (
	"math"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// Verify re-applies a fitted coefficient set to the points it was fitted on
// and grades the agreement. A correct fit reproduces the observed rates
// within tolerance; a poor grade flags the coefficients for review before
// they are trusted for forecasting.
func (f *Fitter) Verify(cs model.CoefficientSet, pts []Point) model.Verification {
	ver := model.Verification{Status: model.VerificationCritical}
	wsum := totalWeight(pts)
	if len(pts) == 0 || wsum <= 0 {
		return ver
	}

	var sse, sae float64
	for _, p := range pts {
		diff := cs.Eval(p.Day) - p.Rate
		sse += p.Weight * diff * diff
		sae += p.Weight * math.Abs(diff)
	}

	ver.RSquared = weightedR2(pts, cs.Eval)
	ver.RMSE = math.Sqrt(sse / wsum)
	ver.MAE = sae / wsum
	ver.Status = f.grade(ver)
	return ver
}

// grade returns the worst classification across the three metrics.
func (f *Fitter) grade(v model.Verification) model.VerificationStatus {
	status := model.VerificationAcceptable

	worsen := func(s model.VerificationStatus) {
		if s == model.VerificationCritical || status == model.VerificationCritical {
			status = model.VerificationCritical
		} else if s == model.VerificationWarning {
			status = model.VerificationWarning
		}
	}

	switch {
	case v.RSquared >= f.cfg.AcceptableR2:
	case v.RSquared >= f.cfg.WarningR2:
		worsen(model.VerificationWarning)
	default:
		worsen(model.VerificationCritical)
	}

	switch {
	case v.RMSE <= f.cfg.AcceptableRMSE:
	case v.RMSE <= f.cfg.WarningRMSE:
		worsen(model.VerificationWarning)
	default:
		worsen(model.VerificationCritical)
	}

	switch {
	case v.MAE <= f.cfg.AcceptableMAE:
	case v.MAE <= f.cfg.WarningMAE:
		worsen(model.VerificationWarning)
	default:
		worsen(model.VerificationCritical)
	}

	return status
}

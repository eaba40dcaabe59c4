// Package fit estimates shrinkage-rate models from quality-annotated
// observations, selecting among a small family of models by fit quality.
//
// The candidate families, strongest to simplest:
//
//	exponential  S(t) = a·(1 − e^(−b·t)) + c·t
//	linear       S(t) = a·t + b
//	polynomial2  S(t) = a·t² + b·t + c
//
// Numerical failure is never surfaced: the fitter degrades to a simpler
// family or reports insufficient data.
package fit

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/model"
)

// Point is one (storage day, observed rate) sample with its inventory
// confidence as fit weight.
type Point struct {
	Day    float64
	Rate   float64
	Weight float64
}

// PointsFromObservations extracts fit points from validated observations.
// Callers are expected to have excluded preliminary and manual-review
// records already.
func PointsFromObservations(obs []model.Observation) []Point {
	pts := make([]Point, 0, len(obs))
	for _, o := range obs {
		pts = append(pts, Point{
			Day:    float64(o.StorageDays),
			Rate:   o.ObservedRate,
			Weight: o.Quality.InventoryConfidence,
		})
	}
	return pts
}

// Fitter fits shrinkage-rate models under configured bounds.
type Fitter struct {
	cfg config.FitConfig
}

// New creates a Fitter.
func New(cfg config.FitConfig) *Fitter {
	return &Fitter{cfg: cfg}
}

// Fit selects and fits a model family for one item's points. fittedAt is the
// logical timestamp recorded on the result.
//
// Family selection: with 3+ points the exponential model is attempted first;
// the linear model is always fitted as the fallback and wins ties (bias
// toward simplicity). When the linear fit is poor (R² below the configured
// minimum) and 4+ points are available, a degree-2 polynomial is tried as a
// last resort and wins only when strictly better than linear.
func (f *Fitter) Fit(pts []Point, fittedAt time.Time) (*model.CoefficientSet, error) {
	if len(pts) < 2 {
		return nil, eris.Wrapf(model.ErrInsufficientData, "%d point(s), need at least 2", len(pts))
	}
	if totalWeight(pts) <= 0 {
		return nil, eris.Wrap(model.ErrInsufficientData, "all points carry zero confidence")
	}

	var exp *model.CoefficientSet
	if len(pts) >= 3 {
		exp = f.fitExponential(pts)
	}
	lin := f.fitLinear(pts)

	chosen := exp
	if chosen == nil || (lin != nil && lin.Accuracy >= chosen.Accuracy) {
		chosen = lin
	}

	if chosen != nil && chosen.Family == model.FamilyLinear &&
		chosen.Accuracy < f.cfg.MinLinearR2 && len(pts) >= 4 {
		if poly := f.fitPolynomial2(pts); poly != nil && poly.Accuracy > chosen.Accuracy {
			chosen = poly
		}
	}

	if chosen == nil {
		return nil, eris.Wrap(model.ErrInsufficientData, "no model family converged")
	}

	chosen.PointCount = len(pts)
	chosen.FittedAt = fittedAt
	return chosen, nil
}

// fitExponential runs a bounded weighted nonlinear least-squares fit.
// Bounds: a ∈ [0,1], b ∈ (0, MaxB], c ∈ [−ε, ε]. Returns nil on
// non-convergence or a degenerate (non-monotonic) solution.
func (f *Fitter) fitExponential(pts []Point) *model.CoefficientSet {
	maxRate := 0.0
	for _, p := range pts {
		if p.Rate > maxRate {
			maxRate = p.Rate
		}
	}
	if maxRate <= 0 {
		// All-zero rates have no exponential shape to recover.
		return nil
	}

	objective := func(x []float64) float64 {
		a, b, c := x[0], x[1], x[2]
		sse := 0.0
		for _, p := range pts {
			r := a*(1-math.Exp(-b*p.Day)) + c*p.Day - p.Rate
			sse += p.Weight * r * r
		}
		return sse + f.boundsPenalty(a, b, c)
	}

	problem := optimize.Problem{Func: objective}

	// Multi-start: the surface is mildly non-convex, so a few cheap simplex
	// restarts beat one careful guess.
	starts := [][]float64{
		{math.Min(maxRate*0.8, 1), 0.1, 0},
		{math.Min(maxRate, 1), 0.05, 0},
		{math.Min(maxRate*1.2, 1), 0.5, 0},
	}

	var best []float64
	bestF := math.Inf(1)
	for _, x0 := range starts {
		res, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
		if err != nil || res == nil || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
			continue
		}
		if res.F < bestF {
			bestF = res.F
			best = res.X
		}
	}
	if best == nil {
		return nil
	}

	a, b, c := best[0], best[1], best[2]
	if !f.withinBounds(a, b, c) || a <= 0 || b <= 0 {
		return nil
	}

	cs := &model.CoefficientSet{Family: model.FamilyExponential, A: a, B: b, C: c}
	cs.Accuracy = weightedR2(pts, cs.Eval)
	return cs
}

// fitLinear runs a weighted linear least squares S(t) = a·t + b.
func (f *Fitter) fitLinear(pts []Point) *model.CoefficientSet {
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	ws := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i], ws[i] = p.Day, p.Rate, p.Weight
	}

	intercept, slope := stat.LinearRegression(xs, ys, ws, false)
	if math.IsNaN(slope) || math.IsNaN(intercept) ||
		math.IsInf(slope, 0) || math.IsInf(intercept, 0) {
		return nil
	}

	cs := &model.CoefficientSet{Family: model.FamilyLinear, A: slope, B: intercept}
	cs.Accuracy = weightedR2(pts, cs.Eval)
	return cs
}

// fitPolynomial2 solves the weighted least-squares problem for
// S(t) = a·t² + b·t + c by QR on the √w-scaled design matrix.
func (f *Fitter) fitPolynomial2(pts []Point) *model.CoefficientSet {
	n := len(pts)
	design := mat.NewDense(n, 3, nil)
	rhs := mat.NewVecDense(n, nil)
	for i, p := range pts {
		sw := math.Sqrt(p.Weight)
		design.Set(i, 0, sw*p.Day*p.Day)
		design.Set(i, 1, sw*p.Day)
		design.Set(i, 2, sw)
		rhs.SetVec(i, sw*p.Rate)
	}

	var qr mat.QR
	qr.Factorize(design)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, rhs); err != nil {
		return nil
	}

	a, b, c := sol.AtVec(0), sol.AtVec(1), sol.AtVec(2)
	for _, x := range []float64{a, b, c} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	}

	cs := &model.CoefficientSet{Family: model.FamilyPolynomial2, A: a, B: b, C: c}
	cs.Accuracy = weightedR2(pts, cs.Eval)
	return cs
}

func (f *Fitter) boundsPenalty(a, b, c float64) float64 {
	const w = 1e6
	pen := 0.0
	if a < 0 {
		pen += w * a * a
	}
	if a > 1 {
		pen += w * (a - 1) * (a - 1)
	}
	if b < 0 {
		pen += w * b * b
	}
	if b > f.cfg.MaxB {
		pen += w * (b - f.cfg.MaxB) * (b - f.cfg.MaxB)
	}
	if eps := f.cfg.LinearEpsilon; math.Abs(c) > eps {
		over := math.Abs(c) - eps
		pen += w * over * over
	}
	return pen
}

// withinBounds allows a hair of slack past each bound for solver round-off.
func (f *Fitter) withinBounds(a, b, c float64) bool {
	const slack = 1e-6
	return a >= -slack && a <= 1+slack &&
		b > 0 && b <= f.cfg.MaxB+slack &&
		math.Abs(c) <= f.cfg.LinearEpsilon+slack
}

func totalWeight(pts []Point) float64 {
	sum := 0.0
	for _, p := range pts {
		sum += p.Weight
	}
	return sum
}

// weightedR2 computes 1 − SSres/SStot with both sums confidence-weighted and
// the total variance taken around the weighted mean. A zero-variance sample
// scores 1 when the model reproduces it exactly, 0 otherwise.
func weightedR2(pts []Point, predict func(t float64) float64) float64 {
	wsum := totalWeight(pts)
	if wsum <= 0 {
		return 0
	}
	mean := 0.0
	for _, p := range pts {
		mean += p.Weight * p.Rate
	}
	mean /= wsum

	ssRes, ssTot := 0.0, 0.0
	for _, p := range pts {
		r := p.Rate - predict(p.Day)
		d := p.Rate - mean
		ssRes += p.Weight * r * r
		ssTot += p.Weight * d * d
	}
	if ssTot == 0 {
		if ssRes < 1e-12 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

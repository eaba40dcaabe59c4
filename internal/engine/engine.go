// Package engine orchestrates one batch run: classify, validate, fit, fold
// into adaptive state, and forecast preliminary records.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seastock/shrinkage-cli/internal/classify"
	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/estimate"
	"github.com/seastock/shrinkage-cli/internal/fit"
	"github.com/seastock/shrinkage-cli/internal/forecast"
	"github.com/seastock/shrinkage-cli/internal/model"
	"github.com/seastock/shrinkage-cli/internal/validate"
)

// Engine processes record batches. Items are independent, so they are
// processed concurrently; records of one item are processed in input order.
type Engine struct {
	maxConcurrent int

	classifier *classify.Classifier
	validator  *validate.Validator
	fitter     *fit.Fitter
	estimator  *estimate.Estimator
	forecaster *forecast.Forecaster
}

// New wires an engine from configuration.
func New(cfg *config.Config) *Engine {
	est := estimate.New(cfg.Estimate)
	maxConcurrent := cfg.Engine.MaxConcurrentItems
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Engine{
		maxConcurrent: maxConcurrent,
		classifier:    classify.New(cfg.Classify.Rules),
		validator:     validate.New(cfg.Validate, cfg.Surplus),
		fitter:        fit.New(cfg.Fit),
		estimator:     est,
		forecaster:    forecast.New(est, cfg.Estimate.DefaultConfidence),
	}
}

// Estimator exposes the engine's adaptive state owner, for persistence and
// the HTTP API.
func (e *Engine) Estimator() *estimate.Estimator {
	return e.estimator
}

// Forecaster exposes the engine's forecaster for ad-hoc predictions outside
// a batch run.
func (e *Engine) Forecaster() *forecast.Forecaster {
	return e.forecaster
}

// Classifier exposes the engine's item classifier, so callers that only have
// an item name can resolve its category the same way a batch run would.
func (e *Engine) Classifier() *classify.Classifier {
	return e.classifier
}

// itemBatch carries one item's records with their positions in the input.
type itemBatch struct {
	item    string
	indexes []int
	records []model.RawRecord
}

// ProcessBatch runs the full pipeline over records as of now. Every input
// record yields exactly one outcome at its input position; per-record and
// per-item failures never abort the batch. The returned error is non-nil only
// when the context is canceled.
func (e *Engine) ProcessBatch(ctx context.Context, records []model.RawRecord, now time.Time) (*model.BatchResult, error) {
	result := &model.BatchResult{
		Records:   make([]model.RecordOutcome, len(records)),
		StartedAt: now,
	}

	batches := groupByItem(records)
	itemResults := make([]model.ItemResult, len(batches))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, b := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			itemResults[i] = e.processItem(b, result.Records, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Items = itemResults
	for _, rec := range result.Records {
		switch rec.Status {
		case model.OutcomeAccepted:
			result.Accepted++
		case model.OutcomeRejected:
			result.Rejected++
		case model.OutcomeManualReview:
			result.ManualReview++
		case model.OutcomeForecasted:
			result.Forecasted++
		}
	}
	result.FinishedAt = time.Now().UTC()

	zap.L().Info("batch processed",
		zap.Int("records", len(records)),
		zap.Int("items", len(batches)),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected),
		zap.Int("manual_review", result.ManualReview),
		zap.Int("forecasted", result.Forecasted))

	return result, nil
}

// processItem validates one item's records in order, fits the accepted
// observations, folds the fit into the adaptive state, and forecasts the
// preliminary records against the updated state. outcomes is shared across
// workers but each worker writes only its own item's positions.
func (e *Engine) processItem(b itemBatch, outcomes []model.RecordOutcome, now time.Time) model.ItemResult {
	cat := e.classifier.Classify(b.item)
	res := model.ItemResult{Item: b.item, Category: cat}

	var accepted []model.Observation
	var preliminary []struct {
		obs model.Observation
		idx int
	}

	for j, rec := range b.records {
		idx := b.indexes[j]
		obs, err := e.validator.Validate(rec)
		if err != nil {
			outcomes[idx] = rejectOutcome(b.item, err)
			continue
		}
		obs.Category = cat

		switch {
		case obs.Quality.ManualReviewRequired:
			outcomes[idx] = model.RecordOutcome{
				Item: b.item, Status: model.OutcomeManualReview, Observation: obs,
			}
		case obs.Quality.IsPreliminary:
			preliminary = append(preliminary, struct {
				obs model.Observation
				idx int
			}{*obs, idx})
		default:
			accepted = append(accepted, *obs)
			outcomes[idx] = model.RecordOutcome{
				Item: b.item, Status: model.OutcomeAccepted, Observation: obs,
			}
		}
	}

	e.fitItem(b.item, cat, accepted, now, &res)

	// Preliminary records are forecast after the fit so the prediction
	// reflects everything this batch taught us about the item.
	for _, p := range preliminary {
		balance := p.obs.InitialBalance + p.obs.CorrectedIncoming
		fc, err := e.forecaster.Forecast(b.item, cat, balance, p.obs.StorageDays, now, p.obs.Quality.InventoryConfidence)
		if err != nil {
			outcomes[p.idx] = rejectOutcome(b.item, err)
			continue
		}
		obs := p.obs
		outcomes[p.idx] = model.RecordOutcome{
			Item: b.item, Status: model.OutcomeForecasted, Observation: &obs, Forecast: &fc,
		}
	}

	return res
}

// fitItem fits the accepted observations and folds the result into the
// adaptive state. Too little data is a normal terminal state, not a failure.
func (e *Engine) fitItem(item string, cat model.Category, accepted []model.Observation, now time.Time, res *model.ItemResult) {
	if len(accepted) == 0 {
		res.InsufficientData = true
		return
	}

	pts := fit.PointsFromObservations(accepted)
	cs, err := e.fitter.Fit(pts, now)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientData) {
			res.InsufficientData = true
			zap.L().Debug("too few observations to fit",
				zap.String("item", item), zap.Int("observations", len(accepted)))
			return
		}
		zap.L().Warn("fit failed", zap.String("item", item), zap.Error(err))
		res.InsufficientData = true
		return
	}

	ver := e.fitter.Verify(*cs, pts)
	if ver.Status != model.VerificationAcceptable {
		zap.L().Warn("fit verification below acceptable",
			zap.String("item", item),
			zap.String("status", string(ver.Status)),
			zap.Float64("r_squared", ver.RSquared),
			zap.Float64("rmse", ver.RMSE))
	}

	st, err := e.estimator.Update(item, cat, *cs, meanConfidence(accepted), len(accepted), now)
	if err != nil {
		zap.L().Warn("state update failed", zap.String("item", item), zap.Error(err))
		return
	}

	res.Coefficients = cs
	res.State = &st
	res.Verification = &ver
}

// groupByItem splits records into per-item batches, preserving input order
// both across batches (first appearance) and within each batch.
func groupByItem(records []model.RawRecord) []itemBatch {
	index := make(map[string]int)
	var batches []itemBatch
	for i, rec := range records {
		pos, ok := index[rec.Item]
		if !ok {
			pos = len(batches)
			index[rec.Item] = pos
			batches = append(batches, itemBatch{item: rec.Item})
		}
		batches[pos].indexes = append(batches[pos].indexes, i)
		batches[pos].records = append(batches[pos].records, rec)
	}
	return batches
}

func rejectOutcome(item string, err error) model.RecordOutcome {
	reason := model.RejectInvalidRecord
	if errors.Is(err, model.ErrDegenerateRecord) {
		reason = model.RejectDegenerateRecord
	}
	return model.RecordOutcome{
		Item:   item,
		Status: model.OutcomeRejected,
		Reason: reason,
		Detail: err.Error(),
	}
}

// meanConfidence averages the inventory confidence of the observations that
// fed a fit; it scales how strongly the fit moves the adaptive state.
func meanConfidence(obs []model.Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range obs {
		sum += o.Quality.InventoryConfidence
	}
	return sum / float64(len(obs))
}

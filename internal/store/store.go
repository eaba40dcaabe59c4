// Package store persists batch runs, adaptive coefficient states, forecasts
// and the rejection audit trail. Two backends are provided: SQLite for
// single-node installs and Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// ErrBatchNotFound is returned by GetBatch for an unknown batch id.
var ErrBatchNotFound = eris.New("batch not found")

// BatchFilter specifies criteria for listing batch runs.
type BatchFilter struct {
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// BatchRun is one persisted engine run.
type BatchRun struct {
	ID           string             `json:"id"`
	Source       string             `json:"source"`
	Accepted     int                `json:"accepted"`
	Rejected     int                `json:"rejected"`
	ManualReview int                `json:"manual_review"`
	Forecasted   int                `json:"forecasted"`
	Result       *model.BatchResult `json:"result,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// Rejection is one audited record rejection.
type Rejection struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	Item      string    `json:"item"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence interface for the shrinkage engine.
type Store interface {
	// Batches. SaveBatch also records the run's rejections and forecasts.
	SaveBatch(ctx context.Context, source string, res *model.BatchResult) (string, error)
	GetBatch(ctx context.Context, id string) (*BatchRun, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]BatchRun, error)

	// Adaptive states
	UpsertStates(ctx context.Context, states []model.AdaptiveState) error
	LoadStates(ctx context.Context) ([]model.AdaptiveState, error)

	// Ad-hoc forecasts (outside a batch run)
	SaveForecast(ctx context.Context, batchID string, fc model.Forecast) error
	ListForecasts(ctx context.Context, limit int) ([]model.Forecast, error)

	// Audit
	ListRejections(ctx context.Context, limit int) ([]Rejection, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

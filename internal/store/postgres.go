package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/seastock/shrinkage-cli/internal/db"
	"github.com/seastock/shrinkage-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests to inject mocks.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	accepted      INTEGER NOT NULL,
	rejected      INTEGER NOT NULL,
	manual_review INTEGER NOT NULL,
	forecasted    INTEGER NOT NULL,
	result        JSONB,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS states (
	item              TEXT NOT NULL,
	category          TEXT NOT NULL,
	family            TEXT NOT NULL,
	a                 DOUBLE PRECISION NOT NULL,
	b                 DOUBLE PRECISION NOT NULL,
	c                 DOUBLE PRECISION NOT NULL,
	accuracy          DOUBLE PRECISION NOT NULL,
	point_count       INTEGER NOT NULL,
	fitted_at         TIMESTAMPTZ,
	observation_count INTEGER NOT NULL,
	fit_count         INTEGER NOT NULL,
	last_accuracy     DOUBLE PRECISION NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (item, category)
);

CREATE TABLE IF NOT EXISTS forecasts (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_id                TEXT,
	item                    TEXT NOT NULL,
	category                TEXT NOT NULL,
	elapsed_days            INTEGER NOT NULL,
	family                  TEXT NOT NULL,
	predicted_rate          DOUBLE PRECISION NOT NULL,
	predicted_shrinkage     DOUBLE PRECISION NOT NULL,
	predicted_final_balance DOUBLE PRECISION NOT NULL,
	confidence              DOUBLE PRECISION NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rejections (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_id   TEXT NOT NULL,
	item       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	detail     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batches_source ON batches(source);
CREATE INDEX IF NOT EXISTS idx_forecasts_item ON forecasts(item);
CREATE INDEX IF NOT EXISTS idx_rejections_batch_id ON rejections(batch_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, source string, res *model.BatchResult) (string, error) {
	id := uuid.New().String()

	resultJSON, err := json.Marshal(res)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal batch result")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO batches (id, source, accepted, rejected, manual_review, forecasted, result, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, source, res.Accepted, res.Rejected, res.ManualReview, res.Forecasted,
		resultJSON, res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert batch")
	}

	for _, rec := range res.Records {
		switch rec.Status {
		case model.OutcomeRejected:
			_, err = tx.Exec(ctx,
				`INSERT INTO rejections (id, batch_id, item, reason, detail) VALUES ($1, $2, $3, $4, $5)`,
				uuid.New().String(), id, rec.Item, string(rec.Reason), rec.Detail,
			)
		case model.OutcomeForecasted:
			if rec.Forecast != nil {
				fc := *rec.Forecast
				_, err = tx.Exec(ctx,
					`INSERT INTO forecasts (id, batch_id, item, category, elapsed_days, family,
					                        predicted_rate, predicted_shrinkage, predicted_final_balance, confidence)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
					uuid.New().String(), id, fc.Item, string(fc.Category), fc.ElapsedDays,
					string(fc.Family), fc.PredictedRate, fc.PredictedShrinkage,
					fc.PredictedFinalBalance, fc.Confidence,
				)
			}
		}
		if err != nil {
			return "", eris.Wrap(err, "postgres: insert batch record")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit batch")
	}
	return id, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*BatchRun, error) {
	var b BatchRun
	var resultJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, source, accepted, rejected, manual_review, forecasted, result, started_at, finished_at
		 FROM batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.Source, &b.Accepted, &b.Rejected, &b.ManualReview,
		&b.Forecasted, &resultJSON, &b.StartedAt, &b.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}

	if len(resultJSON) > 0 {
		b.Result = &model.BatchResult{}
		if err := json.Unmarshal(resultJSON, b.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch result")
		}
	}
	return &b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]BatchRun, error) {
	query := `SELECT id, source, accepted, rejected, manual_review, forecasted, started_at, finished_at
	          FROM batches WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []BatchRun
	for rows.Next() {
		var b BatchRun
		err := rows.Scan(&b.ID, &b.Source, &b.Accepted, &b.Rejected,
			&b.ManualReview, &b.Forecasted, &b.StartedAt, &b.FinishedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

// stateColumns is the column order used by the bulk state upsert.
var stateColumns = []string{
	"item", "category", "family", "a", "b", "c", "accuracy", "point_count",
	"fitted_at", "observation_count", "fit_count", "last_accuracy", "updated_at",
}

func (s *PostgresStore) UpsertStates(ctx context.Context, states []model.AdaptiveState) error {
	rows := make([][]any, 0, len(states))
	for _, st := range states {
		rows = append(rows, []any{
			st.Item, string(st.Category), string(st.Coefficients.Family),
			st.Coefficients.A, st.Coefficients.B, st.Coefficients.C,
			st.Coefficients.Accuracy, st.Coefficients.PointCount, st.Coefficients.FittedAt,
			st.ObservationCount, st.FitCount, st.LastAccuracy, st.UpdatedAt,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "states",
		Columns:      stateColumns,
		ConflictKeys: []string{"item", "category"},
	}, rows)
	return err
}

func (s *PostgresStore) LoadStates(ctx context.Context) ([]model.AdaptiveState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item, category, family, a, b, c, accuracy, point_count, fitted_at,
		        observation_count, fit_count, last_accuracy, updated_at
		 FROM states ORDER BY item, category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load states")
	}
	defer rows.Close()

	var states []model.AdaptiveState
	for rows.Next() {
		var st model.AdaptiveState
		var fittedAt *time.Time
		err := rows.Scan(&st.Item, &st.Category, &st.Coefficients.Family,
			&st.Coefficients.A, &st.Coefficients.B, &st.Coefficients.C,
			&st.Coefficients.Accuracy, &st.Coefficients.PointCount, &fittedAt,
			&st.ObservationCount, &st.FitCount, &st.LastAccuracy, &st.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan state")
		}
		if fittedAt != nil {
			st.Coefficients.FittedAt = *fittedAt
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "postgres: load states iterate")
}

func (s *PostgresStore) SaveForecast(ctx context.Context, batchID string, fc model.Forecast) error {
	var batch any
	if batchID != "" {
		batch = batchID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forecasts (id, batch_id, item, category, elapsed_days, family,
		                        predicted_rate, predicted_shrinkage, predicted_final_balance, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New().String(), batch, fc.Item, string(fc.Category), fc.ElapsedDays,
		string(fc.Family), fc.PredictedRate, fc.PredictedShrinkage,
		fc.PredictedFinalBalance, fc.Confidence,
	)
	return eris.Wrap(err, "postgres: insert forecast")
}

func (s *PostgresStore) ListForecasts(ctx context.Context, limit int) ([]model.Forecast, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT item, category, elapsed_days, family, predicted_rate, predicted_shrinkage,
		        predicted_final_balance, confidence
		 FROM forecasts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list forecasts")
	}
	defer rows.Close()

	var out []model.Forecast
	for rows.Next() {
		var fc model.Forecast
		var cat, family string
		if err := rows.Scan(&fc.Item, &cat, &fc.ElapsedDays, &family, &fc.PredictedRate,
			&fc.PredictedShrinkage, &fc.PredictedFinalBalance, &fc.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan forecast")
		}
		fc.Category = model.Category(cat)
		fc.Family = model.ModelFamily(family)
		out = append(out, fc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list forecasts iterate")
}

func (s *PostgresStore) ListRejections(ctx context.Context, limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, batch_id, item, reason, detail, created_at FROM rejections
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rejections")
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var detail *string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Item, &r.Reason, &detail, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rejection")
		}
		if detail != nil {
			r.Detail = *detail
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rejections iterate")
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	accepted      INTEGER NOT NULL,
	rejected      INTEGER NOT NULL,
	manual_review INTEGER NOT NULL,
	forecasted    INTEGER NOT NULL,
	result        TEXT,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS states (
	item              TEXT NOT NULL,
	category          TEXT NOT NULL,
	family            TEXT NOT NULL,
	a                 REAL NOT NULL,
	b                 REAL NOT NULL,
	c                 REAL NOT NULL,
	accuracy          REAL NOT NULL,
	point_count       INTEGER NOT NULL,
	fitted_at         DATETIME,
	observation_count INTEGER NOT NULL,
	fit_count         INTEGER NOT NULL,
	last_accuracy     REAL NOT NULL,
	updated_at        DATETIME NOT NULL,
	PRIMARY KEY (item, category)
);

CREATE TABLE IF NOT EXISTS forecasts (
	id                      TEXT PRIMARY KEY,
	batch_id                TEXT,
	item                    TEXT NOT NULL,
	category                TEXT NOT NULL,
	elapsed_days            INTEGER NOT NULL,
	family                  TEXT NOT NULL,
	predicted_rate          REAL NOT NULL,
	predicted_shrinkage     REAL NOT NULL,
	predicted_final_balance REAL NOT NULL,
	confidence              REAL NOT NULL,
	created_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rejections (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL,
	item       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	detail     TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_source ON batches(source);
CREATE INDEX IF NOT EXISTS idx_forecasts_item ON forecasts(item);
CREATE INDEX IF NOT EXISTS idx_rejections_batch_id ON rejections(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, source string, res *model.BatchResult) (string, error) {
	id := uuid.New().String()

	resultJSON, err := json.Marshal(res)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal batch result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, source, accepted, rejected, manual_review, forecasted, result, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, source, res.Accepted, res.Rejected, res.ManualReview, res.Forecasted,
		string(resultJSON), res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert batch")
	}

	now := time.Now().UTC()
	for _, rec := range res.Records {
		switch rec.Status {
		case model.OutcomeRejected:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO rejections (id, batch_id, item, reason, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), id, rec.Item, string(rec.Reason), rec.Detail, now,
			)
		case model.OutcomeForecasted:
			if rec.Forecast != nil {
				err = insertForecastTx(ctx, tx, id, *rec.Forecast, now)
			}
		}
		if err != nil {
			return "", eris.Wrap(err, "sqlite: insert batch record")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit batch")
	}
	return id, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*BatchRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, accepted, rejected, manual_review, forecasted, result, started_at, finished_at
		 FROM batches WHERE id = ?`, id)
	return scanBatch(row)
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]BatchRun, error) {
	query := `SELECT id, source, accepted, rejected, manual_review, forecasted, NULL, started_at, finished_at
	          FROM batches WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []BatchRun
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) UpsertStates(ctx context.Context, states []model.AdaptiveState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, st := range states {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO states (item, category, family, a, b, c, accuracy, point_count, fitted_at,
			                     observation_count, fit_count, last_accuracy, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (item, category) DO UPDATE SET
			   family = excluded.family, a = excluded.a, b = excluded.b, c = excluded.c,
			   accuracy = excluded.accuracy, point_count = excluded.point_count,
			   fitted_at = excluded.fitted_at, observation_count = excluded.observation_count,
			   fit_count = excluded.fit_count, last_accuracy = excluded.last_accuracy,
			   updated_at = excluded.updated_at`,
			st.Item, string(st.Category), string(st.Coefficients.Family),
			st.Coefficients.A, st.Coefficients.B, st.Coefficients.C,
			st.Coefficients.Accuracy, st.Coefficients.PointCount, st.Coefficients.FittedAt,
			st.ObservationCount, st.FitCount, st.LastAccuracy, st.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert state %s/%s", st.Item, st.Category)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit states")
}

func (s *SQLiteStore) LoadStates(ctx context.Context) ([]model.AdaptiveState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item, category, family, a, b, c, accuracy, point_count, fitted_at,
		        observation_count, fit_count, last_accuracy, updated_at
		 FROM states ORDER BY item, category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load states")
	}
	defer rows.Close()

	var states []model.AdaptiveState
	for rows.Next() {
		var st model.AdaptiveState
		var fittedAt sql.NullTime
		err := rows.Scan(&st.Item, &st.Category, &st.Coefficients.Family,
			&st.Coefficients.A, &st.Coefficients.B, &st.Coefficients.C,
			&st.Coefficients.Accuracy, &st.Coefficients.PointCount, &fittedAt,
			&st.ObservationCount, &st.FitCount, &st.LastAccuracy, &st.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state")
		}
		if fittedAt.Valid {
			st.Coefficients.FittedAt = fittedAt.Time
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "sqlite: load states iterate")
}

func (s *SQLiteStore) SaveForecast(ctx context.Context, batchID string, fc model.Forecast) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertForecastTx(ctx, tx, batchID, fc, time.Now().UTC()); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit forecast")
}

func (s *SQLiteStore) ListForecasts(ctx context.Context, limit int) ([]model.Forecast, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item, category, elapsed_days, family, predicted_rate, predicted_shrinkage,
		        predicted_final_balance, confidence
		 FROM forecasts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list forecasts")
	}
	defer rows.Close()

	var out []model.Forecast
	for rows.Next() {
		var fc model.Forecast
		var cat, family string
		if err := rows.Scan(&fc.Item, &cat, &fc.ElapsedDays, &family, &fc.PredictedRate,
			&fc.PredictedShrinkage, &fc.PredictedFinalBalance, &fc.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan forecast")
		}
		fc.Category = model.Category(cat)
		fc.Family = model.ModelFamily(family)
		out = append(out, fc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list forecasts iterate")
}

func (s *SQLiteStore) ListRejections(ctx context.Context, limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, item, reason, detail, created_at FROM rejections
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rejections")
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Item, &r.Reason, &detail, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rejection")
		}
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rejections iterate")
}

// helpers

func insertForecastTx(ctx context.Context, tx *sql.Tx, batchID string, fc model.Forecast, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO forecasts (id, batch_id, item, category, elapsed_days, family,
		                        predicted_rate, predicted_shrinkage, predicted_final_balance, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), nullIfEmpty(batchID), fc.Item, string(fc.Category), fc.ElapsedDays,
		string(fc.Family), fc.PredictedRate, fc.PredictedShrinkage, fc.PredictedFinalBalance,
		fc.Confidence, now,
	)
	return eris.Wrap(err, "sqlite: insert forecast")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*BatchRun, error) {
	var b BatchRun
	var resultJSON sql.NullString

	err := row.Scan(&b.ID, &b.Source, &b.Accepted, &b.Rejected, &b.ManualReview,
		&b.Forecasted, &resultJSON, &b.StartedAt, &b.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan batch")
	}

	if resultJSON.Valid {
		b.Result = &model.BatchResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), b.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch result")
		}
	}
	return &b, nil
}

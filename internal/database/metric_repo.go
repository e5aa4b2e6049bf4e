package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/qiniu/fedmon/internal/model"
)

// MetricRepo is the data access layer for computed derived series.
type MetricRepo struct {
	db *sql.DB
}

func NewMetricRepo(db *Database) *MetricRepo {
	return &MetricRepo{db: db.GetDB()}
}

// UpsertBatch writes computed points inside a transaction. Recomputation
// overwrites earlier values for the same date.
func (r *MetricRepo) UpsertBatch(ctx context.Context, points []model.MetricPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	const q = `
	INSERT INTO derived_metrics (metric_key, obs_date, value, computed_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (metric_key, obs_date) DO UPDATE SET
		value = EXCLUDED.value,
		computed_at = now()
	`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin metric upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range points {
		if _, err := tx.ExecContext(ctx, q, p.MetricKey, p.Date, p.Value); err != nil {
			return 0, fmt.Errorf("upsert metric %s@%s: %w", p.MetricKey, p.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit metric upsert: %w", err)
	}
	return len(points), nil
}

// Latest returns the most recent point for a derived series.
func (r *MetricRepo) Latest(ctx context.Context, metricKey string) (model.MetricPoint, bool, error) {
	const q = `
	SELECT metric_key, obs_date, value
	FROM derived_metrics
	WHERE metric_key = $1
	ORDER BY obs_date DESC
	LIMIT 1
	`

	var p model.MetricPoint
	err := r.db.QueryRowContext(ctx, q, metricKey).Scan(&p.MetricKey, &p.Date, &p.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MetricPoint{}, false, nil
	}
	if err != nil {
		return model.MetricPoint{}, false, fmt.Errorf("latest metric for %s: %w", metricKey, err)
	}
	return p, true, nil
}

// ListRange returns points for one derived series within [from, to], dates
// ascending.
func (r *MetricRepo) ListRange(ctx context.Context, metricKey string, from, to time.Time) ([]model.MetricPoint, error) {
	const q = `
	SELECT metric_key, obs_date, value
	FROM derived_metrics
	WHERE metric_key = $1 AND obs_date >= $2 AND obs_date <= $3
	ORDER BY obs_date
	`

	rows, err := r.db.QueryContext(ctx, q, metricKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for %s: %w", metricKey, err)
	}
	defer rows.Close()

	var out []model.MetricPoint
	for rows.Next() {
		var p model.MetricPoint
		if err := rows.Scan(&p.MetricKey, &p.Date, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan metric point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metric points: %w", err)
	}
	return out, nil
}

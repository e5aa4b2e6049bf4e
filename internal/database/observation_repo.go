package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/qiniu/fedmon/internal/model"
)

// ObservationRepo is the data access layer for raw series observations.
type ObservationRepo struct {
	db *sql.DB
}

func NewObservationRepo(db *Database) *ObservationRepo {
	return &ObservationRepo{db: db.GetDB()}
}

// UpsertBatch writes one fetch batch inside a transaction. Re-fetched dates
// overwrite the stored value, since the upstream revises history.
func (r *ObservationRepo) UpsertBatch(ctx context.Context, seriesKey string, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	const q = `
	INSERT INTO observations (series_key, obs_date, value, fetched_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (series_key, obs_date) DO UPDATE SET
		value = EXCLUDED.value,
		fetched_at = now()
	`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin observation upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range obs {
		if _, err := tx.ExecContext(ctx, q, seriesKey, o.Date, o.Value); err != nil {
			return 0, fmt.Errorf("upsert observation %s@%s: %w", seriesKey, o.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit observation upsert: %w", err)
	}
	return len(obs), nil
}

// LatestDate returns the newest stored date for a series, and whether any
// observation exists at all.
func (r *ObservationRepo) LatestDate(ctx context.Context, seriesKey string) (time.Time, bool, error) {
	const q = `SELECT max(obs_date) FROM observations WHERE series_key = $1`

	var d sql.NullTime
	if err := r.db.QueryRowContext(ctx, q, seriesKey).Scan(&d); err != nil {
		return time.Time{}, false, fmt.Errorf("latest date for %s: %w", seriesKey, err)
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	return d.Time, true, nil
}

// Latest returns the most recent observation for a series.
func (r *ObservationRepo) Latest(ctx context.Context, seriesKey string) (model.Observation, bool, error) {
	const q = `
	SELECT series_key, obs_date, value
	FROM observations
	WHERE series_key = $1
	ORDER BY obs_date DESC
	LIMIT 1
	`

	var o model.Observation
	err := r.db.QueryRowContext(ctx, q, seriesKey).Scan(&o.SeriesKey, &o.Date, &o.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Observation{}, false, nil
	}
	if err != nil {
		return model.Observation{}, false, fmt.Errorf("latest observation for %s: %w", seriesKey, err)
	}
	return o, true, nil
}

// ListRange returns observations for one series within [from, to], dates
// ascending.
func (r *ObservationRepo) ListRange(ctx context.Context, seriesKey string, from, to time.Time) ([]model.Observation, error) {
	const q = `
	SELECT series_key, obs_date, value
	FROM observations
	WHERE series_key = $1 AND obs_date >= $2 AND obs_date <= $3
	ORDER BY obs_date
	`

	rows, err := r.db.QueryContext(ctx, q, seriesKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations for %s: %w", seriesKey, err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.SeriesKey, &o.Date, &o.Value); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return out, nil
}

// ListSince returns every stored observation on or after since, grouped by
// series key, dates ascending within each series.
func (r *ObservationRepo) ListSince(ctx context.Context, since time.Time) (map[string][]model.Observation, error) {
	const q = `
	SELECT series_key, obs_date, value
	FROM observations
	WHERE obs_date >= $1
	ORDER BY series_key, obs_date
	`

	rows, err := r.db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Observation)
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.SeriesKey, &o.Date, &o.Value); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out[o.SeriesKey] = append(out[o.SeriesKey], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return out, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qiniu/fedmon/internal/model"
)

// FetchRunRepo records the outcome of each upstream fetch attempt.
type FetchRunRepo struct {
	db *sql.DB
}

func NewFetchRunRepo(db *Database) *FetchRunRepo {
	return &FetchRunRepo{db: db.GetDB()}
}

// Insert appends one fetch-run record.
func (r *FetchRunRepo) Insert(ctx context.Context, run *model.FetchRun) error {
	const q = `
	INSERT INTO fetch_runs (id, series_key, status, rows_fetched, error_message, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, q, run.ID, run.SeriesKey, run.Status, run.RowsFetched, run.ErrorMessage, run.FetchedAt)
	if err != nil {
		return fmt.Errorf("insert fetch run for %s: %w", run.SeriesKey, err)
	}
	return nil
}

// ListRecent returns the newest fetch runs, most recent first.
func (r *FetchRunRepo) ListRecent(ctx context.Context, limit int) ([]model.FetchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
	SELECT id, series_key, status, rows_fetched, error_message, fetched_at
	FROM fetch_runs
	ORDER BY fetched_at DESC
	LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch runs: %w", err)
	}
	defer rows.Close()

	var out []model.FetchRun
	for rows.Next() {
		var fr model.FetchRun
		if err := rows.Scan(&fr.ID, &fr.SeriesKey, &fr.Status, &fr.RowsFetched, &fr.ErrorMessage, &fr.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fetch run: %w", err)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetch runs: %w", err)
	}
	return out, nil
}

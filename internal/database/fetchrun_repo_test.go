package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/fedmon/internal/model"
)

func TestFetchRunInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFetchRunRepo(NewFromDB(db))

	run := &model.FetchRun{
		ID:          uuid.NewString(),
		SeriesKey:   "effr",
		Status:      model.FetchStatusSuccess,
		RowsFetched: 7,
		FetchedAt:   time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fetch_runs")).
		WithArgs(run.ID, "effr", "success", 7, "", run.FetchedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRunListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFetchRunRepo(NewFromDB(db))

	at := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "series_key", "status", "rows_fetched", "error_message", "fetched_at"}).
		AddRow("a0000000-0000-0000-0000-000000000001", "effr", "success", 7, "", at).
		AddRow("a0000000-0000-0000-0000-000000000002", "rrp", "error", 0, "fred: status 500", at.Add(-time.Hour))
	mock.ExpectQuery("SELECT id, series_key, status").
		WithArgs(20).
		WillReturnRows(rows)

	got, err := repo.ListRecent(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.FetchStatusError, got[1].Status)
	assert.Equal(t, "fred: status 500", got[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRunListRecentDefaultLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFetchRunRepo(NewFromDB(db))

	mock.ExpectQuery("SELECT id, series_key, status").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "series_key", "status", "rows_fetched", "error_message", "fetched_at"}))

	got, err := repo.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

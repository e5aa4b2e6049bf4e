// Package service runs the ingestion side: pulling configured series from the
// upstream API into storage and keeping derived metrics current.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/ingest/fred"
	"github.com/qiniu/fedmon/internal/model"
	"github.com/qiniu/fedmon/internal/telemetry"
)

// SeriesAPI is the upstream data source.
type SeriesAPI interface {
	Observations(ctx context.Context, seriesID string, start, end time.Time) ([]fred.Observation, error)
}

// ObservationStore persists fetched observations.
type ObservationStore interface {
	UpsertBatch(ctx context.Context, seriesKey string, obs []model.Observation) (int, error)
	LatestDate(ctx context.Context, seriesKey string) (time.Time, bool, error)
}

// FetchRunStore records fetch outcomes.
type FetchRunStore interface {
	Insert(ctx context.Context, run *model.FetchRun) error
}

// Fetcher pulls the configured series into storage. Every attempt, good or
// bad, leaves a fetch_runs row behind.
type Fetcher struct {
	api          SeriesAPI
	obs          ObservationStore
	runs         FetchRunStore
	mon          *config.MonitorConfig
	backfillDays int
	pause        time.Duration
	nowFn        func() time.Time
}

func NewFetcher(api SeriesAPI, obs ObservationStore, runs FetchRunStore, mon *config.MonitorConfig, backfillDays int) *Fetcher {
	if backfillDays <= 0 {
		backfillDays = 30
	}
	return &Fetcher{
		api:          api,
		obs:          obs,
		runs:         runs,
		mon:          mon,
		backfillDays: backfillDays,
		pause:        100 * time.Millisecond,
		nowFn:        time.Now,
	}
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FetchSeries fetches one series from start through today and stores the
// result.
func (f *Fetcher) FetchSeries(ctx context.Context, def config.SeriesDef, start time.Time) (int, error) {
	began := f.nowFn()
	end := dayOf(began.UTC())

	raw, err := f.api.Observations(ctx, def.SeriesID, start, end)
	if err != nil {
		f.recordRun(ctx, def.Key, model.FetchStatusError, 0, err.Error())
		return 0, err
	}

	batch := make([]model.Observation, 0, len(raw))
	for _, o := range raw {
		batch = append(batch, model.Observation{SeriesKey: def.Key, Date: o.Date, Value: o.Value})
	}
	n, err := f.obs.UpsertBatch(ctx, def.Key, batch)
	if err != nil {
		f.recordRun(ctx, def.Key, model.FetchStatusError, 0, err.Error())
		return 0, err
	}

	f.recordRun(ctx, def.Key, model.FetchStatusSuccess, n, "")
	telemetry.ObservationsUpserted.WithLabelValues(def.Key).Add(float64(n))
	telemetry.FetchDuration.WithLabelValues(def.Key).Observe(f.nowFn().Sub(began).Seconds())
	telemetry.LastFetchSuccess.WithLabelValues(def.Key).SetToCurrentTime()

	log.Debug().Str("series", def.Key).Int("rows", n).
		Str("start", start.Format("2006-01-02")).
		Msg("series fetched")
	return n, nil
}

func (f *Fetcher) recordRun(ctx context.Context, key, status string, rows int, msg string) {
	telemetry.FetchRequests.WithLabelValues(key, status).Inc()
	run := &model.FetchRun{
		ID:           uuid.NewString(),
		SeriesKey:    key,
		Status:       status,
		RowsFetched:  rows,
		ErrorMessage: msg,
		FetchedAt:    f.nowFn().UTC(),
	}
	if err := f.runs.Insert(ctx, run); err != nil {
		log.Warn().Err(err).Str("series", key).Msg("failed to record fetch run")
	}
}

// FetchAll walks every configured series incrementally: from the day after
// the last stored observation, or backfillDays back on first contact. A
// failing series is logged and skipped so the others still update. Returns
// rows stored per series key.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]int, error) {
	today := dayOf(f.nowFn().UTC())
	counts := make(map[string]int, len(f.mon.Series))

	for i, def := range f.mon.Series {
		if i > 0 {
			if err := f.politePause(ctx); err != nil {
				return counts, err
			}
		}

		start, err := f.startDate(ctx, def.Key)
		if err != nil {
			log.Error().Err(err).Str("series", def.Key).Msg("cannot determine fetch start")
			continue
		}
		if start.After(today) {
			log.Debug().Str("series", def.Key).Msg("series already current")
			counts[def.Key] = 0
			continue
		}

		n, err := f.FetchSeries(ctx, def, start)
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			log.Error().Err(err).Str("series", def.Key).Msg("series fetch failed")
			continue
		}
		counts[def.Key] = n
	}
	return counts, nil
}

// FetchWindow refetches every series from the given start date, picking up
// upstream revisions inside the window.
func (f *Fetcher) FetchWindow(ctx context.Context, start time.Time) (map[string]int, error) {
	counts := make(map[string]int, len(f.mon.Series))
	for i, def := range f.mon.Series {
		if i > 0 {
			if err := f.politePause(ctx); err != nil {
				return counts, err
			}
		}
		n, err := f.FetchSeries(ctx, def, dayOf(start))
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			log.Error().Err(err).Str("series", def.Key).Msg("series refetch failed")
			continue
		}
		counts[def.Key] = n
	}
	return counts, nil
}

// Backfill refetches the full history window of every series.
func (f *Fetcher) Backfill(ctx context.Context, years int) (map[string]int, error) {
	if years <= 0 {
		years = 1
	}
	start := dayOf(f.nowFn().UTC()).AddDate(0, 0, -years*365)
	return f.FetchWindow(ctx, start)
}

func (f *Fetcher) startDate(ctx context.Context, key string) (time.Time, error) {
	last, ok, err := f.obs.LatestDate(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return dayOf(last).AddDate(0, 0, 1), nil
	}
	return dayOf(f.nowFn().UTC()).AddDate(0, 0, -f.backfillDays), nil
}

// politePause spaces out upstream calls a little beyond what the rate
// limiter requires.
func (f *Fetcher) politePause(ctx context.Context) error {
	if f.pause <= 0 {
		return nil
	}
	t := time.NewTimer(f.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/metrics"
	"github.com/qiniu/fedmon/internal/telemetry"
)

type Deps struct {
	Fetcher          *Fetcher
	Calc             *metrics.Calculator
	Interval         time.Duration
	BackfillInterval time.Duration
	BackfillDays     int
	Lookback         time.Duration
}

// StartScheduler runs the periodic incremental fetch plus metric recompute.
// The first cycle runs immediately so a fresh deployment has data before the
// first tick.
func StartScheduler(ctx context.Context, deps Deps) {
	if deps.Interval <= 0 {
		deps.Interval = 6 * time.Hour
	}
	if deps.Lookback <= 0 {
		deps.Lookback = 400 * 24 * time.Hour
	}
	t := time.NewTicker(deps.Interval)
	defer t.Stop()

	if err := runOnce(ctx, deps); err != nil {
		log.Error().Err(err).Msg("fetch cycle failed on startup")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := runOnce(ctx, deps); err != nil {
				log.Error().Err(err).Msg("fetch cycle failed")
			}
		}
	}
}

func runOnce(ctx context.Context, deps Deps) error {
	counts, err := deps.Fetcher.FetchAll(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	log.Info().Int("series", len(counts)).Int("rows", total).Msg("fetch cycle complete")

	if deps.Calc == nil {
		return nil
	}
	frame, err := deps.Calc.ComputeAll(ctx, deps.Lookback)
	if err != nil {
		return fmt.Errorf("recompute metrics: %w", err)
	}
	stored, err := deps.Calc.StoreDerived(ctx, frame)
	if err != nil {
		return fmt.Errorf("store derived metrics: %w", err)
	}
	telemetry.DerivedPointsStored.Add(float64(stored))
	log.Debug().Int("points", stored).Msg("derived metrics stored")
	return nil
}

// StartBackfillScheduler refetches a trailing revision window on a long
// cadence, since the upstream restates recent history.
func StartBackfillScheduler(ctx context.Context, deps Deps) {
	if deps.BackfillInterval <= 0 {
		deps.BackfillInterval = 168 * time.Hour
	}
	if deps.BackfillDays <= 0 {
		deps.BackfillDays = 14
	}
	t := time.NewTicker(deps.BackfillInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now().UTC().AddDate(0, 0, -deps.BackfillDays)
			if _, err := deps.Fetcher.FetchWindow(ctx, start); err != nil {
				log.Error().Err(err).Msg("revision refetch failed")
			}
		}
	}
}

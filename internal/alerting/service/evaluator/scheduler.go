package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/metrics"
)

type Deps struct {
	Evaluator *Evaluator
	Calc      *metrics.Calculator
	Interval  time.Duration
	Lookback  time.Duration
}

// StartScheduler evaluates all rules on a fixed cadence. Each cycle rebuilds
// the metric frame from storage first, so the evaluator always sees the data
// the most recent fetch produced. The first cycle runs immediately so a
// restart re-arms alert states without waiting a tick.
func StartScheduler(ctx context.Context, deps Deps) {
	if deps.Interval <= 0 {
		deps.Interval = time.Hour
	}
	if deps.Lookback <= 0 {
		deps.Lookback = 400 * 24 * time.Hour
	}
	t := time.NewTicker(deps.Interval)
	defer t.Stop()

	runCycle(ctx, deps)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runCycle(ctx, deps)
		}
	}
}

// RunCycle rebuilds the metric frame and evaluates every rule once. The
// manual check endpoint shares this path with the scheduler.
func RunCycle(ctx context.Context, deps Deps) (CycleStats, error) {
	if deps.Lookback <= 0 {
		deps.Lookback = 400 * 24 * time.Hour
	}
	frame, err := deps.Calc.ComputeAll(ctx, deps.Lookback)
	if err != nil {
		return CycleStats{}, fmt.Errorf("recompute metrics: %w", err)
	}

	names := deps.Evaluator.Mon.MetricNames()
	deps.Evaluator.ContextFn = func(key string) (map[string]float64, time.Time) {
		return metrics.LatestContext(frame, key, names)
	}

	return deps.Evaluator.RunOnce(ctx)
}

func runCycle(ctx context.Context, deps Deps) {
	stats, err := RunCycle(ctx, deps)
	if err != nil {
		log.Error().Err(err).Msg("alert evaluation cycle failed")
		return
	}
	log.Info().
		Int("evaluated", stats.Evaluated).
		Int("breaches", stats.Breaches).
		Int("transitions", stats.Transitions).
		Int("unknown", stats.Unknown).
		Int("notified", stats.Notified).
		Msg("alert evaluation cycle complete")
}

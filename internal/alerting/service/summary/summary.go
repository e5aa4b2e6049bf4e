// Package summary renders and delivers the daily digest: significant one-day
// moves across the monitored metrics plus any alerts currently in breach.
package summary

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/alerting/service/notifier"
	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/metrics"
)

// StateLister is the slice of the alert store the digest needs.
type StateLister interface {
	ListStates(ctx context.Context) ([]*ruleset.AlertState, error)
}

type Builder struct {
	Calc     *metrics.Calculator
	Store    StateLister
	Mon      *config.MonitorConfig
	Lookback time.Duration
	Now      func() time.Time
}

type mover struct {
	label string
	unit  string
	value float64
	d1    float64
}

// Build renders the digest text. The second return reports whether the digest
// carries anything worth delivering: a significant mover or an active breach.
//
// Movers are the panel's key metrics whose one-day change clears the per-unit
// significance threshold; metrics without a defined d1 value never qualify.
func (b *Builder) Build(ctx context.Context) (string, bool, error) {
	lookback := b.Lookback
	if lookback <= 0 {
		lookback = 400 * 24 * time.Hour
	}
	frame, err := b.Calc.ComputeAll(ctx, lookback)
	if err != nil {
		return "", false, fmt.Errorf("recompute metrics: %w", err)
	}

	keys := b.Mon.Panel.KeyMetrics
	if len(keys) == 0 {
		keys = b.Mon.AllKeys()
	}

	var movers []mover
	for _, key := range keys {
		i, ok := frame.LastDefined(key)
		if !ok {
			continue
		}
		d1 := frame.ValueAt(key+"_d1", i)
		if math.IsNaN(d1) {
			continue
		}
		label, unit := b.Mon.DisplayFor(key)
		if math.Abs(d1) < significanceThreshold(unit) {
			continue
		}
		movers = append(movers, mover{label: label, unit: unit, value: frame.ValueAt(key, i), d1: d1})
	}

	// an unreachable state store degrades the digest instead of sinking it
	var breaches []*ruleset.AlertState
	states, err := b.Store.ListStates(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("alert states unavailable for daily summary")
	} else {
		for _, st := range states {
			if st.State == ruleset.StateBreach {
				breaches = append(breaches, st)
			}
		}
		sort.Slice(breaches, func(i, j int) bool {
			if breaches[i].Severity != breaches[j].Severity {
				return severityRank(breaches[i].Severity) < severityRank(breaches[j].Severity)
			}
			return breaches[i].MetricKey < breaches[j].MetricKey
		})
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	var sb strings.Builder
	sb.WriteString("📊 *Fed Monitor Daily Summary*\n")
	fmt.Fprintf(&sb, "*Date:* %s\n\n", now().UTC().Format("2006-01-02"))

	if len(movers) == 0 {
		sb.WriteString("_No significant changes today._\n")
	} else {
		sb.WriteString("*Significant Changes:*\n")
		for _, m := range movers {
			fmt.Fprintf(&sb, "• %s: %s (%s)\n", m.label, notifier.FormatValue(m.value, m.unit), signedChange(m.d1, m.unit))
		}
	}

	if len(breaches) > 0 {
		sb.WriteString("\n*Active Alerts:*\n")
		for _, st := range breaches {
			label, unit := b.Mon.DisplayFor(st.MetricKey)
			fmt.Fprintf(&sb, "%s %s: %s (%s)\n",
				notifier.SeverityEmoji(st.Severity), label, st.Rule, notifier.FormatValue(st.LastValue, unit))
		}
	}

	return strings.TrimRight(sb.String(), "\n"), len(movers) > 0 || len(breaches) > 0, nil
}

// significanceThreshold is the minimum |1-day change| per display unit that
// counts as a notable move.
func significanceThreshold(unit string) float64 {
	switch unit {
	case "percent":
		return 0.02
	case "bps":
		return 2
	case "usd_billions":
		return 10
	case "usd_millions":
		return 10000
	default:
		return 0.01
	}
}

func signedChange(v float64, unit string) string {
	s := notifier.FormatValue(v, unit)
	if v > 0 {
		s = "+" + s
	}
	return s
}

func severityRank(severity string) int {
	switch severity {
	case config.SeverityCritical:
		return 0
	case config.SeverityWarning:
		return 1
	default:
		return 2
	}
}

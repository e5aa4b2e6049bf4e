package summary

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/metrics"
	"github.com/qiniu/fedmon/internal/model"
)

type memSource struct {
	obs map[string][]model.Observation
}

func (m *memSource) ListSince(ctx context.Context, since time.Time) (map[string][]model.Observation, error) {
	return m.obs, nil
}

type memStates struct {
	states []*ruleset.AlertState
	err    error
}

func (m *memStates) ListStates(ctx context.Context) ([]*ruleset.AlertState, error) {
	return m.states, m.err
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func obs(date string, v float64) model.Observation {
	return model.Observation{Date: day(date), Value: v}
}

func digestMonitor() *config.MonitorConfig {
	return &config.MonitorConfig{
		Series: []config.SeriesDef{
			{Key: "effr", SeriesID: "EFFR", Label: "Effective Fed Funds Rate", Unit: "percent"},
			{Key: "rrp", SeriesID: "RRPONTSYD", Label: "ON RRP Total", Unit: "usd_billions"},
		},
		Metrics: config.MetricsDef{
			Changes: []config.ChangeDef{
				{Name: "d1", Type: config.ChangeDiff, Periods: 1},
			},
		},
		Panel: config.PanelDef{
			KeyMetrics: []string{"effr", "rrp"},
		},
	}
}

func newTestBuilder(src *memSource, states *memStates) *Builder {
	mon := digestMonitor()
	return &Builder{
		Calc:  metrics.NewCalculator(src, nil, mon),
		Store: states,
		Mon:   mon,
		Now:   func() time.Time { return day("2025-06-06") },
	}
}

func TestBuildDigestSignificantMover(t *testing.T) {
	src := &memSource{obs: map[string][]model.Observation{
		// 0.01 move stays under the percent threshold
		"effr": {obs("2025-06-05", 4.33), obs("2025-06-06", 4.34)},
		// 24.5B drop clears the usd_billions threshold
		"rrp": {obs("2025-06-05", 150.0), obs("2025-06-06", 125.5)},
	}}

	b := newTestBuilder(src, &memStates{})
	text, significant, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.True(t, significant)
	assert.Contains(t, text, "📊 *Fed Monitor Daily Summary*")
	assert.Contains(t, text, "*Date:* 2025-06-06")
	assert.Contains(t, text, "• ON RRP Total: $125.5B ($-24.5B)")
	assert.NotContains(t, text, "Effective Fed Funds Rate")
	assert.NotContains(t, text, "Active Alerts")
}

func TestBuildDigestQuietDay(t *testing.T) {
	src := &memSource{obs: map[string][]model.Observation{
		"effr": {obs("2025-06-05", 4.33), obs("2025-06-06", 4.34)},
		"rrp":  {obs("2025-06-05", 150.0), obs("2025-06-06", 151.0)},
	}}

	b := newTestBuilder(src, &memStates{})
	text, significant, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.False(t, significant)
	assert.Contains(t, text, "_No significant changes today._")
}

func TestBuildDigestActiveAlerts(t *testing.T) {
	src := &memSource{obs: map[string][]model.Observation{
		"effr": {obs("2025-06-05", 4.33), obs("2025-06-06", 4.34)},
	}}
	states := &memStates{states: []*ruleset.AlertState{
		{AlertID: "rrp:warning:1", MetricKey: "rrp", Severity: "warning",
			Rule: "value < 100", State: ruleset.StateBreach, LastValue: 92.1},
		{AlertID: "effr:critical:2", MetricKey: "effr", Severity: "critical",
			Rule: "value > 4", State: ruleset.StateBreach, LastValue: 4.34},
		{AlertID: "effr:info:3", MetricKey: "effr", Severity: "info",
			Rule: "value > 0", State: ruleset.StateOK, LastValue: 4.34},
	}}

	b := newTestBuilder(src, states)
	text, significant, err := b.Build(context.Background())
	require.NoError(t, err)

	// a quiet tape with an active breach is still worth delivering
	assert.True(t, significant)
	assert.Contains(t, text, "*Active Alerts:*")
	assert.Contains(t, text, "🔴 Effective Fed Funds Rate: value > 4 (4.34%)")
	assert.Contains(t, text, "🟠 ON RRP Total: value < 100 ($92.1B)")
	assert.NotContains(t, text, "value > 0") // ok states excluded

	// critical sorts ahead of warning
	crit := strings.Index(text, "🔴")
	warn := strings.Index(text, "🟠")
	require.GreaterOrEqual(t, crit, 0)
	require.GreaterOrEqual(t, warn, 0)
	assert.Less(t, crit, warn)
}

func TestBuildDigestStatesUnavailable(t *testing.T) {
	src := &memSource{obs: map[string][]model.Observation{
		"rrp": {obs("2025-06-05", 150.0), obs("2025-06-06", 125.5)},
	}}
	states := &memStates{err: context.DeadlineExceeded}

	b := newTestBuilder(src, states)
	text, significant, err := b.Build(context.Background())
	require.NoError(t, err)

	// store trouble degrades the digest, it does not sink it
	assert.True(t, significant)
	assert.Contains(t, text, "ON RRP Total")
	assert.NotContains(t, text, "Active Alerts")
}

func TestSignificanceThresholds(t *testing.T) {
	tests := []struct {
		unit string
		want float64
	}{
		{"percent", 0.02},
		{"bps", 2},
		{"usd_billions", 10},
		{"usd_millions", 10000},
		{"ratio", 0.01},
		{"", 0.01},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, significanceThreshold(tt.unit), tt.unit)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMonitor() *MonitorConfig {
	return &MonitorConfig{
		Series: []SeriesDef{
			{Key: "effr", SeriesID: "EFFR", Label: "Effective Federal Funds Rate", Unit: "percent"},
			{Key: "iorb", SeriesID: "IORB", Label: "Interest on Reserve Balances", Unit: "percent"},
			{Key: "rrp", SeriesID: "RRPONTSYD", Label: "Overnight Reverse Repo", Unit: "usd_billions"},
			{Key: "wei", SeriesID: "WEI", Label: "Weekly Economic Index", Unit: "index", Frequency: FrequencyWeekly},
		},
		Derived: []DerivedDef{
			{Key: "effr_iorb_spread", Expr: "(effr - iorb) * 100", Label: "EFFR-IORB Spread", Unit: "bps"},
		},
		Metrics: MetricsDef{
			Changes: []ChangeDef{
				{Name: "d1", Type: ChangeDiff, Periods: 1},
				{Name: "d5", Type: ChangeDiff, Periods: 5},
				{Name: "pct1", Type: ChangePct, Periods: 1},
			},
			Rolling: []RollingDef{
				{Name: "ma20", Type: RollingMean, Window: 20},
				{Name: "std20", Type: RollingStd, Window: 20},
				{Name: "zscore20", Type: RollingZ, Window: 20},
			},
		},
		Alerts: []AlertDef{
			{Metric: "effr_iorb_spread", Rule: "value > -5", Severity: SeverityCritical, Note: "EFFR near top of corridor", Category: "rates"},
			{Metric: "rrp", Rule: "d1 < -50 and value < 400", Severity: SeverityWarning, Note: "fast RRP drain", Category: "liquidity"},
		},
		Panel: PanelDef{
			KeyMetrics: []string{"effr", "iorb", "effr_iorb_spread", "rrp"},
			Charts: []ChartDef{
				{Title: "Policy Rates", Kind: "line", Unit: "percent", Series: []string{"effr", "iorb"}},
				{Title: "ON RRP", Series: []string{"rrp"}},
			},
			Tables: []TableDef{
				{Title: "Rates", Series: []string{"effr", "iorb", "effr_iorb_spread"}, Columns: []string{"value", "d1", "d5", "ma20", "zscore20"}},
			},
		},
	}
}

func TestMonitorValidateOK(t *testing.T) {
	m := validMonitor()
	require.NoError(t, m.Validate())

	// frequency defaulted on series that omit it
	assert.Equal(t, FrequencyDaily, m.Series[0].Frequency)
	assert.Equal(t, FrequencyWeekly, m.Series[3].Frequency)
}

func TestMonitorValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *MonitorConfig)
		wantErr string
	}{
		{"no series", func(m *MonitorConfig) { m.Series = nil }, "no series"},
		{"invalid series key", func(m *MonitorConfig) { m.Series[0].Key = "EFFR" }, "invalid key"},
		{"duplicate series key", func(m *MonitorConfig) { m.Series[1].Key = "effr" }, "duplicate key"},
		{"missing series_id", func(m *MonitorConfig) { m.Series[0].SeriesID = "" }, "series_id is required"},
		{"unknown frequency", func(m *MonitorConfig) { m.Series[0].Frequency = "monthly" }, "unknown frequency"},
		{"unknown unit", func(m *MonitorConfig) { m.Series[0].Unit = "furlongs" }, "unknown unit"},
		{"derived shadows series", func(m *MonitorConfig) { m.Derived[0].Key = "effr" }, "duplicate key"},
		{"derived missing expr", func(m *MonitorConfig) { m.Derived[0].Expr = "" }, "expr is required"},
		{"derived syntax error", func(m *MonitorConfig) { m.Derived[0].Expr = "effr -" }, "derived"},
		{"derived unknown series", func(m *MonitorConfig) { m.Derived[0].Expr = "effr - sofr" }, "sofr"},
		{
			"derived may not reference derived",
			func(m *MonitorConfig) {
				m.Derived = append(m.Derived, DerivedDef{Key: "spread_x2", Expr: "effr_iorb_spread * 2"})
			},
			"effr_iorb_spread",
		},
		{"unknown change type", func(m *MonitorConfig) { m.Metrics.Changes[0].Type = "delta" }, "unknown change type"},
		{"zero periods", func(m *MonitorConfig) { m.Metrics.Changes[0].Periods = 0 }, "periods"},
		{"unknown rolling type", func(m *MonitorConfig) { m.Metrics.Rolling[0].Type = "median" }, "unknown rolling type"},
		{"std window too small", func(m *MonitorConfig) { m.Metrics.Rolling[1].Window = 1 }, "window"},
		{
			"duplicate metric name",
			func(m *MonitorConfig) { m.Metrics.Rolling[0].Name = "d1" },
			"duplicate metric name",
		},
		{"alert unknown metric", func(m *MonitorConfig) { m.Alerts[0].Metric = "sofr" }, "unknown metric"},
		{"alert unknown severity", func(m *MonitorConfig) { m.Alerts[0].Severity = "page" }, "unknown severity"},
		{"alert missing rule", func(m *MonitorConfig) { m.Alerts[0].Rule = "" }, "rule is required"},
		{"alert syntax error", func(m *MonitorConfig) { m.Alerts[0].Rule = "value >" }, "alert"},
		{
			"alert rule may not reference other series",
			func(m *MonitorConfig) { m.Alerts[0].Rule = "effr > 4" },
			"effr",
		},
		{"panel unknown key metric", func(m *MonitorConfig) { m.Panel.KeyMetrics = []string{"sofr"} }, "unknown key"},
		{"chart unknown kind", func(m *MonitorConfig) { m.Panel.Charts[0].Kind = "pie" }, "unknown kind"},
		{"chart empty series", func(m *MonitorConfig) { m.Panel.Charts[0].Series = nil }, "no series"},
		{"chart unknown series", func(m *MonitorConfig) { m.Panel.Charts[0].Series = []string{"sofr"} }, "unknown key"},
		{"table unknown column", func(m *MonitorConfig) { m.Panel.Tables[0].Columns = []string{"median"} }, "unknown column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMonitor()
			tt.mutate(m)
			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMonitor(t *testing.T) {
	doc := `
series:
  - key: effr
    series_id: EFFR
    label: Effective Federal Funds Rate
    unit: percent
  - key: wei
    series_id: WEI
    label: Weekly Economic Index
    unit: index
    frequency: weekly
derived:
  - key: effr_x100
    expr: effr * 100
    unit: bps
metrics:
  changes:
    - {name: d1, type: diff, periods: 1}
  rolling:
    - {name: ma5, type: rolling_mean, window: 5}
alerts:
  - metric: effr
    rule: value > 5
    severity: warning
panel:
  key_metrics: [effr]
  charts:
    - title: EFFR
      series: [effr]
  tables:
    - title: Overview
      series: [effr, wei]
      columns: [value, d1]
`
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := LoadMonitor(path)
	require.NoError(t, err)
	assert.Len(t, m.Series, 2)
	assert.Equal(t, "EFFR", m.Series[0].SeriesID)
	assert.Equal(t, FrequencyDaily, m.Series[0].Frequency)
	assert.Equal(t, []string{"effr", "wei", "effr_x100"}, m.AllKeys())
	assert.Equal(t, []string{"d1", "ma5"}, m.MetricNames())

	label, unit := m.DisplayFor("effr")
	assert.Equal(t, "Effective Federal Funds Rate", label)
	assert.Equal(t, "percent", unit)

	label, unit = m.DisplayFor("nonexistent")
	assert.Equal(t, "nonexistent", label)
	assert.Equal(t, "", unit)

	assert.Equal(t, FrequencyWeekly, m.FrequencyFor("wei"))
	assert.Equal(t, FrequencyDaily, m.FrequencyFor("effr_x100"))
}

func TestLoadMonitorMissingFile(t *testing.T) {
	_, err := LoadMonitor(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMonitorBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("series: [key: {"), 0o644))
	_, err := LoadMonitor(path)
	require.Error(t, err)
}

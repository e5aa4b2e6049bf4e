package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/qiniu/fedmon/internal/expreval"
)

// Series frequencies.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Change metric types.
const (
	ChangeDiff = "diff"
	ChangePct  = "pct_change"
)

// Rolling metric types.
const (
	RollingMean = "rolling_mean"
	RollingStd  = "rolling_std"
	RollingZ    = "zscore"
)

// MonitorConfig is the monitor definition document: which series to watch,
// which derived series and metrics to compute from them, which alert rules to
// evaluate, and how the dashboard presents the result. It is loaded once at
// startup and treated as immutable afterwards.
type MonitorConfig struct {
	Series  []SeriesDef  `yaml:"series"`
	Derived []DerivedDef `yaml:"derived"`
	Metrics MetricsDef   `yaml:"metrics"`
	Alerts  []AlertDef   `yaml:"alerts"`
	Panel   PanelDef     `yaml:"panel"`
}

// SeriesDef names one upstream series and how to interpret it.
type SeriesDef struct {
	Key       string `yaml:"key"`
	SeriesID  string `yaml:"series_id"`
	Label     string `yaml:"label"`
	Unit      string `yaml:"unit"`
	Frequency string `yaml:"frequency"`
}

// DerivedDef defines a series computed from other series by an arithmetic
// expression, evaluated per date.
type DerivedDef struct {
	Key   string `yaml:"key"`
	Expr  string `yaml:"expr"`
	Label string `yaml:"label"`
	Unit  string `yaml:"unit"`
}

// MetricsDef lists the per-series metric columns to compute.
type MetricsDef struct {
	Changes []ChangeDef  `yaml:"changes"`
	Rolling []RollingDef `yaml:"rolling"`
}

// ChangeDef is a difference metric over a fixed period count.
type ChangeDef struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Periods int    `yaml:"periods"`
}

// RollingDef is a trailing-window statistic.
type RollingDef struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Window int    `yaml:"window"`
}

// AlertDef binds a boolean rule to one metric key.
type AlertDef struct {
	Metric   string `yaml:"metric"`
	Rule     string `yaml:"rule"`
	Severity string `yaml:"severity"`
	Note     string `yaml:"note"`
	Category string `yaml:"category"`
}

// PanelDef drives the dashboard dataset layout.
type PanelDef struct {
	KeyMetrics []string   `yaml:"key_metrics"`
	Charts     []ChartDef `yaml:"charts"`
	Tables     []TableDef `yaml:"tables"`
}

// ChartDef plots one or more series on a shared axis.
type ChartDef struct {
	Title  string   `yaml:"title"`
	Kind   string   `yaml:"kind"`
	Unit   string   `yaml:"unit"`
	Series []string `yaml:"series"`
}

// TableDef tabulates context columns for a set of series.
type TableDef struct {
	Title   string   `yaml:"title"`
	Series  []string `yaml:"series"`
	Columns []string `yaml:"columns"`
}

var keyRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var knownUnits = map[string]bool{
	"":             true,
	"percent":      true,
	"bps":          true,
	"usd_millions": true,
	"usd_billions": true,
	"ratio":        true,
	"index":        true,
	"count":        true,
}

var knownChartKinds = map[string]bool{
	"":     true,
	"line": true,
	"area": true,
	"bar":  true,
}

// LoadMonitor reads and validates the monitor definition document. Any
// malformed definition is a hard error: a monitor running with a partially
// understood config would silently skip alerts.
func LoadMonitor(path string) (*MonitorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitor config: %w", err)
	}
	var m MonitorConfig
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse monitor config %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("monitor config %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the whole document and fills optional defaults
// (frequency daily). All expressions are parsed here so that a formula typo
// surfaces at startup, not mid-cycle.
func (m *MonitorConfig) Validate() error {
	if len(m.Series) == 0 {
		return fmt.Errorf("no series declared")
	}

	seriesKeys := make(map[string]bool, len(m.Series))
	allKeys := make(map[string]bool, len(m.Series)+len(m.Derived))
	for i := range m.Series {
		s := &m.Series[i]
		if !keyRe.MatchString(s.Key) {
			return fmt.Errorf("series[%d]: invalid key %q", i, s.Key)
		}
		if allKeys[s.Key] {
			return fmt.Errorf("duplicate key %q", s.Key)
		}
		seriesKeys[s.Key] = true
		allKeys[s.Key] = true
		if s.SeriesID == "" {
			return fmt.Errorf("series %q: series_id is required", s.Key)
		}
		if s.Frequency == "" {
			s.Frequency = FrequencyDaily
		}
		if s.Frequency != FrequencyDaily && s.Frequency != FrequencyWeekly {
			return fmt.Errorf("series %q: unknown frequency %q", s.Key, s.Frequency)
		}
		if !knownUnits[s.Unit] {
			return fmt.Errorf("series %q: unknown unit %q", s.Key, s.Unit)
		}
	}

	for i := range m.Derived {
		d := &m.Derived[i]
		if !keyRe.MatchString(d.Key) {
			return fmt.Errorf("derived[%d]: invalid key %q", i, d.Key)
		}
		if allKeys[d.Key] {
			return fmt.Errorf("duplicate key %q", d.Key)
		}
		allKeys[d.Key] = true
		if d.Expr == "" {
			return fmt.Errorf("derived %q: expr is required", d.Key)
		}
		expr, err := expreval.Parse(d.Expr)
		if err != nil {
			return fmt.Errorf("derived %q: %w", d.Key, err)
		}
		if err := expr.Validate(func(name string) bool { return seriesKeys[name] }); err != nil {
			return fmt.Errorf("derived %q: %w", d.Key, err)
		}
		if !knownUnits[d.Unit] {
			return fmt.Errorf("derived %q: unknown unit %q", d.Key, d.Unit)
		}
	}

	metricNames := make(map[string]bool, len(m.Metrics.Changes)+len(m.Metrics.Rolling))
	for i, c := range m.Metrics.Changes {
		if !keyRe.MatchString(c.Name) {
			return fmt.Errorf("metrics.changes[%d]: invalid name %q", i, c.Name)
		}
		if metricNames[c.Name] {
			return fmt.Errorf("duplicate metric name %q", c.Name)
		}
		metricNames[c.Name] = true
		if c.Type != ChangeDiff && c.Type != ChangePct {
			return fmt.Errorf("metric %q: unknown change type %q", c.Name, c.Type)
		}
		if c.Periods < 1 {
			return fmt.Errorf("metric %q: periods must be >= 1", c.Name)
		}
	}
	for i, r := range m.Metrics.Rolling {
		if !keyRe.MatchString(r.Name) {
			return fmt.Errorf("metrics.rolling[%d]: invalid name %q", i, r.Name)
		}
		if metricNames[r.Name] {
			return fmt.Errorf("duplicate metric name %q", r.Name)
		}
		metricNames[r.Name] = true
		switch r.Type {
		case RollingMean:
			if r.Window < 1 {
				return fmt.Errorf("metric %q: window must be >= 1", r.Name)
			}
		case RollingStd, RollingZ:
			// sample std needs at least two points
			if r.Window < 2 {
				return fmt.Errorf("metric %q: window must be >= 2", r.Name)
			}
		default:
			return fmt.Errorf("metric %q: unknown rolling type %q", r.Name, r.Type)
		}
	}

	ctxNames := map[string]bool{"value": true}
	for name := range metricNames {
		ctxNames[name] = true
	}

	for i, a := range m.Alerts {
		if !allKeys[a.Metric] {
			return fmt.Errorf("alerts[%d]: unknown metric %q", i, a.Metric)
		}
		switch a.Severity {
		case SeverityCritical, SeverityWarning, SeverityInfo:
		default:
			return fmt.Errorf("alerts[%d] (%s): unknown severity %q", i, a.Metric, a.Severity)
		}
		if a.Rule == "" {
			return fmt.Errorf("alerts[%d] (%s): rule is required", i, a.Metric)
		}
		expr, err := expreval.Parse(a.Rule)
		if err != nil {
			return fmt.Errorf("alerts[%d] (%s): %w", i, a.Metric, err)
		}
		if err := expr.Validate(func(name string) bool { return ctxNames[name] }); err != nil {
			return fmt.Errorf("alerts[%d] (%s): %w", i, a.Metric, err)
		}
	}

	for _, k := range m.Panel.KeyMetrics {
		if !allKeys[k] {
			return fmt.Errorf("panel.key_metrics: unknown key %q", k)
		}
	}
	for i, c := range m.Panel.Charts {
		if !knownChartKinds[c.Kind] {
			return fmt.Errorf("panel.charts[%d]: unknown kind %q", i, c.Kind)
		}
		if len(c.Series) == 0 {
			return fmt.Errorf("panel.charts[%d] (%s): no series", i, c.Title)
		}
		for _, k := range c.Series {
			if !allKeys[k] {
				return fmt.Errorf("panel.charts[%d] (%s): unknown key %q", i, c.Title, k)
			}
		}
	}
	for i, tb := range m.Panel.Tables {
		for _, k := range tb.Series {
			if !allKeys[k] {
				return fmt.Errorf("panel.tables[%d] (%s): unknown key %q", i, tb.Title, k)
			}
		}
		for _, col := range tb.Columns {
			if !ctxNames[col] {
				return fmt.Errorf("panel.tables[%d] (%s): unknown column %q", i, tb.Title, col)
			}
		}
	}

	return nil
}

// AllKeys returns series keys followed by derived keys, declaration order.
func (m *MonitorConfig) AllKeys() []string {
	out := make([]string, 0, len(m.Series)+len(m.Derived))
	for _, s := range m.Series {
		out = append(out, s.Key)
	}
	for _, d := range m.Derived {
		out = append(out, d.Key)
	}
	return out
}

// MetricNames returns change metric names followed by rolling metric names.
func (m *MonitorConfig) MetricNames() []string {
	out := make([]string, 0, len(m.Metrics.Changes)+len(m.Metrics.Rolling))
	for _, c := range m.Metrics.Changes {
		out = append(out, c.Name)
	}
	for _, r := range m.Metrics.Rolling {
		out = append(out, r.Name)
	}
	return out
}

// DisplayFor resolves a key to its configured label and unit. Unknown keys
// fall back to the key itself with no unit.
func (m *MonitorConfig) DisplayFor(key string) (label, unit string) {
	for _, s := range m.Series {
		if s.Key == key {
			if s.Label != "" {
				return s.Label, s.Unit
			}
			return key, s.Unit
		}
	}
	for _, d := range m.Derived {
		if d.Key == key {
			if d.Label != "" {
				return d.Label, d.Unit
			}
			return key, d.Unit
		}
	}
	return key, ""
}

// FrequencyFor reports the declared frequency of a series key. Derived keys
// are computed on the daily grid and report daily.
func (m *MonitorConfig) FrequencyFor(key string) string {
	for _, s := range m.Series {
		if s.Key == key {
			if s.Frequency == "" {
				return FrequencyDaily
			}
			return s.Frequency
		}
	}
	return FrequencyDaily
}

// Package dashboard assembles the export dataset the static dashboard and
// the adapter service render: key metrics at a glance, chart series, tables,
// and alert status. The dataset is cached in Redis and written to disk for
// the one-shot export mode.
package dashboard

import "time"

// Dataset is the complete dashboard payload.
type Dataset struct {
	GeneratedAt time.Time        `json:"generated_at"`
	DateRange   DateRange        `json:"date_range"`
	KeyMetrics  []KeyMetric      `json:"key_metrics"`
	Charts      []Chart          `json:"charts"`
	Tables      []Table          `json:"tables"`
	Alerts      AlertsBySeverity `json:"alerts"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// KeyMetric is one glanceable headline number.
type KeyMetric struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Unit  string   `json:"unit"`
	Value float64  `json:"value"`
	D1    *float64 `json:"d1,omitempty"`
	D5    *float64 `json:"d5,omitempty"`
	Date  string   `json:"date"`
}

type Chart struct {
	Title  string        `json:"title"`
	Kind   string        `json:"kind"`
	Unit   string        `json:"unit,omitempty"`
	Series []ChartSeries `json:"series"`
}

// ChartSeries carries parallel date/value arrays with undefined points
// already dropped, so gaps in publication stay gaps on screen.
type ChartSeries struct {
	Key    string    `json:"key"`
	Label  string    `json:"label"`
	Dates  []string  `json:"dates"`
	Values []float64 `json:"values"`
}

type Table struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    []TableRow `json:"rows"`
}

// TableRow holds the requested columns under Values, keyed by column name
// ("value" plus the configured metric names); columns with no defined value
// are absent.
type TableRow struct {
	Key    string             `json:"key"`
	Label  string             `json:"label"`
	Unit   string             `json:"unit"`
	Date   string             `json:"date"`
	Values map[string]float64 `json:"values"`
}

type AlertsBySeverity struct {
	Critical []AlertInfo `json:"critical"`
	Warning  []AlertInfo `json:"warning"`
	Info     []AlertInfo `json:"info"`
}

// AlertInfo is one rule with its current persisted classification.
type AlertInfo struct {
	AlertID   string  `json:"alert_id"`
	MetricKey string  `json:"metric_key"`
	Label     string  `json:"label"`
	Rule      string  `json:"rule"`
	State     string  `json:"state"`
	Value     float64 `json:"value"`
	Since     string  `json:"since,omitempty"`
}

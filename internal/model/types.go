package model

import "time"

// Observation is a single raw data point of a tracked series.
// Keyed by (SeriesKey, Date); re-fetching the same date overwrites the value.
type Observation struct {
	SeriesKey string    `json:"series_key"`
	Date      time.Time `json:"date"` // calendar date, UTC midnight
	Value     float64   `json:"value"`
}

// MetricPoint is a computed value of a derived metric or stat column
// (e.g. "sofr_effr_spread" or "effr_zscore20") on a given date.
// Derived points are a cache: they are recomputed from observations.
type MetricPoint struct {
	MetricKey string    `json:"metric_key"`
	Date      time.Time `json:"date"`
	Value     float64   `json:"value"`
}

// Fetch run statuses.
const (
	FetchStatusSuccess = "success"
	FetchStatusError   = "error"
)

// FetchRun records the outcome of fetching one series in one cycle.
type FetchRun struct {
	ID           string    `json:"id"`
	SeriesKey    string    `json:"series_key"`
	Status       string    `json:"status"`
	RowsFetched  int       `json:"rows_fetched"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

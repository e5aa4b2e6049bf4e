package model

import (
	"time"

	"github.com/qiniu/fedmon/internal/dashboard"
)

// DashboardResponse wraps the dataset with where it came from, so a consumer
// can tell a cached snapshot from a fresh rebuild.
type DashboardResponse struct {
	Source string `json:"source"`
	*dashboard.Dataset
}

// SeriesResponse is the chart payload for one configured key
// (GET /api/v1/series/:key).
type SeriesResponse struct {
	Key       string        `json:"key"`
	Label     string        `json:"label"`
	Unit      string        `json:"unit,omitempty"`
	Frequency string        `json:"frequency"`
	Days      int           `json:"days"`
	Points    []SeriesPoint `json:"points"`
}

// SeriesPoint is one observed or computed value. Dates are calendar days.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// AlertListResponse is the severity-grouped alert section of the dataset
// (GET /api/v1/alerts).
type AlertListResponse struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Source      string                     `json:"source"`
	Alerts      dashboard.AlertsBySeverity `json:"alerts"`
}

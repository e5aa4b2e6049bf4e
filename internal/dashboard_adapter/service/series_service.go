package service

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/model"
	"github.com/qiniu/fedmon/internal/metrics"
)

const dateFormat = "2006-01-02"

// SeriesService serves raw chart points for any configured key. Points come
// from the sparse frame, so publication gaps are preserved instead of being
// forward-filled into fake dailies.
type SeriesService struct {
	calc        *metrics.Calculator
	mon         *config.MonitorConfig
	defaultDays int
}

// NewSeriesService creates the series service.
func NewSeriesService(calc *metrics.Calculator, mon *config.MonitorConfig, defaultDays int) *SeriesService {
	if defaultDays <= 0 {
		defaultDays = 180
	}
	return &SeriesService{
		calc:        calc,
		mon:         mon,
		defaultDays: defaultDays,
	}
}

// QuerySeries returns the points for one key over the trailing window.
// days <= 0 selects the configured default window.
func (s *SeriesService) QuerySeries(ctx context.Context, key string, days int) (*model.SeriesResponse, error) {
	if !s.configured(key) {
		return nil, &model.SeriesNotFoundError{Key: key}
	}
	if days <= 0 {
		days = s.defaultDays
	}

	frame, err := s.calc.ComputeSparse(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to compute series points")
		return nil, &model.DatasetError{Message: err.Error()}
	}

	points := make([]model.SeriesPoint, 0)
	if col, ok := frame.Column(key); ok {
		for i, v := range col {
			if math.IsNaN(v) {
				continue
			}
			points = append(points, model.SeriesPoint{
				Date:  frame.Date(i).Format(dateFormat),
				Value: v,
			})
		}
	}

	label, unit := s.mon.DisplayFor(key)
	return &model.SeriesResponse{
		Key:       key,
		Label:     label,
		Unit:      unit,
		Frequency: s.mon.FrequencyFor(key),
		Days:      days,
		Points:    points,
	}, nil
}

func (s *SeriesService) configured(key string) bool {
	for _, k := range s.mon.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

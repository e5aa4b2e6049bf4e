package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/dashboard"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/model"
)

// DashboardService serves the dashboard dataset, preferring the redis
// snapshot the monitor refreshes and falling back to a direct rebuild from
// the database when nothing is cached.
type DashboardService struct {
	cache    *dashboard.Cache
	exporter *dashboard.Exporter
}

// NewDashboardService creates the dashboard service.
func NewDashboardService(cache *dashboard.Cache, exporter *dashboard.Exporter) *DashboardService {
	return &DashboardService{
		cache:    cache,
		exporter: exporter,
	}
}

// GetDashboard returns the dataset and which path produced it.
func (s *DashboardService) GetDashboard(ctx context.Context) (*dashboard.Dataset, string, error) {
	ds, err := s.cache.LoadSnapshot(ctx)
	if err != nil {
		// an unreachable cache degrades to a rebuild, not an error
		log.Warn().Err(err).Msg("snapshot unavailable, rebuilding dataset")
	}
	if ds != nil {
		return ds, model.SourceSnapshot, nil
	}

	ds, err = s.exporter.Build(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to rebuild dashboard dataset")
		return nil, "", &model.DatasetError{Message: err.Error()}
	}

	// warm the cache so the next read is served from redis
	s.cache.StoreSnapshot(ctx, ds)
	return ds, model.SourceRebuild, nil
}

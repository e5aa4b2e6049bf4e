package dashboardadapter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fox-gonic/fox"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	appconfig "github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/dashboard"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/api"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/config"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/service"
	"github.com/qiniu/fedmon/internal/database"
	"github.com/qiniu/fedmon/internal/metrics"
)

// DashboardAdapterServer serves the dashboard dataset over HTTP. It reads
// the snapshot the monitor keeps in redis and falls back to rebuilding from
// the database, so it stays useful when the monitor process is down.
type DashboardAdapterServer struct {
	config           *config.DashboardAdapterConfig
	db               *database.Database
	rdb              *redis.Client
	dashboardService *service.DashboardService
	seriesService    *service.SeriesService
	healthService    *service.HealthService
	api              *api.Api
}

// NewDashboardAdapterServer creates the adapter and its services.
func NewDashboardAdapterServer(cfg *config.DashboardAdapterConfig) (*DashboardAdapterServer, error) {
	mon, err := appconfig.LoadMonitor(cfg.Dashboard.MonitorFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor definition: %w", err)
	}

	sqlDB, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := database.NewFromDB(sqlDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	calc := metrics.NewCalculator(database.NewObservationRepo(db), nil, mon)
	exporter := &dashboard.Exporter{
		Calc:  calc,
		Store: ruleset.NewPgStore(db),
		Mon:   mon,
		Days:  cfg.Dashboard.Days,
	}
	cache := dashboard.NewCache(rdb, cfg.Dashboard.GetSnapshotTTL())

	server := &DashboardAdapterServer{
		config:           cfg,
		db:               db,
		rdb:              rdb,
		dashboardService: service.NewDashboardService(cache, exporter),
		seriesService:    service.NewSeriesService(calc, mon, cfg.Dashboard.ChartDays),
		healthService:    service.NewHealthService(db),
	}

	log.Info().
		Str("monitor_file", cfg.Dashboard.MonitorFile).
		Str("redis_addr", cfg.Redis.Addr).
		Msg("dashboard adapter initialized")
	return server, nil
}

// UseApi registers the adapter routes.
func (s *DashboardAdapterServer) UseApi(router *fox.Engine) error {
	var err error
	s.api, err = api.NewApi(s.dashboardService, s.seriesService, s.healthService, router)
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}

	return nil
}

// Close releases the database and redis connections.
func (s *DashboardAdapterServer) Close(ctx context.Context) error {
	log.Info().Msg("shutting down dashboard adapter")

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
			return err
		}
	}

	log.Info().Msg("dashboard adapter shut down")
	return nil
}

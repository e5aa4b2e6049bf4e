package main

import (
	"context"
	"os"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	dashboardadapter "github.com/qiniu/fedmon/internal/dashboard_adapter"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("Starting Dashboard Adapter server")

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// ADAPTER_PORT wins over whatever the config file says
	if port := os.Getenv("ADAPTER_PORT"); port != "" {
		cfg.Server.BindAddr = ":" + port
	}

	adapter, err := dashboardadapter.NewDashboardAdapterServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Dashboard Adapter server")
	}
	defer func() {
		if err := adapter.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to close Dashboard Adapter server")
		}
	}()

	router := fox.New()

	if err := adapter.UseApi(router); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup API routes")
	}

	log.Info().Msgf("Starting Dashboard Adapter on %s", cfg.Server.BindAddr)
	if err := router.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}

package api

import (
	"net/http"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/dashboard_adapter/model"
)

func (api *Api) setupDashboardRouters(router *fox.Engine) {
	router.GET("/api/v1/dashboard", api.GetDashboard)
	router.GET("/api/v1/alerts", api.GetAlerts)
}

// GetDashboard serves the full dataset (GET /api/v1/dashboard).
func (api *Api) GetDashboard(c *fox.Context) {
	ctx := c.Request.Context()

	ds, source, err := api.dashboardService.GetDashboard(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to serve dashboard dataset")
		SendErrorResponse(c, http.StatusInternalServerError, model.ErrorCodeDatasetError,
			"failed to build dashboard dataset", nil)
		return
	}

	c.JSON(http.StatusOK, model.DashboardResponse{
		Source:  source,
		Dataset: ds,
	})
}

// GetAlerts serves the severity-grouped alert section (GET /api/v1/alerts).
func (api *Api) GetAlerts(c *fox.Context) {
	ctx := c.Request.Context()

	ds, source, err := api.dashboardService.GetDashboard(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to serve alert states")
		SendErrorResponse(c, http.StatusInternalServerError, model.ErrorCodeDatasetError,
			"failed to build dashboard dataset", nil)
		return
	}

	c.JSON(http.StatusOK, model.AlertListResponse{
		GeneratedAt: ds.GeneratedAt,
		Source:      source,
		Alerts:      ds.Alerts,
	})
}

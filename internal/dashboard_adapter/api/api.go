package api

import (
	"fmt"
	"strconv"

	"github.com/fox-gonic/fox"

	"github.com/qiniu/fedmon/internal/dashboard_adapter/model"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/service"
)

// maxQueryDays bounds the trailing window a single request can ask for.
const maxQueryDays = 3650

// Api wires the adapter services to the router.
type Api struct {
	dashboardService *service.DashboardService
	seriesService    *service.SeriesService
	healthService    *service.HealthService
	router           *fox.Engine
}

// NewApi creates the API and registers its routes.
func NewApi(dashboardService *service.DashboardService, seriesService *service.SeriesService, healthService *service.HealthService, router *fox.Engine) (*Api, error) {
	api := &Api{
		dashboardService: dashboardService,
		seriesService:    seriesService,
		healthService:    healthService,
		router:           router,
	}

	api.setupRouters(router)
	return api, nil
}

func (api *Api) setupRouters(router *fox.Engine) {
	api.setupDashboardRouters(router)
	api.setupSeriesRouters(router)
	api.setupHealthRouters(router)
}

// SendErrorResponse renders the error envelope.
func SendErrorResponse(c *fox.Context, statusCode int, errorCode, message string, extras map[string]string) {
	errorDetail := model.ErrorDetail{
		Code:    errorCode,
		Message: message,
	}

	if extras != nil {
		if series, ok := extras["series"]; ok {
			errorDetail.Series = series
		}
		if parameter, ok := extras["parameter"]; ok {
			errorDetail.Parameter = parameter
		}
		if value, ok := extras["value"]; ok {
			errorDetail.Value = value
		}
	}

	response := model.ErrorResponse{
		Error: errorDetail,
	}

	c.JSON(statusCode, response)
}

// ParseDays parses the optional trailing-window parameter. Empty selects the
// service default.
func ParseDays(daysStr string) (int, error) {
	if daysStr == "" {
		return 0, nil
	}

	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	if days < 1 {
		return 0, fmt.Errorf("must be >= 1")
	}
	if days > maxQueryDays {
		return 0, fmt.Errorf("must be <= %d", maxQueryDays)
	}

	return days, nil
}

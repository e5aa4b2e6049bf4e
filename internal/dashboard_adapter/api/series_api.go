package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/dashboard_adapter/model"
)

func (api *Api) setupSeriesRouters(router *fox.Engine) {
	router.GET("/api/v1/series/:key", api.GetSeries)
}

// GetSeries serves chart points for one key (GET /api/v1/series/:key?days=N).
func (api *Api) GetSeries(c *fox.Context) {
	ctx := c.Request.Context()

	key := c.Param("key")
	daysStr := c.Query("days")

	days, err := ParseDays(daysStr)
	if err != nil {
		log.Warn().Err(err).Str("days", daysStr).Msg("invalid days parameter")
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
			fmt.Sprintf("parameter 'days' is invalid: %s", err.Error()),
			map[string]string{"parameter": "days", "value": daysStr})
		return
	}

	response, err := api.seriesService.QuerySeries(ctx, key, days)
	if err != nil {
		api.handleSeriesError(c, err, key)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (api *Api) handleSeriesError(c *fox.Context, err error, key string) {
	var notFound *model.SeriesNotFoundError
	var datasetErr *model.DatasetError

	switch {
	case errors.As(err, &notFound):
		log.Warn().Str("series", key).Msg("series not configured")
		SendErrorResponse(c, http.StatusNotFound, model.ErrorCodeSeriesNotFound,
			err.Error(), map[string]string{"series": key})

	case errors.As(err, &datasetErr):
		SendErrorResponse(c, http.StatusInternalServerError, model.ErrorCodeDatasetError,
			"failed to compute series points", nil)

	default:
		log.Error().Err(err).Msg("unexpected error during series query")
		SendErrorResponse(c, http.StatusInternalServerError, model.ErrorCodeInternalError,
			"internal server error", nil)
	}
}

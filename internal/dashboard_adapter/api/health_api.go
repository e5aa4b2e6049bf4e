package api

import (
	"net/http"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog/log"
)

func (api *Api) setupHealthRouters(router *fox.Engine) {
	router.GET("/-/healthy", api.GetHealthy)
	router.GET("/-/ready", api.GetReady)
}

// GetHealthy is the liveness probe (GET /-/healthy).
func (api *Api) GetHealthy(c *fox.Context) {
	c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// GetReady is the readiness probe (GET /-/ready). It fails while the
// database is unreachable.
func (api *Api) GetReady(c *fox.Context) {
	ctx := c.Request.Context()

	if err := api.healthService.Ready(ctx); err != nil {
		log.Warn().Err(err).Msg("readiness check failed")
		c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/model"
)

const dateFormat = "2006-01-02"

// ObservationReader is the slice of the observation repo the API needs.
type ObservationReader interface {
	Latest(ctx context.Context, seriesKey string) (model.Observation, bool, error)
	ListRange(ctx context.Context, seriesKey string, from, to time.Time) ([]model.Observation, error)
}

// RunLister lists recent fetch runs.
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]model.FetchRun, error)
}

// FetchRunner triggers one incremental fetch pass. Wired by main so the
// endpoint shares the scheduler's fetcher and rate limiter.
type FetchRunner func(ctx context.Context) (map[string]int, error)

// IngestAPI serves the configured series, their stored observations, and the
// fetch run log.
type IngestAPI struct {
	Obs   ObservationReader
	Runs  RunLister
	Mon   *config.MonitorConfig
	Fetch FetchRunner
}

// RegisterIngestRoutes registers the series query and manual fetch routes.
func RegisterIngestRoutes(router gin.IRouter, api *IngestAPI) {
	router.GET("/v1/series", api.ListSeries)
	router.GET("/v1/series/:key/observations", api.ListObservations)
	router.GET("/v1/fetch-runs", api.ListFetchRuns)
	router.POST("/v1/fetch", api.RunFetch)
}

type seriesLatest struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type seriesItem struct {
	Key       string        `json:"key"`
	SeriesID  string        `json:"series_id"`
	Label     string        `json:"label"`
	Unit      string        `json:"unit,omitempty"`
	Frequency string        `json:"frequency"`
	Latest    *seriesLatest `json:"latest,omitempty"`
}

type seriesListResponse struct {
	Series []seriesItem `json:"series"`
}

// ListSeries implements GET /v1/series: every configured upstream series with
// its most recent stored observation.
func (api *IngestAPI) ListSeries(c *gin.Context) {
	ctx := c.Request.Context()

	items := make([]seriesItem, 0, len(api.Mon.Series))
	for _, def := range api.Mon.Series {
		item := seriesItem{
			Key:       def.Key,
			SeriesID:  def.SeriesID,
			Label:     def.Label,
			Unit:      def.Unit,
			Frequency: def.Frequency,
		}
		obs, ok, err := api.Obs.Latest(ctx, def.Key)
		if err != nil {
			log.Error().Err(err).Str("series", def.Key).Msg("failed to load latest observation")
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load observations")
			return
		}
		if ok {
			item.Latest = &seriesLatest{
				Date:  obs.Date.UTC().Format(dateFormat),
				Value: obs.Value,
			}
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, seriesListResponse{Series: items})
}

type observationItem struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type observationsResponse struct {
	Key          string            `json:"key"`
	Label        string            `json:"label"`
	Unit         string            `json:"unit,omitempty"`
	Days         int               `json:"days"`
	Observations []observationItem `json:"observations"`
}

// ListObservations implements GET /v1/series/:key/observations?days=N: the
// raw stored points, no forward-fill.
func (api *IngestAPI) ListObservations(c *gin.Context) {
	key := c.Param("key")
	def, ok := api.seriesDef(key)
	if !ok {
		sendError(c, http.StatusNotFound, "SERIES_NOT_FOUND", "series '"+key+"' is not configured")
		return
	}

	days, ok := parseDays(c, 90, 3650)
	if !ok {
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	obs, err := api.Obs.ListRange(c.Request.Context(), key, from, to)
	if err != nil {
		log.Error().Err(err).Str("series", key).Msg("failed to list observations")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load observations")
		return
	}

	items := make([]observationItem, 0, len(obs))
	for _, o := range obs {
		items = append(items, observationItem{
			Date:  o.Date.UTC().Format(dateFormat),
			Value: o.Value,
		})
	}

	c.JSON(http.StatusOK, observationsResponse{
		Key:          key,
		Label:        def.Label,
		Unit:         def.Unit,
		Days:         days,
		Observations: items,
	})
}

type fetchRunsResponse struct {
	Runs []model.FetchRun `json:"runs"`
}

// ListFetchRuns implements GET /v1/fetch-runs?limit=N, newest first.
func (api *IngestAPI) ListFetchRuns(c *gin.Context) {
	limit, ok := parseLimit(c, 50, 500)
	if !ok {
		return
	}

	runs, err := api.Runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list fetch runs")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load fetch runs")
		return
	}
	if runs == nil {
		runs = []model.FetchRun{}
	}

	c.JSON(http.StatusOK, fetchRunsResponse{Runs: runs})
}

type fetchResponse struct {
	Rows  map[string]int `json:"rows"`
	Total int            `json:"total"`
}

// RunFetch implements POST /v1/fetch: one incremental fetch pass outside the
// scheduler cadence.
func (api *IngestAPI) RunFetch(c *gin.Context) {
	if api.Fetch == nil {
		sendError(c, http.StatusServiceUnavailable, "FETCH_UNAVAILABLE", "fetching is not wired")
		return
	}

	rows, err := api.Fetch(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("manual fetch failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "fetch pass failed")
		return
	}

	total := 0
	for _, n := range rows {
		total += n
	}
	c.JSON(http.StatusOK, fetchResponse{Rows: rows, Total: total})
}

func (api *IngestAPI) seriesDef(key string) (config.SeriesDef, bool) {
	for _, def := range api.Mon.Series {
		if def.Key == key {
			return def, true
		}
	}
	return config.SeriesDef{}, false
}

func parseDays(c *gin.Context, def, max int) (int, bool) {
	raw := strings.TrimSpace(c.Query("days"))
	if raw == "" {
		return def, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > max {
		sendError(c, http.StatusBadRequest, "INVALID_PARAMETER",
			"days must be 1-"+strconv.Itoa(max))
		return 0, false
	}
	return days, true
}

func parseLimit(c *gin.Context, def, max int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		sendError(c, http.StatusBadRequest, "INVALID_PARAMETER",
			"limit must be 1-"+strconv.Itoa(max))
		return 0, false
	}
	return limit, true
}

func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, map[string]any{"error": map[string]any{"code": code, "message": message}})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/model"
)

type memObs struct {
	latest map[string]model.Observation
	ranged map[string][]model.Observation
	err    error
}

func (m *memObs) Latest(ctx context.Context, seriesKey string) (model.Observation, bool, error) {
	if m.err != nil {
		return model.Observation{}, false, m.err
	}
	o, ok := m.latest[seriesKey]
	return o, ok, nil
}

func (m *memObs) ListRange(ctx context.Context, seriesKey string, from, to time.Time) ([]model.Observation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ranged[seriesKey], nil
}

type memRuns struct {
	runs []model.FetchRun
	err  error
}

func (m *memRuns) ListRecent(ctx context.Context, limit int) ([]model.FetchRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func ingestMonitor() *config.MonitorConfig {
	return &config.MonitorConfig{
		Series: []config.SeriesDef{
			{Key: "effr", SeriesID: "EFFR", Label: "Effective Fed Funds Rate", Unit: "percent", Frequency: "daily"},
			{Key: "walcl", SeriesID: "WALCL", Label: "Fed Balance Sheet", Unit: "usd_millions", Frequency: "weekly"},
		},
	}
}

func newTestRouter(api *IngestAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterIngestRoutes(router, api)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListSeries(t *testing.T) {
	api := &IngestAPI{
		Obs: &memObs{latest: map[string]model.Observation{
			"effr": {SeriesKey: "effr", Date: day("2025-06-05"), Value: 4.33},
		}},
		Mon: ingestMonitor(),
	}

	w := doRequest(t, newTestRouter(api), http.MethodGet, "/v1/series")
	require.Equal(t, http.StatusOK, w.Code)

	var resp seriesListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Series, 2)

	effr := resp.Series[0]
	assert.Equal(t, "EFFR", effr.SeriesID)
	assert.Equal(t, "daily", effr.Frequency)
	require.NotNil(t, effr.Latest)
	assert.Equal(t, "2025-06-05", effr.Latest.Date)
	assert.InDelta(t, 4.33, effr.Latest.Value, 1e-9)

	// no stored data yet: listed without a latest point
	walcl := resp.Series[1]
	assert.Equal(t, "weekly", walcl.Frequency)
	assert.Nil(t, walcl.Latest)
}

func TestListObservations(t *testing.T) {
	api := &IngestAPI{
		Obs: &memObs{ranged: map[string][]model.Observation{
			"effr": {
				{SeriesKey: "effr", Date: day("2025-06-04"), Value: 4.33},
				{SeriesKey: "effr", Date: day("2025-06-05"), Value: 4.34},
			},
		}},
		Mon: ingestMonitor(),
	}

	w := doRequest(t, newTestRouter(api), http.MethodGet, "/v1/series/effr/observations?days=30")
	require.Equal(t, http.StatusOK, w.Code)

	var resp observationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "effr", resp.Key)
	assert.Equal(t, "Effective Fed Funds Rate", resp.Label)
	assert.Equal(t, 30, resp.Days)
	require.Len(t, resp.Observations, 2)
	assert.Equal(t, "2025-06-04", resp.Observations[0].Date)
	assert.InDelta(t, 4.34, resp.Observations[1].Value, 1e-9)
}

func TestListObservationsUnknownKey(t *testing.T) {
	api := &IngestAPI{Obs: &memObs{}, Mon: ingestMonitor()}

	w := doRequest(t, newTestRouter(api), http.MethodGet, "/v1/series/sofr/observations")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "SERIES_NOT_FOUND")
}

func TestListObservationsDaysValidation(t *testing.T) {
	api := &IngestAPI{Obs: &memObs{}, Mon: ingestMonitor()}
	router := newTestRouter(api)

	for _, q := range []string{"days=abc", "days=0", "days=-7", "days=99999"} {
		w := doRequest(t, router, http.MethodGet, "/v1/series/effr/observations?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	// missing days falls back to the default window
	w := doRequest(t, router, http.MethodGet, "/v1/series/effr/observations")
	require.Equal(t, http.StatusOK, w.Code)
	var resp observationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 90, resp.Days)
}

func TestListFetchRuns(t *testing.T) {
	at := time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)
	api := &IngestAPI{
		Obs: &memObs{},
		Runs: &memRuns{runs: []model.FetchRun{
			{ID: "b2", SeriesKey: "effr", Status: model.FetchStatusSuccess, RowsFetched: 3, FetchedAt: at},
			{ID: "b1", SeriesKey: "walcl", Status: model.FetchStatusError, ErrorMessage: "status 500", FetchedAt: at.Add(-time.Hour)},
		}},
		Mon: ingestMonitor(),
	}

	w := doRequest(t, newTestRouter(api), http.MethodGet, "/v1/fetch-runs?limit=10")
	require.Equal(t, http.StatusOK, w.Code)

	var resp fetchRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "effr", resp.Runs[0].SeriesKey)
	assert.Equal(t, model.FetchStatusError, resp.Runs[1].Status)
	assert.Equal(t, "status 500", resp.Runs[1].ErrorMessage)
}

func TestListFetchRunsEmpty(t *testing.T) {
	api := &IngestAPI{Obs: &memObs{}, Runs: &memRuns{}, Mon: ingestMonitor()}

	w := doRequest(t, newTestRouter(api), http.MethodGet, "/v1/fetch-runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runs":[]`)
}

func TestRunFetch(t *testing.T) {
	api := &IngestAPI{
		Obs: &memObs{},
		Mon: ingestMonitor(),
		Fetch: func(ctx context.Context) (map[string]int, error) {
			return map[string]int{"effr": 2, "walcl": 1}, nil
		},
	}

	w := doRequest(t, newTestRouter(api), http.MethodPost, "/v1/fetch")
	require.Equal(t, http.StatusOK, w.Code)

	var resp fetchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Rows["effr"])
}

func TestRunFetchFailure(t *testing.T) {
	api := &IngestAPI{
		Obs: &memObs{},
		Mon: ingestMonitor(),
		Fetch: func(ctx context.Context) (map[string]int, error) {
			return nil, errors.New("rate limited")
		},
	}

	w := doRequest(t, newTestRouter(api), http.MethodPost, "/v1/fetch")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunFetchUnwired(t *testing.T) {
	api := &IngestAPI{Obs: &memObs{}, Mon: ingestMonitor()}

	w := doRequest(t, newTestRouter(api), http.MethodPost, "/v1/fetch")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

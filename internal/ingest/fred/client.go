// Package fred is the client for the St. Louis Fed FRED HTTP API.
package fred

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/config"
)

// Observation is one published (date, value) pair of a series.
type Observation struct {
	Date  time.Time
	Value float64
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Client calls the FRED REST API with a requests-per-minute cap.
type Client struct {
	http    *resty.Client
	apiKey  string
	limiter *rateLimiter
}

func NewClient(cfg *config.FredConfig) *Client {
	retryDelay := cfg.GetRetryDelay()
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.GetTimeout()).
		SetRetryCount(3).
		SetRetryWaitTime(retryDelay).
		SetRetryMaxWaitTime(4 * retryDelay).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    c,
		apiKey:  cfg.APIKey,
		limiter: newRateLimiter(cfg.RequestsPerMinute),
	}
}

// Observations fetches one series between start and end inclusive, dates
// ascending. Placeholder points (value ".") mean "not published" and are
// skipped; malformed rows are skipped with a warning so one bad row cannot
// sink a whole fetch.
func (c *Client) Observations(ctx context.Context, seriesID string, start, end time.Time) ([]Observation, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	var body observationsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"series_id":         seriesID,
			"api_key":           c.apiKey,
			"file_type":         "json",
			"observation_start": start.Format("2006-01-02"),
			"observation_end":   end.Format("2006-01-02"),
		}).
		SetResult(&body).
		Get("/series/observations")
	if err != nil {
		return nil, fmt.Errorf("fred request for %s: %w", seriesID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fred request for %s: status %d: %s", seriesID, resp.StatusCode(), snippet(resp.Body()))
	}

	obs := make([]Observation, 0, len(body.Observations))
	for _, row := range body.Observations {
		if row.Value == "." {
			continue
		}
		d, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			log.Warn().Str("series", seriesID).Str("date", row.Date).Msg("skipping observation with malformed date")
			continue
		}
		v, err := strconv.ParseFloat(row.Value, 64)
		if err != nil {
			log.Warn().Str("series", seriesID).Str("date", row.Date).Str("value", row.Value).Msg("skipping observation with malformed value")
			continue
		}
		obs = append(obs, Observation{Date: d, Value: v})
	}
	return obs, nil
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/alerting/service/evaluator"
	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	"github.com/qiniu/fedmon/internal/config"
)

// CheckRunner runs one evaluation cycle on demand. Wired by main so the
// endpoint and the scheduler share the same evaluation path.
type CheckRunner func(ctx context.Context, dryRun bool) (evaluator.CycleStats, error)

// AlertAPI serves the configured rules, their persisted states, and the
// transition log.
type AlertAPI struct {
	Store ruleset.Store
	Rules []*ruleset.AlertRule
	Mon   *config.MonitorConfig
	Check CheckRunner
}

// RegisterAlertRoutes registers the alert query and manual check routes.
func RegisterAlertRoutes(router gin.IRouter, api *AlertAPI) {
	router.GET("/v1/alerts", api.ListAlerts)
	router.GET("/v1/alerts/transitions", api.ListTransitions)
	router.POST("/v1/alerts/check", api.RunCheck)
}

type alertItem struct {
	AlertID     string   `json:"alert_id"`
	Metric      string   `json:"metric"`
	Label       string   `json:"label"`
	Rule        string   `json:"rule"`
	Severity    string   `json:"severity"`
	Note        string   `json:"note,omitempty"`
	Category    string   `json:"category,omitempty"`
	State       string   `json:"state"`
	Value       *float64 `json:"value,omitempty"`
	EvaluatedAt string   `json:"evaluated_at,omitempty"`
	Since       string   `json:"since,omitempty"`
}

type alertListResponse struct {
	Alerts []alertItem `json:"alerts"`
}

// ListAlerts implements GET /v1/alerts: every configured rule joined with its
// stored state. Rules that have never produced a state row report "unknown".
func (api *AlertAPI) ListAlerts(c *gin.Context) {
	states, err := api.Store.ListStates(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list alert states")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load alert states")
		return
	}
	byID := make(map[string]*ruleset.AlertState, len(states))
	for _, st := range states {
		byID[st.AlertID] = st
	}

	items := make([]alertItem, 0, len(api.Rules))
	for _, r := range api.Rules {
		label, _ := api.Mon.DisplayFor(r.MetricKey)
		item := alertItem{
			AlertID:  r.ID,
			Metric:   r.MetricKey,
			Label:    label,
			Rule:     r.Expr,
			Severity: r.Severity,
			Note:     r.Note,
			Category: r.Category,
			State:    "unknown",
		}
		if st, ok := byID[r.ID]; ok {
			item.State = st.State
			v := st.LastValue
			item.Value = &v
			item.EvaluatedAt = st.EvaluatedAt.UTC().Format(time.RFC3339)
			if !st.LastTransitionTime.IsZero() {
				item.Since = st.LastTransitionTime.UTC().Format(time.RFC3339)
			}
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, alertListResponse{Alerts: items})
}

type transitionItem struct {
	ID          int64   `json:"id"`
	AlertID     string  `json:"alert_id"`
	Metric      string  `json:"metric"`
	Severity    string  `json:"severity"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Value       float64 `json:"value"`
	Note        string  `json:"note,omitempty"`
	TriggeredAt string  `json:"triggered_at"`
}

type transitionListResponse struct {
	Transitions []transitionItem `json:"transitions"`
}

// ListTransitions implements GET /v1/alerts/transitions?limit=N, newest first.
func (api *AlertAPI) ListTransitions(c *gin.Context) {
	limit, ok := parseLimit(c, 50, 500)
	if !ok {
		return
	}

	trs, err := api.Store.RecentTransitions(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list transitions")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load transitions")
		return
	}

	items := make([]transitionItem, 0, len(trs))
	for _, tr := range trs {
		items = append(items, transitionItem{
			ID:          tr.ID,
			AlertID:     tr.AlertID,
			Metric:      tr.MetricKey,
			Severity:    tr.Severity,
			From:        tr.From,
			To:          tr.To,
			Value:       tr.Value,
			Note:        tr.Note,
			TriggeredAt: tr.TriggeredAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, transitionListResponse{Transitions: items})
}

type checkResponse struct {
	DryRun      bool `json:"dry_run"`
	Evaluated   int  `json:"evaluated"`
	Breaches    int  `json:"breaches"`
	Transitions int  `json:"transitions"`
	Unknown     int  `json:"unknown"`
	Notified    int  `json:"notified"`
}

// RunCheck implements POST /v1/alerts/check?dry_run=true: one on-demand
// evaluation cycle outside the scheduler cadence.
func (api *AlertAPI) RunCheck(c *gin.Context) {
	if api.Check == nil {
		sendError(c, http.StatusServiceUnavailable, "CHECK_UNAVAILABLE", "evaluation is not wired")
		return
	}

	dryRun := false
	if raw := strings.TrimSpace(c.Query("dry_run")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			sendError(c, http.StatusBadRequest, "INVALID_PARAMETER", "dry_run must be a boolean")
			return
		}
		dryRun = v
	}

	stats, err := api.Check(c.Request.Context(), dryRun)
	if err != nil {
		log.Error().Err(err).Msg("manual alert check failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "evaluation cycle failed")
		return
	}

	c.JSON(http.StatusOK, checkResponse{
		DryRun:      dryRun,
		Evaluated:   stats.Evaluated,
		Breaches:    stats.Breaches,
		Transitions: stats.Transitions,
		Unknown:     stats.Unknown,
		Notified:    stats.Notified,
	})
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

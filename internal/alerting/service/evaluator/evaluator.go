// Package evaluator classifies alert rules against the latest metric context
// and maintains the persisted ok/breach state machine. Notifications fire on
// the ok-to-breach edge only; re-evaluating an unchanged state is silent.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/alerting/service/notifier"
	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/telemetry"
)

// ContextFn returns the evaluation variables for one metric key ("value" plus
// the configured metric names, undefined names omitted) and the as-of date of
// the underlying data.
type ContextFn func(metricKey string) (map[string]float64, time.Time)

type Evaluator struct {
	Store     ruleset.Store
	Mon       *config.MonitorConfig
	Rules     []*ruleset.AlertRule
	ContextFn ContextFn
	NotifyCh  chan<- notifier.TransitionEvent

	// Severities restricts which breach transitions reach the notifier.
	// Empty forwards all severities.
	Severities []string

	// DryRun evaluates and logs but never writes state or notifies.
	DryRun bool

	Now func() time.Time
}

// CycleStats summarizes one evaluation pass.
type CycleStats struct {
	Evaluated   int // rules that produced a classification
	Breaches    int // rules currently in breach
	Transitions int // state changes this pass
	Unknown     int // rules skipped because the context could not be evaluated
	Notified    int // breach events handed to the notifier
}

// RunOnce evaluates every rule against its metric context exactly once.
//
// A rule whose expression cannot be evaluated (missing context name, division
// by zero) is counted unknown and its stored state is left untouched, so a
// data gap can never fabricate a recovery or a breach.
func (e *Evaluator) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	if e.ContextFn == nil {
		return stats, fmt.Errorf("evaluator has no metric context source")
	}

	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now()
	}

	for _, rule := range e.Rules {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		vars, asOf := e.ContextFn(rule.MetricKey)
		fired, err := rule.Eval(vars)
		if err != nil {
			stats.Unknown++
			telemetry.Evaluations.WithLabelValues("unknown").Inc()
			log.Warn().Err(err).
				Str("alert_id", rule.ID).
				Str("metric", rule.MetricKey).
				Msg("alert rule not evaluable, state unchanged")
			continue
		}

		stats.Evaluated++
		newState := ruleset.StateOK
		if fired {
			newState = ruleset.StateBreach
			stats.Breaches++
		}
		telemetry.Evaluations.WithLabelValues(newState).Inc()

		prev, err := e.Store.GetState(ctx, rule.ID)
		if err != nil {
			log.Error().Err(err).Str("alert_id", rule.ID).Msg("failed to load alert state")
			continue
		}

		// an identity never seen before counts as previously ok, so its very
		// first breach produces a transition and a notification
		prevState := ruleset.StateOK
		var lastTransition time.Time
		if prev != nil {
			prevState = prev.State
			lastTransition = prev.LastTransitionTime
		}

		value := vars["value"]
		changed := newState != prevState
		if changed {
			stats.Transitions++
		}

		if e.DryRun {
			evt := log.Info().
				Str("alert_id", rule.ID).
				Str("metric", rule.MetricKey).
				Str("state", newState).
				Float64("value", value)
			if changed {
				evt = evt.Str("would_transition", prevState+" -> "+newState)
			}
			evt.Msg("dry run evaluation")
			continue
		}

		st := &ruleset.AlertState{
			AlertID:            rule.ID,
			MetricKey:          rule.MetricKey,
			Severity:           rule.Severity,
			Rule:               rule.Expr,
			State:              newState,
			LastValue:          value,
			EvaluatedAt:        now,
			LastTransitionTime: lastTransition,
		}
		if changed {
			st.LastTransitionTime = now
		}
		if err := e.Store.UpsertState(ctx, st); err != nil {
			log.Error().Err(err).Str("alert_id", rule.ID).Msg("failed to store alert state")
			continue
		}

		if !changed {
			continue
		}

		tr := &ruleset.Transition{
			AlertID:     rule.ID,
			MetricKey:   rule.MetricKey,
			Severity:    rule.Severity,
			From:        prevState,
			To:          newState,
			Value:       value,
			Note:        rule.Note,
			TriggeredAt: now,
		}
		if err := e.Store.InsertTransition(ctx, tr); err != nil {
			log.Error().Err(err).Str("alert_id", rule.ID).Msg("failed to record alert transition")
		}

		if newState == ruleset.StateBreach {
			telemetry.Transitions.WithLabelValues(rule.Severity, "breach").Inc()
			log.Warn().
				Str("alert_id", rule.ID).
				Str("metric", rule.MetricKey).
				Str("severity", rule.Severity).
				Float64("value", value).
				Msg("alert breached")
			if e.queueNotification(rule, vars, value, asOf) {
				stats.Notified++
			}
		} else {
			telemetry.Transitions.WithLabelValues(rule.Severity, "recovery").Inc()
			log.Info().
				Str("alert_id", rule.ID).
				Str("metric", rule.MetricKey).
				Float64("value", value).
				Msg("alert recovered")
		}
	}

	return stats, nil
}

// queueNotification hands a breach event to the notifier channel without
// blocking the evaluation loop. A full channel drops the event.
func (e *Evaluator) queueNotification(rule *ruleset.AlertRule, vars map[string]float64, value float64, asOf time.Time) bool {
	if !e.severityEnabled(rule.Severity) {
		return false
	}
	if e.NotifyCh == nil {
		log.Debug().Str("alert_id", rule.ID).Msg("no notification channel configured")
		return false
	}

	label, unit := e.Mon.DisplayFor(rule.MetricKey)
	ev := notifier.TransitionEvent{
		AlertID:   rule.ID,
		MetricKey: rule.MetricKey,
		Label:     label,
		Unit:      unit,
		Severity:  rule.Severity,
		Note:      rule.Note,
		From:      ruleset.StateOK,
		To:        ruleset.StateBreach,
		Value:     value,
		At:        asOf,
	}
	// the conventional one-day and five-day change metrics enrich the
	// message when the monitor defines them under these names
	if v, ok := vars["d1"]; ok {
		d := v
		ev.D1 = &d
	}
	if v, ok := vars["d5"]; ok {
		d := v
		ev.D5 = &d
	}

	select {
	case e.NotifyCh <- ev:
		telemetry.Notifications.WithLabelValues("queued").Inc()
		return true
	default:
		telemetry.Notifications.WithLabelValues("dropped").Inc()
		log.Warn().Str("alert_id", rule.ID).Msg("notification channel full, dropping event")
		return false
	}
}

func (e *Evaluator) severityEnabled(severity string) bool {
	if len(e.Severities) == 0 {
		return true
	}
	for _, s := range e.Severities {
		if s == severity {
			return true
		}
	}
	return false
}

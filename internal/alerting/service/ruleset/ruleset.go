// Package ruleset turns the monitor definition's alert entries into runtime
// rules with stable identities, and persists their evaluation state.
package ruleset

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/expreval"
)

// MakeAlertID derives the stable identity of a rule from its content. The
// short hash keeps ids readable in logs and messages while still changing
// whenever the expression is edited.
func MakeAlertID(metricKey, severity, expr string) string {
	return fmt.Sprintf("%s:%s:%d", metricKey, severity, xxhash.Sum64String(expr)%10000)
}

// FromConfig builds the runtime rule set from the monitor definition. Every
// expression is parsed and its identifiers checked against the metric
// context, so an invalid rule can never reach the evaluator.
func FromConfig(mon *config.MonitorConfig) ([]*AlertRule, error) {
	allowed := map[string]bool{"value": true}
	for _, name := range mon.MetricNames() {
		allowed[name] = true
	}

	rules := make([]*AlertRule, 0, len(mon.Alerts))
	for i, a := range mon.Alerts {
		expr, err := expreval.Parse(a.Rule)
		if err != nil {
			return nil, fmt.Errorf("alert %d (%s): %w", i, a.Metric, err)
		}
		if err := expr.Validate(func(name string) bool { return allowed[name] }); err != nil {
			return nil, fmt.Errorf("alert %d (%s): %w", i, a.Metric, err)
		}
		rules = append(rules, &AlertRule{
			ID:        MakeAlertID(a.Metric, a.Severity, a.Rule),
			MetricKey: a.Metric,
			Expr:      a.Rule,
			Severity:  a.Severity,
			Note:      a.Note,
			Category:  a.Category,
			compiled:  expr,
		})
	}
	return rules, nil
}

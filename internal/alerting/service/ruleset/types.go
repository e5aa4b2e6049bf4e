package ruleset

import (
	"context"
	"time"

	"github.com/qiniu/fedmon/internal/expreval"
)

// Alert states persisted per rule identity.
const (
	StateOK     = "ok"
	StateBreach = "breach"
)

// AlertRule is one configured rule bound to a metric key. ID is derived from
// the rule content (see MakeAlertID), so editing the expression retires the
// old identity and starts a fresh one; other rules are unaffected.
type AlertRule struct {
	ID        string // content-derived identity, stable across restarts
	MetricKey string // series or derived key the rule watches
	Expr      string // boolean expression over "value" and the metric context names
	Severity  string // critical | warning | info
	Note      string // operator note carried into notifications
	Category  string // grouping label for the dashboard

	compiled *expreval.Expr
}

// Eval evaluates the rule against a metric context. The expression is parsed
// once and reused.
func (r *AlertRule) Eval(vars map[string]float64) (bool, error) {
	if r.compiled == nil {
		e, err := expreval.Parse(r.Expr)
		if err != nil {
			return false, err
		}
		r.compiled = e
	}
	return r.compiled.EvalBool(vars)
}

// AlertState is the persisted classification of one rule identity.
type AlertState struct {
	AlertID            string    // rule identity
	MetricKey          string    // watched key, denormalized for listings
	Severity           string    // rule severity at last evaluation
	Rule               string    // expression text at last evaluation
	State              string    // ok | breach
	LastValue          float64   // metric value at last evaluation
	EvaluatedAt        time.Time // time of last evaluation
	LastTransitionTime time.Time // zero until the first state change
}

// Transition is one append-only state-change record.
type Transition struct {
	ID          int64
	AlertID     string
	MetricKey   string
	Severity    string
	From        string
	To          string
	Value       float64
	Note        string
	TriggeredAt time.Time
}

// Store abstracts alert state persistence. Implementations must make
// UpsertState safe to call on every evaluation.
type Store interface {
	// GetState returns the stored state for an identity, or (nil, nil) when
	// the identity has never been evaluated.
	GetState(ctx context.Context, alertID string) (*AlertState, error)
	UpsertState(ctx context.Context, st *AlertState) error

	// InsertTransition appends to the transition log.
	InsertTransition(ctx context.Context, tr *Transition) error

	ListStates(ctx context.Context) ([]*AlertState, error)
	RecentTransitions(ctx context.Context, limit int) ([]*Transition, error)
}

// Package notifier delivers alert transition messages to the configured chat
// transport. Delivery is best-effort: failures are logged and dropped, never
// fed back into the evaluator's path.
package notifier

import (
	"context"
	"time"
)

// TransitionEvent describes one ok-to-breach transition ready for delivery.
type TransitionEvent struct {
	AlertID   string
	MetricKey string
	Label     string
	Unit      string
	Severity  string
	Note      string
	From      string
	To        string
	Value     float64
	D1        *float64 // 1-day change, when defined
	D5        *float64 // 5-day change, when defined
	At        time.Time
}

// Transport sends one rendered message.
type Transport interface {
	Send(ctx context.Context, text string) error
}

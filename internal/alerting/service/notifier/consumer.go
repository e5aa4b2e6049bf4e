package notifier

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/telemetry"
)

// Consumer drains transition events off a channel and forwards each one
// through the transport, with a couple of retries for transient failures.
type Consumer struct {
	transport Transport

	// sleepFn allows overriding for tests
	sleepFn func(time.Duration)
	retries int
}

func NewConsumer(tr Transport) *Consumer {
	return &Consumer{
		transport: tr,
		sleepFn:   time.Sleep,
		retries:   2,
	}
}

// Start consumes transition events until the context is cancelled or the
// channel is closed.
func (c *Consumer) Start(ctx context.Context, ch <-chan TransitionEvent) {
	if ch == nil {
		log.Warn().Msg("notifier consumer started without channel; no-op")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				log.Info().Msg("notifier channel closed, consumer stopping")
				return
			}
			c.deliver(ctx, ev)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, ev TransitionEvent) {
	text := BuildMessage(ev)

	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.sleepFn(time.Duration(attempt) * time.Second)
		}
		if err = c.transport.Send(ctx, text); err == nil {
			telemetry.Notifications.WithLabelValues("sent").Inc()
			log.Info().
				Str("alert_id", ev.AlertID).
				Str("severity", ev.Severity).
				Msg("alert notification sent")
			return
		}
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).
			Str("alert_id", ev.AlertID).
			Int("attempt", attempt+1).
			Msg("notification attempt failed")
	}

	telemetry.Notifications.WithLabelValues("failed").Inc()
	log.Error().Err(err).Str("alert_id", ev.AlertID).Msg("dropping notification after retries")
}

package summary

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/alerting/service/notifier"
)

type Deps struct {
	Builder   *Builder
	Transport notifier.Transport
	Redis     *redis.Client
	Hour      int           // UTC hour the digest becomes due
	Tick      time.Duration // polling cadence
	Now       func() time.Time
}

// StartScheduler delivers the digest once per UTC date at or after the
// configured hour. A Redis marker deduplicates delivery across restarts and
// replicas; without Redis a process-local guard prevents repeats within one
// run. Digests with nothing significant consume the day without sending.
func StartScheduler(ctx context.Context, deps Deps) {
	if deps.Transport == nil {
		log.Warn().Msg("summary scheduler started without transport; no-op")
		return
	}
	if deps.Tick <= 0 {
		deps.Tick = 15 * time.Minute
	}
	if deps.Hour < 0 || deps.Hour > 23 {
		deps.Hour = 17
	}
	nowFn := time.Now
	if deps.Now != nil {
		nowFn = deps.Now
	}

	var lastSent string
	t := time.NewTicker(deps.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			date := dueDate(nowFn(), deps.Hour)
			if date == "" || date == lastSent {
				continue
			}
			if !claimMarker(ctx, deps.Redis, date) {
				// another replica already handled today
				lastSent = date
				continue
			}
			if err := sendDigest(ctx, deps); err != nil {
				log.Error().Err(err).Msg("daily summary delivery failed")
				releaseMarker(ctx, deps.Redis, date)
				continue
			}
			lastSent = date
		}
	}
}

// dueDate returns the UTC date to deliver for, or "" when the clock has not
// reached the configured hour yet.
func dueDate(now time.Time, hour int) string {
	now = now.UTC()
	if now.Hour() < hour {
		return ""
	}
	return now.Format("2006-01-02")
}

func sendDigest(ctx context.Context, deps Deps) error {
	text, significant, err := deps.Builder.Build(ctx)
	if err != nil {
		return err
	}
	if !significant {
		log.Info().Msg("daily summary has nothing significant, skipping delivery")
		return nil
	}
	if err := deps.Transport.Send(ctx, text); err != nil {
		return err
	}
	log.Info().Msg("daily summary sent")
	return nil
}

func markerKey(date string) string {
	return "fedmon:summary:sent:" + date
}

// claimMarker takes the day's delivery slot. Redis being down degrades to
// allowing the send rather than silencing the digest.
func claimMarker(ctx context.Context, rdb *redis.Client, date string) bool {
	if rdb == nil {
		return true
	}
	ok, err := rdb.SetNX(ctx, markerKey(date), "1", 48*time.Hour).Result()
	if err != nil {
		log.Warn().Err(err).Msg("summary dedupe marker unavailable, proceeding")
		return true
	}
	return ok
}

func releaseMarker(ctx context.Context, rdb *redis.Client, date string) {
	if rdb == nil {
		return
	}
	if err := rdb.Del(ctx, markerKey(date)).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to release summary dedupe marker")
	}
}

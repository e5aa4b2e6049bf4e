package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	alertapi "github.com/qiniu/fedmon/internal/alerting/api"
	"github.com/qiniu/fedmon/internal/alerting/service/evaluator"
	"github.com/qiniu/fedmon/internal/alerting/service/notifier"
	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	"github.com/qiniu/fedmon/internal/alerting/service/summary"
	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/dashboard"
	"github.com/qiniu/fedmon/internal/database"
	ingestapi "github.com/qiniu/fedmon/internal/ingest/api"
	"github.com/qiniu/fedmon/internal/ingest/fred"
	ingestsvc "github.com/qiniu/fedmon/internal/ingest/service"
	"github.com/qiniu/fedmon/internal/metrics"
	"github.com/qiniu/fedmon/internal/middleware"
)

func main() {
	// job flags have to be registered before config.Load parses the command line
	once := flag.String("once", "", "run one job and exit: fetch|backfill|check|summary|export|test-telegram")
	days := flag.Int("days", 0, "fetch window in days for -once fetch (0 resumes from stored data)")
	years := flag.Int("years", 5, "history depth in years for -once backfill")
	dryRun := flag.Bool("dry-run", false, "evaluate alerts without writing state or notifying")
	critical := flag.Bool("critical", false, "notify critical breaches only")
	out := flag.String("out", "data.json", "output path for -once export")

	log.Info().Msg("Starting fedmon server")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// configure log level from config
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}

	monitorFile := cfg.Monitor.ConfigFile
	if monitorFile == "" {
		monitorFile = "config/monitor.yml"
	}
	mon, err := config.LoadMonitor(monitorFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", monitorFile).Msg("failed to load monitor definitions")
	}
	rules, err := ruleset.FromConfig(mon)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compile alert rules")
	}
	log.Info().
		Int("series", len(mon.Series)).
		Int("derived", len(mon.Derived)).
		Int("rules", len(rules)).
		Str("monitor_file", monitorFile).
		Msg("monitor definitions loaded")

	obsRepo := database.NewObservationRepo(db)
	metricRepo := database.NewMetricRepo(db)
	runRepo := database.NewFetchRunRepo(db)
	store := ruleset.NewPgStore(db)

	client := fred.NewClient(&cfg.Fred)
	fetcher := ingestsvc.NewFetcher(client, obsRepo, runRepo, mon, cfg.Fred.BackfillDays)
	calc := metrics.NewCalculator(obsRepo, metricRepo, mon)

	severities := cfg.Jobs.NotifySeverities
	if *critical {
		severities = []string{config.SeverityCritical}
	}

	tg := notifier.NewTelegram(&cfg.Telegram)
	var transport notifier.Transport
	if cfg.Telegram.Enabled {
		transport = tg
	}

	if *once != "" {
		err := runJob(ctx, *once, jobOpts{
			cfg:        cfg,
			mon:        mon,
			rules:      rules,
			store:      store,
			fetcher:    fetcher,
			calc:       calc,
			tg:         tg,
			transport:  transport,
			severities: severities,
			dryRun:     *dryRun,
			days:       *days,
			years:      *years,
			out:        *out,
		})
		if err != nil {
			log.Fatal().Err(err).Str("job", *once).Msg("job failed")
		}
		return
	}

	// the notification channel only exists when something can deliver events
	var alertCh chan notifier.TransitionEvent
	if transport != nil {
		alertCh = make(chan notifier.TransitionEvent, cfg.Jobs.AlertChanSize)
		go notifier.NewConsumer(transport).Start(ctx, alertCh)
	}

	go ingestsvc.StartScheduler(ctx, ingestsvc.Deps{
		Fetcher:  fetcher,
		Calc:     calc,
		Interval: cfg.Jobs.GetFetchInterval(),
	})
	go ingestsvc.StartBackfillScheduler(ctx, ingestsvc.Deps{
		Fetcher:          fetcher,
		BackfillInterval: cfg.Jobs.GetBackfillInterval(),
		BackfillDays:     cfg.Jobs.BackfillDays,
	})
	go evaluator.StartScheduler(ctx, evaluator.Deps{
		Evaluator: &evaluator.Evaluator{
			Store:      store,
			Mon:        mon,
			Rules:      rules,
			NotifyCh:   alertCh,
			Severities: severities,
			DryRun:     *dryRun,
		},
		Calc:     calc,
		Interval: cfg.Jobs.GetCheckInterval(),
	})

	rdb := dashboard.NewRedisClientFromConfig(&cfg.Redis)
	go summary.StartScheduler(ctx, summary.Deps{
		Builder:   &summary.Builder{Calc: calc, Store: store, Mon: mon},
		Transport: transport,
		Redis:     rdb,
		Hour:      cfg.Jobs.SummaryHour,
		Tick:      cfg.Jobs.GetSummaryTick(),
	})
	go dashboard.StartSnapshotScheduler(ctx, dashboard.SchedulerDeps{
		Exporter: &dashboard.Exporter{Calc: calc, Store: store, Mon: mon},
		Cache:    dashboard.NewCache(rdb, 0),
		Interval: cfg.Jobs.GetSnapshotInterval(),
	})

	// the manual check endpoint builds a fresh evaluator per request so the
	// scheduler's instance is never mutated concurrently
	checkRunner := func(ctx context.Context, dry bool) (evaluator.CycleStats, error) {
		return evaluator.RunCycle(ctx, evaluator.Deps{
			Evaluator: &evaluator.Evaluator{
				Store:      store,
				Mon:        mon,
				Rules:      rules,
				NotifyCh:   alertCh,
				Severities: severities,
				DryRun:     dry,
			},
			Calc: calc,
		})
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.BearerAuth(cfg.API.BearerToken))
	alertapi.RegisterAlertRoutes(router, &alertapi.AlertAPI{
		Store: store,
		Rules: rules,
		Mon:   mon,
		Check: checkRunner,
	})
	ingestapi.RegisterIngestRoutes(router, &ingestapi.IngestAPI{
		Obs:   obsRepo,
		Runs:  runRepo,
		Mon:   mon,
		Fetch: fetcher.FetchAll,
	})
	router.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := router.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("start fedmon server failed.")
	}
	log.Info().Msg("fedmon server exit...")
}

type jobOpts struct {
	cfg        *config.Config
	mon        *config.MonitorConfig
	rules      []*ruleset.AlertRule
	store      *ruleset.PgStore
	fetcher    *ingestsvc.Fetcher
	calc       *metrics.Calculator
	tg         *notifier.Telegram
	transport  notifier.Transport
	severities []string
	dryRun     bool
	days       int
	years      int
	out        string
}

// runJob executes a single maintenance job in the foreground. These share the
// exact code paths the schedulers use, so a cron-driven deployment behaves the
// same as the long-running server.
func runJob(ctx context.Context, job string, o jobOpts) error {
	switch job {
	case "fetch":
		var counts map[string]int
		var err error
		if o.days > 0 {
			counts, err = o.fetcher.FetchWindow(ctx, time.Now().UTC().AddDate(0, 0, -o.days))
		} else {
			counts, err = o.fetcher.FetchAll(ctx)
		}
		if err != nil {
			return err
		}
		logFetchCounts(counts, "fetch complete")
		return recompute(ctx, o.calc, 400*24*time.Hour)

	case "backfill":
		yrs := o.years
		if yrs <= 0 {
			yrs = 1
		}
		counts, err := o.fetcher.Backfill(ctx, yrs)
		if err != nil {
			return err
		}
		logFetchCounts(counts, "backfill complete")
		// recompute across the whole backfilled history, not just the
		// evaluation window
		return recompute(ctx, o.calc, time.Duration(yrs)*365*24*time.Hour)

	case "check":
		return runCheck(ctx, o)

	case "summary":
		b := &summary.Builder{Calc: o.calc, Store: o.store, Mon: o.mon}
		text, significant, err := b.Build(ctx)
		if err != nil {
			return err
		}
		fmt.Println(text)
		if !significant {
			log.Info().Msg("nothing significant today, digest not delivered")
			return nil
		}
		if o.transport == nil {
			log.Info().Msg("telegram disabled, digest printed only")
			return nil
		}
		return o.transport.Send(ctx, text)

	case "export":
		exp := &dashboard.Exporter{Calc: o.calc, Store: o.store, Mon: o.mon}
		return exp.WriteFile(ctx, o.out)

	case "test-telegram":
		if err := o.tg.SendTest(ctx); err != nil {
			return err
		}
		log.Info().Msg("telegram test message delivered")
		return nil

	default:
		return fmt.Errorf("unknown job %q, want fetch|backfill|check|summary|export|test-telegram", job)
	}
}

// runCheck evaluates every rule once and waits for queued notifications to
// drain before returning, so the process can exit without losing deliveries.
func runCheck(ctx context.Context, o jobOpts) error {
	var ch chan notifier.TransitionEvent
	done := make(chan struct{})
	if o.transport != nil {
		ch = make(chan notifier.TransitionEvent, o.cfg.Jobs.AlertChanSize)
		consumer := notifier.NewConsumer(o.transport)
		go func() {
			consumer.Start(ctx, ch)
			close(done)
		}()
	} else {
		close(done)
	}

	stats, err := evaluator.RunCycle(ctx, evaluator.Deps{
		Evaluator: &evaluator.Evaluator{
			Store:      o.store,
			Mon:        o.mon,
			Rules:      o.rules,
			NotifyCh:   ch,
			Severities: o.severities,
			DryRun:     o.dryRun,
		},
		Calc: o.calc,
	})
	if ch != nil {
		close(ch)
	}
	<-done
	if err != nil {
		return err
	}
	log.Info().
		Int("evaluated", stats.Evaluated).
		Int("breaches", stats.Breaches).
		Int("transitions", stats.Transitions).
		Int("unknown", stats.Unknown).
		Int("notified", stats.Notified).
		Msg("check complete")
	return nil
}

func recompute(ctx context.Context, calc *metrics.Calculator, lookback time.Duration) error {
	frame, err := calc.ComputeAll(ctx, lookback)
	if err != nil {
		return fmt.Errorf("recompute metrics: %w", err)
	}
	stored, err := calc.StoreDerived(ctx, frame)
	if err != nil {
		return fmt.Errorf("store derived metrics: %w", err)
	}
	log.Info().Int("points", stored).Msg("derived metrics stored")
	return nil
}

func logFetchCounts(counts map[string]int, msg string) {
	total := 0
	for _, n := range counts {
		total += n
	}
	log.Info().Int("series", len(counts)).Int("rows", total).Msg(msg)
}

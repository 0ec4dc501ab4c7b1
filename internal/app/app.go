// Package app wires configuration, storage, upstream clients, delivery and
// the batch orchestrator into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bsewatch/internal/batch"
	"bsewatch/internal/config"
	"bsewatch/internal/disclosure"
	"bsewatch/internal/dispatch"
	"bsewatch/internal/eventbus"
	"bsewatch/internal/httpapi"
	"bsewatch/internal/ledger"
	"bsewatch/internal/observability/metrics"
	"bsewatch/internal/quotes"
	"bsewatch/internal/runtime/supervisor"
	"bsewatch/internal/scheduler"
	"bsewatch/internal/storage"
	"bsewatch/internal/summary"
	kit "bsewatch/internal/transport"
	telegram "bsewatch/internal/transport/telegram/adapter"
	logx "bsewatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	metrics *metrics.Metrics
	quotes  *quotes.Cache
	disp    *dispatch.Dispatcher
	orch    *batch.Orchestrator
	sched   *scheduler.Service
	api     *httpapi.Server

	sup *supervisor.Supervisor
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).Component("telegram")
	var sender kit.Sender
	ad, err := telegram.New(telegram.Config{
		Token:  cfg.Telegram.Token,
		APIURL: cfg.Telegram.APIURL,
		// Send-only: skip the getMe round trip at startup.
		Offline:     true,
		HTTPTimeout: 60 * time.Second,
	}, bootLog)
	switch {
	case err == nil:
		sender = ad
	case errors.Is(err, kit.ErrDisabled):
		bootLog.Warn("telegram token not set; deliveries disabled")
	default:
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logs, log := logx.New(mapLogConfig(cfg), sender)
	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log.Component("app"),
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}
	if err := a.build(ctx, cfg, sender, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, sender kit.Sender, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, sc, log.Component("storage"))
	switch {
	case err == nil:
		a.store = store
		a.log.Info("storage ready", logx.String("driver", sc.Driver))
	case errors.Is(err, storage.ErrDisabled):
		a.log.Warn("storage disabled; batch runs will fail until configured")
	default:
		return fmt.Errorf("storage: %w", err)
	}

	timeout, err := config.ParseDurationField("sources.chart.timeout", cfg.Sources.Chart.Timeout)
	if err != nil {
		return err
	}
	ttl, err := config.ParseDurationOrDefault("sources.chart.cache_ttl", cfg.Sources.Chart.CacheTTL, quotes.DefaultTTL)
	if err != nil {
		return err
	}
	a.quotes = quotes.NewCache(quotes.NewChartClient(cfg.Sources.Chart.URL, timeout),
		quotes.WithTTL(ttl),
		quotes.WithLogger(log.Component("quotes")),
		quotes.WithMetrics(a.metrics),
	)

	discTimeout, err := config.ParseDurationField("sources.disclosure.timeout", cfg.Sources.Disclosure.Timeout)
	if err != nil {
		return err
	}
	fetcher := disclosure.NewFetcher(cfg.Sources.Disclosure.URL, discTimeout,
		disclosure.WithFetcherLogger(log.Component("disclosure")),
		disclosure.WithFetcherMetrics(a.metrics),
	)
	attachments := disclosure.NewAttachmentClient(disclosure.AttachmentConfig{
		BaseURL:  cfg.Sources.Disclosure.AttachmentBase,
		Timeout:  discTimeout,
		Attempts: cfg.Sources.Disclosure.AttachmentAttempts,
	}, log.Component("attachments"), a.metrics)

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	a.disp = dispatch.New(dc, sender, log.Component("dispatch"), a.metrics)

	window, err := mapMarketWindow(cfg)
	if err != nil {
		return err
	}
	bc, err := mapBatchConfig(cfg)
	if err != nil {
		return err
	}

	deps := batch.Deps{
		Ledger:      ledger.New(a.store, log.Component("ledger")),
		Disclosures: fetcher,
		Attachments: attachments,
		Dispatcher:  a.disp,
		Window:      window,
		Bus:         a.bus,
		Metrics:     a.metrics,
		Log:         log.Component("batch"),
	}
	if a.store != nil {
		deps.Registry = a.store
		deps.RunLog = a.store
	}
	if path := strings.TrimSpace(cfg.Sources.SymbolsPath); path != "" {
		symbols := quotes.NewCSVSymbols(path)
		pct, lookback, err := mapSpike(cfg)
		if err != nil {
			return err
		}
		deps.Prices = summary.NewBuilder(symbols, a.quotes, summary.WithLogger(log.Component("summary")))
		deps.Spikes = summary.NewSpikeDetector(symbols, a.quotes, pct, lookback, summary.WithLogger(log.Component("spikes")))
	} else {
		a.log.Warn("sources.symbols_path not set; price jobs disabled")
	}
	a.orch = batch.New(bc, deps)

	a.sched = scheduler.New(window.Location, log.Component("scheduler"))
	if err := a.registerSchedules(cfg, bc); err != nil {
		return err
	}

	a.api = httpapi.New(cfg.HTTP.CronKey, httpapi.Deps{
		Runner:    a.orch,
		Runs:      a.runLog(),
		Store:     a.pinger(),
		Metrics:   a.metrics,
		Schedules: a.sched.Snapshot,
		Pprof:     cfg.HTTP.Pprof,
		Log:       log.Component("http"),
	})
	return nil
}

func (a *App) runLog() storage.RunLog {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) pinger() httpapi.Pinger {
	if a.store == nil {
		return nil
	}
	return a.store
}

// registerSchedules replaces every schedule with the enabled entries of cfg.
func (a *App) registerSchedules(cfg *config.Config, bc batch.Config) error {
	a.sched.RemoveAll()
	timeout := scheduleTimeout(bc)
	for _, job := range batch.Jobs {
		sc, ok := cfg.Schedules[job]
		if !ok || !sc.Enabled {
			continue
		}
		req := batch.Request{Job: job, HoursBack: sc.HoursBack, Force: sc.Force}
		if err := a.sched.Add(job, sc.Spec, timeout, a.scheduledRun(req)); err != nil {
			return fmt.Errorf("schedules.%s: %w", job, err)
		}
	}
	return nil
}

func (a *App) scheduledRun(req batch.Request) scheduler.Job {
	return func(ctx context.Context) error {
		res, err := a.orch.Run(ctx, req)
		if err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d subscriber(s) failed", len(res.Errors))
		}
		return nil
	}
}

func (a *App) Logger() logx.Logger { return a.log }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Orchestrator() *batch.Orchestrator { return a.orch }

// Close releases resources held by a built but stopped App.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

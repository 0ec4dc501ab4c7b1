package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bsewatch/internal/batch"
	"bsewatch/internal/config"
	"bsewatch/internal/eventbus"
	"bsewatch/internal/runtime/supervisor"
	logx "bsewatch/pkg/logx"
)

// StopReason is logged when the process shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

// Done is closed when the supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the scheduler, the HTTP API, the config watcher and the
// event log under one supervisor.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.Component("supervisor")), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapMarketWindow(c); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(c); err != nil {
			return err
		}
		_, _, err := mapSpike(c)
		return err
	})

	a.sched.Start(a.sup.Context())
	a.api.SetSupervisor(a.sup)

	if cfg.HTTP.Enabled {
		addr := strings.TrimSpace(cfg.HTTP.Addr)
		if addr == "" {
			addr = ":8080"
		}
		a.sup.GoRestart("http", func(c context.Context) error {
			return a.api.Serve(c, addr)
		}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("bsewatch started",
		logx.Bool("http", cfg.HTTP.Enabled),
		logx.Int("schedules", len(a.sched.Snapshot())),
		logx.Bool("delivery", a.disp.Ready()),
	)
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.BatchFinished:
		res, ok := e.Data.(batch.Result)
		if !ok {
			return
		}
		if len(res.Errors) == 0 {
			return
		}
		a.log.Warn("batch finished with failed subscribers",
			logx.String("run_id", res.RunID),
			logx.String("job", res.Job),
			logx.Int("failed", len(res.Errors)),
			logx.Int("processed", res.Processed),
		)
	case eventbus.SubscriberFailed:
		a.log.Warn("subscriber failed", logx.Any("detail", e.Data))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig hot-swaps everything that does not need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("config change needs a restart to take full effect", logx.Strings("changed", sections))
	}

	a.logs.Apply(mapLogConfig(next))
	a.api.SetKey(next.HTTP.CronKey)

	if dc, err := mapDispatchConfig(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}

	bc, err := mapBatchConfig(next)
	if err != nil {
		a.log.Warn("invalid batch config; keeping previous", logx.Err(err))
	} else {
		a.orch.Apply(bc)
		if err := a.registerSchedules(next, bc); err != nil {
			a.log.Warn("schedule reload failed", logx.Err(err))
		}
	}

	if ttl, err := config.ParseDurationField("sources.chart.cache_ttl", next.Sources.Chart.CacheTTL); err == nil && ttl > 0 {
		a.quotes.SetTTL(ttl)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop cancels background loops, drains the scheduler and closes storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	schedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.sched.Stop(schedCtx)
	cancel()

	var errs []string
	if err := a.sup.Wait(ctx); err != nil {
		errs = append(errs, err.Error())
	}
	a.log.Info("stopped")
	if err := a.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("stop: %s", strings.Join(errs, "; "))
	}
	return nil
}

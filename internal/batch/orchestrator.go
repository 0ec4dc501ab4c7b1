// Package batch runs one notification job across every subscriber.
//
// An invocation bulk-loads the registry, then hands each subscriber to one
// worker. Per-subscriber failures (errors, panics, deadline overruns) are
// collected into the Result; only configuration problems fail the call.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"bsewatch/internal/disclosure"
	"bsewatch/internal/dispatch"
	"bsewatch/internal/eventbus"
	"bsewatch/internal/ledger"
	"bsewatch/internal/market"
	"bsewatch/internal/model"
	"bsewatch/internal/observability/metrics"
	"bsewatch/internal/storage"
	"bsewatch/internal/summary"
	kit "bsewatch/internal/transport"
	logx "bsewatch/pkg/logx"
	"bsewatch/pkg/tgui"
)

// Dispatcher is the send side used by handlers.
type Dispatcher interface {
	Ready() bool
	SendDigest(ctx context.Context, recipients []model.Recipient, text string) int
	SendAttachment(ctx context.Context, recipients []model.Recipient, doc kit.Document, caption string) []dispatch.Outcome
}

type PriceBuilder interface {
	Build(ctx context.Context, insts []model.WatchedInstrument) (summary.Digest, error)
}

type SpikeBuilder interface {
	Build(ctx context.Context, insts []model.WatchedInstrument) (summary.SpikeDigest, error)
}

// Deps are the long-lived collaborators, constructed once per process.
type Deps struct {
	Registry    storage.Registry
	RunLog      storage.RunLog
	Ledger      *ledger.Ledger
	Disclosures disclosure.Source
	Attachments disclosure.Attachments
	Prices      PriceBuilder
	Spikes      SpikeBuilder
	Dispatcher  Dispatcher
	Window      market.Window
	Bus         eventbus.Bus
	Metrics     *metrics.Metrics
	Log         logx.Logger
	Now         func() time.Time
}

type Orchestrator struct {
	deps Deps
	log  logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Window == (market.Window{}) {
		deps.Window = market.Default()
	}
	return &Orchestrator{deps: deps, log: deps.Log, cfg: cfg.withDefaults()}
}

// Apply swaps worker count, deadline and default window for later runs.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg.withDefaults()
	o.mu.Unlock()
}

func (o *Orchestrator) config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// check reports configuration errors for job before anything is loaded.
func (o *Orchestrator) check(job string) error {
	if !KnownJob(job) {
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	var missing []string
	if o.deps.Registry == nil {
		missing = append(missing, "registry")
	}
	if o.deps.Dispatcher == nil || !o.deps.Dispatcher.Ready() {
		missing = append(missing, "messaging sender")
	}
	switch job {
	case JobAnnouncements:
		if o.deps.Disclosures == nil || o.deps.Attachments == nil {
			missing = append(missing, "disclosure source")
		}
	case JobEveningSummary:
		if o.deps.Prices == nil {
			missing = append(missing, "price builder")
		}
	case JobSpikeAlerts:
		if o.deps.Spikes == nil {
			missing = append(missing, "spike detector")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrNotConfigured, missing)
	}
	return nil
}

// Run executes req across all subscribers.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if err := o.check(req.Job); err != nil {
		return Result{Job: req.Job}, err
	}
	cfg := o.config()
	if req.HoursBack <= 0 {
		req.HoursBack = cfg.DefaultHoursBack
	}

	// started stamps the run in the job's clock; elapsed time is wall clock.
	started, t0 := o.deps.Now(), time.Now()
	res := Result{RunID: uuid.NewString(), Job: req.Job, StartedAt: started, Errors: []SubscriberError{}}
	log := o.log.With(logx.String("run_id", res.RunID), logx.String("job", req.Job))

	insts, recs, order, err := o.load(ctx)
	if err != nil {
		o.deps.Metrics.BatchFinished(req.Job, false, time.Since(t0), 0, 0, 0, 0)
		return res, fmt.Errorf("load registry: %w", err)
	}
	o.deps.Bus.Publish(eventbus.Event{Type: eventbus.BatchStarted, Data: map[string]any{
		"run_id": res.RunID, "job": req.Job, "subscribers": len(order),
	}})
	log.Info("batch started", logx.Int("subscribers", len(order)), logx.Int("workers", cfg.Workers))

	rctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	outs := make([]outcome, len(order))
	p := pool.New().WithMaxGoroutines(cfg.Workers)
	for i, sub := range order {
		p.Go(func() {
			outs[i] = o.runSubscriber(rctx, req, started, sub, insts[sub], recs[sub])
		})
	}
	p.Wait()

	failed := 0
	for _, out := range outs {
		switch {
		case out.err != nil:
			failed++
			res.Skipped++
			res.Errors = append(res.Errors, SubscriberError{SubscriberID: out.sub, Error: out.err.Error()})
			o.deps.Bus.Publish(eventbus.Event{Type: eventbus.SubscriberFailed, Data: map[string]any{
				"run_id": res.RunID, "job": req.Job, "subscriber": string(out.sub), "error": out.err.Error(),
			}})
		case out.processed:
			res.Processed++
			res.NotificationsSent += out.sent
			res.Recipients += out.recipients
		default:
			res.Skipped++
		}
		o.appendRun(ctx, log, res.RunID, req.Job, started, out)
	}

	res.Duration = time.Since(t0)
	o.deps.Metrics.BatchFinished(req.Job, true, res.Duration, res.Processed, res.Skipped-failed, failed, res.NotificationsSent)
	o.deps.Bus.Publish(eventbus.Event{Type: eventbus.BatchFinished, Data: res})
	log.Info("batch finished",
		logx.Int("processed", res.Processed),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", failed),
		logx.Int("sent", res.NotificationsSent),
		logx.Duration("took", res.Duration))
	return res, nil
}

// load reads the registry in two bulk queries. order lists every subscriber
// present in either set, instruments first, in first-seen order.
func (o *Orchestrator) load(ctx context.Context) (map[model.SubscriberID][]model.WatchedInstrument, map[model.SubscriberID][]model.Recipient, []model.SubscriberID, error) {
	ws, err := o.deps.Registry.ListAllWatched(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	rs, err := o.deps.Registry.ListAllRecipients(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	insts := map[model.SubscriberID][]model.WatchedInstrument{}
	recs := map[model.SubscriberID][]model.Recipient{}
	var order []model.SubscriberID
	seen := map[model.SubscriberID]bool{}
	note := func(s model.SubscriberID) {
		if !seen[s] {
			seen[s] = true
			order = append(order, s)
		}
	}
	for _, w := range ws {
		if w.SubscriberID == "" {
			continue
		}
		note(w.SubscriberID)
		insts[w.SubscriberID] = append(insts[w.SubscriberID], w)
	}
	for _, r := range rs {
		if r.SubscriberID == "" {
			continue
		}
		note(r.SubscriberID)
		recs[r.SubscriberID] = append(recs[r.SubscriberID], r)
	}
	return insts, recs, order, nil
}

func (o *Orchestrator) runSubscriber(ctx context.Context, req Request, now time.Time, sub model.SubscriberID, insts []model.WatchedInstrument, recs []model.Recipient) (out outcome) {
	out = outcome{sub: sub, recipients: len(recs)}
	if len(insts) == 0 || len(recs) == 0 {
		return out
	}
	if err := ctx.Err(); err != nil {
		out.err = fmt.Errorf("batch deadline exceeded before start: %w", err)
		return out
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.log.Error("subscriber panic",
				logx.String("subscriber", string(sub)),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
			out.processed = false
			out.sent = 0
			out.err = fmt.Errorf("panic: %v", rec)
		}
	}()

	w := work{sub: sub, insts: insts, recs: recs, now: now}
	var sent int
	var err error
	switch req.Job {
	case JobAnnouncements:
		sent, err = o.announcements(ctx, w, req.HoursBack)
	case JobSpikeAlerts:
		sent, err = o.spikeAlerts(ctx, w, req.Force)
	case JobEveningSummary:
		sent, err = o.eveningSummary(ctx, w, req.Force)
	}
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("batch deadline exceeded: %w", ctx.Err())
	}
	if err != nil {
		out.err = err
		out.sent = sent
		return out
	}
	out.processed = true
	out.sent = sent
	return out
}

func (o *Orchestrator) appendRun(ctx context.Context, log logx.Logger, runID, job string, at time.Time, out outcome) {
	if o.deps.RunLog == nil {
		return
	}
	e := model.RunLogEntry{
		RunID:             runID,
		Job:               job,
		SubscriberID:      out.sub,
		Processed:         out.processed,
		NotificationsSent: out.sent,
		RecipientCount:    out.recipients,
		RunAt:             at.UTC(),
	}
	if out.err != nil {
		e.Error = tgui.TruncRunes(out.err.Error(), 500)
	}
	// The run context may be past its deadline; the log write gets its own.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.deps.RunLog.AppendRun(wctx, e); err != nil {
		log.Warn("run log write failed", logx.String("subscriber", string(out.sub)), logx.Err(err))
	}
}

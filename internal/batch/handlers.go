package batch

import (
	"context"
	"time"

	"bsewatch/internal/disclosure"
	"bsewatch/internal/model"
	logx "bsewatch/pkg/logx"
)

// work is one subscriber's bulk-loaded slice of the registry.
type work struct {
	sub   model.SubscriberID
	insts []model.WatchedInstrument
	recs  []model.Recipient
	now   time.Time
}

// recipients re-reads the subscriber's current recipients so an address
// reassigned mid-run goes to its new owner only. The bulk snapshot is the
// fallback when the lookup fails.
func (o *Orchestrator) recipients(ctx context.Context, w work) []model.Recipient {
	cur, err := o.deps.Registry.ListRecipients(ctx, w.sub)
	if err != nil {
		o.log.Debug("recipient refresh failed; using snapshot", logx.String("subscriber", string(w.sub)), logx.Err(err))
		return w.recs
	}
	return cur
}

// announcements delivers new disclosures: one digest per recipient, then
// every attachment. Each disclosure is marked seen after its attachment
// attempt whether or not the attempt worked.
func (o *Orchestrator) announcements(ctx context.Context, w work, hoursBack int) (int, error) {
	since := w.now.Add(-time.Duration(hoursBack) * time.Hour)
	names := make(map[string]string, len(w.insts))
	var fetched []model.Disclosure
	for _, in := range w.insts {
		names[in.ExchangeCode] = in.Name()
		fetched = append(fetched, o.deps.Disclosures.Fetch(ctx, in.ExchangeCode, since)...)
	}
	fresh := o.deps.Ledger.Filter(ctx, w.sub, fetched)
	if len(fresh) == 0 {
		return 0, nil
	}

	dg := disclosure.Consolidate(fresh, names, w.now)
	recs := o.recipients(ctx, w)
	sent := o.deps.Dispatcher.SendDigest(ctx, recs, dg.Text)

	log := o.log.With(logx.String("subscriber", string(w.sub)))
	for _, it := range dg.Items {
		doc, err := o.deps.Attachments.Fetch(ctx, it.AttachmentName)
		if err != nil {
			log.Warn("attachment unavailable; marking seen", logx.String("disclosure", it.ID), logx.Err(err))
		} else {
			failed := 0
			for _, out := range o.deps.Dispatcher.SendAttachment(ctx, recs, doc, it.Caption) {
				if !out.OK() {
					failed++
				}
			}
			if failed > 0 {
				log.Debug("attachment partially delivered", logx.String("disclosure", it.ID), logx.Int("failed", failed))
			}
		}
		if err := o.deps.Ledger.MarkSeen(context.WithoutCancel(ctx), w.sub, it.Disclosure, it.Caption); err != nil {
			log.Warn("mark seen failed", logx.String("disclosure", it.ID), logx.Err(err))
		}
	}
	return sent, nil
}

// spikeAlerts only runs while the market is open unless forced.
func (o *Orchestrator) spikeAlerts(ctx context.Context, w work, force bool) (int, error) {
	if !force && !o.deps.Window.IsOpen(w.now) {
		return 0, nil
	}
	dg, err := o.deps.Spikes.Build(ctx, w.insts)
	if err != nil {
		return 0, err
	}
	if dg.Empty() {
		return 0, nil
	}
	return o.deps.Dispatcher.SendDigest(ctx, o.recipients(ctx, w), dg.Text), nil
}

// eveningSummary is suppressed at or before the close unless forced.
func (o *Orchestrator) eveningSummary(ctx context.Context, w work, force bool) (int, error) {
	if !force && !o.deps.Window.IsPastClose(w.now) {
		return 0, nil
	}
	dg, err := o.deps.Prices.Build(ctx, w.insts)
	if err != nil {
		return 0, err
	}
	if dg.Empty() {
		return 0, nil
	}
	return o.deps.Dispatcher.SendDigest(ctx, o.recipients(ctx, w), dg.Text), nil
}

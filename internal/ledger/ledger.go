// Package ledger gates disclosure redelivery per subscriber.
//
// Lookups fail open: when the backing store errors (or is missing) a
// disclosure counts as unseen, so a storage outage can cause a duplicate
// delivery but never a silent loss.
package ledger

import (
	"context"
	"time"

	"bsewatch/internal/model"
	"bsewatch/internal/storage"
	logx "bsewatch/pkg/logx"
)

type Ledger struct {
	store storage.Ledger
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Ledger, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{store: store, log: log, now: time.Now}
}

// HasSeen reports whether id was already handled for sub. Errors are logged
// and read as false.
func (l *Ledger) HasSeen(ctx context.Context, sub model.SubscriberID, id string) bool {
	if l == nil || l.store == nil {
		return false
	}
	seen, err := l.store.HasSeen(ctx, sub, id)
	if err != nil {
		l.log.Warn("seen lookup failed; treating as new",
			logx.String("subscriber", string(sub)), logx.String("disclosure", id), logx.Err(err))
		return false
	}
	return seen
}

// Filter keeps the disclosures sub has not seen, dropping repeated ids.
func (l *Ledger) Filter(ctx context.Context, sub model.SubscriberID, ds []model.Disclosure) []model.Disclosure {
	out := make([]model.Disclosure, 0, len(ds))
	dup := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		if _, ok := dup[d.ID]; ok {
			continue
		}
		dup[d.ID] = struct{}{}
		if !l.HasSeen(ctx, sub, d.ID) {
			out = append(out, d)
		}
	}
	return out
}

// MarkSeen records the delivery attempt for d. It is called whether or not
// the attempt succeeded.
func (l *Ledger) MarkSeen(ctx context.Context, sub model.SubscriberID, d model.Disclosure, caption string) error {
	if l == nil || l.store == nil {
		return storage.ErrDisabled
	}
	return l.store.MarkSeen(ctx, model.SeenDisclosure{
		SubscriberID:   sub,
		DisclosureID:   d.ID,
		ExchangeCode:   d.ExchangeCode,
		Headline:       d.Headline,
		AttachmentName: d.AttachmentName,
		DisclosureTime: d.Time,
		Caption:        caption,
		SeenAt:         l.now().UTC(),
	})
}

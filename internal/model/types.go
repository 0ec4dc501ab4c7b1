package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriberID is the opaque identifier of a subscriber.
type SubscriberID string

// WatchedInstrument is one exchange-listed security a subscriber monitors.
// There is at most one row per (SubscriberID, ExchangeCode).
type WatchedInstrument struct {
	SubscriberID SubscriberID `json:"subscriber_id"`
	ExchangeCode string       `json:"exchange_code"`
	DisplayName  string       `json:"display_name"`
}

// Name returns the display name, falling back to the exchange code.
func (w WatchedInstrument) Name() string {
	if w.DisplayName != "" {
		return w.DisplayName
	}
	return w.ExchangeCode
}

// Recipient maps a messaging channel address to its current owner.
// ChannelAddress is unique across all subscribers.
type Recipient struct {
	SubscriberID   SubscriberID `json:"subscriber_id"`
	ChannelAddress string       `json:"channel_address"`
}

// Disclosure is a regulatory filing published for one instrument.
type Disclosure struct {
	ID             string    `json:"id"`
	ExchangeCode   string    `json:"exchange_code"`
	Headline       string    `json:"headline"`
	AttachmentName string    `json:"attachment_name"`
	Time           time.Time `json:"time"`
}

// SeenDisclosure is an append-only ledger row. Its existence for
// (SubscriberID, DisclosureID) means the disclosure is never redelivered.
type SeenDisclosure struct {
	SubscriberID   SubscriberID `json:"subscriber_id"`
	DisclosureID   string       `json:"disclosure_id"`
	ExchangeCode   string       `json:"exchange_code"`
	Headline       string       `json:"headline"`
	AttachmentName string       `json:"attachment_name"`
	DisclosureTime time.Time    `json:"disclosure_time"`
	Caption        string       `json:"caption"`
	SeenAt         time.Time    `json:"seen_at"`
}

// Sample is one (timestamp, close) point of a price series.
type Sample struct {
	At    time.Time       `json:"at"`
	Close decimal.Decimal `json:"close"`
}

// Series is an ordered (oldest first) list of samples for one
// (symbol, range, interval) query. Series values are immutable once built.
type Series struct {
	Symbol   string   `json:"symbol"`
	Range    string   `json:"range"`
	Interval string   `json:"interval"`
	Samples  []Sample `json:"samples"`
}

// Len reports the number of samples (nil-safe).
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// Last returns the newest sample.
func (s *Series) Last() (Sample, bool) {
	if s.Len() == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// RunLogEntry records the outcome of one subscriber in one batch invocation.
// RunID is shared by all entries of the same invocation.
type RunLogEntry struct {
	ID                int64        `json:"id,omitempty"`
	RunID             string       `json:"run_id"`
	Job               string       `json:"job"`
	SubscriberID      SubscriberID `json:"subscriber_id"`
	Processed         bool         `json:"processed"`
	NotificationsSent int          `json:"notifications_sent"`
	RecipientCount    int          `json:"recipients"`
	Error             string       `json:"error,omitempty"`
	RunAt             time.Time    `json:"run_at"`
}

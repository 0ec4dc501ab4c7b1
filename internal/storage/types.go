package storage

import (
	"context"
	"errors"
	"time"

	"bsewatch/internal/model"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrInvalid is returned for writes missing a required key.
	ErrInvalid = errors.New("storage: invalid record")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// Registry is the read side of the subscriber registry used by batch runs.
type Registry interface {
	ListAllWatched(ctx context.Context) ([]model.WatchedInstrument, error)
	ListAllRecipients(ctx context.Context) ([]model.Recipient, error)
	ListWatched(ctx context.Context, sub model.SubscriberID) ([]model.WatchedInstrument, error)
	ListRecipients(ctx context.Context, sub model.SubscriberID) ([]model.Recipient, error)
}

// Admin mutates the registry. AddWatched upserts the display name.
// AddRecipient moves an existing address to the new owner and returns the
// previous owner ("" if the address was new).
type Admin interface {
	AddWatched(ctx context.Context, w model.WatchedInstrument) error
	RemoveWatched(ctx context.Context, sub model.SubscriberID, exchangeCode string) (bool, error)
	AddRecipient(ctx context.Context, r model.Recipient) (model.SubscriberID, error)
	RemoveRecipient(ctx context.Context, channelAddress string) (bool, error)
}

// Ledger records which disclosures each subscriber has already received.
// MarkSeen is idempotent: the first row for (subscriber, id) wins.
type Ledger interface {
	HasSeen(ctx context.Context, sub model.SubscriberID, disclosureID string) (bool, error)
	MarkSeen(ctx context.Context, s model.SeenDisclosure) error
}

// RunLog stores one entry per subscriber per batch invocation.
// RecentRuns returns the newest entries first.
type RunLog interface {
	AppendRun(ctx context.Context, e model.RunLogEntry) error
	RecentRuns(ctx context.Context, limit int) ([]model.RunLogEntry, error)
}

type Store interface {
	Registry
	Admin
	Ledger
	RunLog
	Ping(ctx context.Context) error
	Close() error
}

func validWatched(w model.WatchedInstrument) error {
	if w.SubscriberID == "" || w.ExchangeCode == "" {
		return ErrInvalid
	}
	return nil
}

func validRecipient(r model.Recipient) error {
	if r.SubscriberID == "" || r.ChannelAddress == "" {
		return ErrInvalid
	}
	return nil
}

func validSeen(s model.SeenDisclosure) error {
	if s.SubscriberID == "" || s.DisclosureID == "" {
		return ErrInvalid
	}
	return nil
}

package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"bsewatch/internal/model"
)

type seenKey struct {
	sub model.SubscriberID
	id  string
}

// memState is the in-memory data set shared by the memory and file drivers.
// Registry slices keep insertion order.
type memState struct {
	Watched    []model.WatchedInstrument `json:"watched"`
	Recipients []model.Recipient         `json:"recipients"`
	Seen       []model.SeenDisclosure    `json:"seen"`
	Runs       []model.RunLogEntry       `json:"runs"`
	NextRunID  int64                     `json:"next_run_id"`
}

type memStore struct {
	mu     sync.RWMutex
	st     memState
	seen   map[seenKey]struct{}
	closed bool
}

// NewMemory returns a volatile Store.
func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{seen: map[seenKey]struct{}{}}
}

func (s *memStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDisabled
	}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListAllWatched(context.Context) ([]model.WatchedInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.Watched), nil
}

func (s *memStore) ListAllRecipients(context.Context) ([]model.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.Recipients), nil
}

func (s *memStore) ListWatched(_ context.Context, sub model.SubscriberID) ([]model.WatchedInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WatchedInstrument
	for _, w := range s.st.Watched {
		if w.SubscriberID == sub {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *memStore) ListRecipients(_ context.Context, sub model.SubscriberID) ([]model.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Recipient
	for _, r := range s.st.Recipients {
		if r.SubscriberID == sub {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) AddWatched(_ context.Context, w model.WatchedInstrument) error {
	if err := validWatched(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addWatchedLocked(w)
	return nil
}

func (s *memStore) addWatchedLocked(w model.WatchedInstrument) {
	for i, cur := range s.st.Watched {
		if cur.SubscriberID == w.SubscriberID && cur.ExchangeCode == w.ExchangeCode {
			s.st.Watched[i].DisplayName = w.DisplayName
			return
		}
	}
	s.st.Watched = append(s.st.Watched, w)
}

func (s *memStore) RemoveWatched(_ context.Context, sub model.SubscriberID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeWatchedLocked(sub, code), nil
}

func (s *memStore) removeWatchedLocked(sub model.SubscriberID, code string) bool {
	n := len(s.st.Watched)
	s.st.Watched = slices.DeleteFunc(s.st.Watched, func(w model.WatchedInstrument) bool {
		return w.SubscriberID == sub && w.ExchangeCode == code
	})
	return len(s.st.Watched) != n
}

func (s *memStore) AddRecipient(_ context.Context, r model.Recipient) (model.SubscriberID, error) {
	if err := validRecipient(r); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRecipientLocked(r), nil
}

func (s *memStore) addRecipientLocked(r model.Recipient) model.SubscriberID {
	for i, cur := range s.st.Recipients {
		if cur.ChannelAddress == r.ChannelAddress {
			prev := cur.SubscriberID
			s.st.Recipients[i].SubscriberID = r.SubscriberID
			return prev
		}
	}
	s.st.Recipients = append(s.st.Recipients, r)
	return ""
}

func (s *memStore) RemoveRecipient(_ context.Context, addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeRecipientLocked(addr), nil
}

func (s *memStore) removeRecipientLocked(addr string) bool {
	n := len(s.st.Recipients)
	s.st.Recipients = slices.DeleteFunc(s.st.Recipients, func(r model.Recipient) bool {
		return r.ChannelAddress == addr
	})
	return len(s.st.Recipients) != n
}

func (s *memStore) HasSeen(_ context.Context, sub model.SubscriberID, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[seenKey{sub, id}]
	return ok, nil
}

func (s *memStore) MarkSeen(_ context.Context, sd model.SeenDisclosure) error {
	if err := validSeen(sd); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markSeenLocked(sd)
	return nil
}

func (s *memStore) markSeenLocked(sd model.SeenDisclosure) bool {
	k := seenKey{sd.SubscriberID, sd.DisclosureID}
	if _, ok := s.seen[k]; ok {
		return false
	}
	if sd.SeenAt.IsZero() {
		sd.SeenAt = time.Now().UTC()
	}
	s.seen[k] = struct{}{}
	s.st.Seen = append(s.st.Seen, sd)
	return true
}

func (s *memStore) AppendRun(_ context.Context, e model.RunLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendRunLocked(e)
	return nil
}

func (s *memStore) appendRunLocked(e model.RunLogEntry) model.RunLogEntry {
	s.st.NextRunID++
	e.ID = s.st.NextRunID
	if e.RunAt.IsZero() {
		e.RunAt = time.Now().UTC()
	}
	s.st.Runs = append(s.st.Runs, e)
	return e
}

func (s *memStore) RecentRuns(_ context.Context, limit int) ([]model.RunLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestRuns(s.st.Runs, limit), nil
}

func newestRuns(runs []model.RunLogEntry, limit int) []model.RunLogEntry {
	out := slices.Clone(runs)
	slices.SortStableFunc(out, func(a, b model.RunLogEntry) int {
		if c := b.RunAt.Compare(a.RunAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// rebuildIndex restores the seen index after loading state from disk.
func (s *memStore) rebuildIndex() {
	s.seen = make(map[seenKey]struct{}, len(s.st.Seen))
	for _, sd := range s.st.Seen {
		s.seen[seenKey{sd.SubscriberID, sd.DisclosureID}] = struct{}{}
	}
}

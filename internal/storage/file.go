package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"bsewatch/internal/model"
	logx "bsewatch/pkg/logx"
)

// fileStore keeps the whole data set in memory and persists every mutation.
//
// Files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only mutations since the snapshot)
type fileStore struct {
	*memStore
	log logx.Logger

	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
	keepRuns     int
}

type journalOp struct {
	Op        string                   `json:"op"`
	Watched   *model.WatchedInstrument `json:"watched,omitempty"`
	Recipient *model.Recipient         `json:"recipient,omitempty"`
	Seen      *model.SeenDisclosure    `json:"seen,omitempty"`
	Run       *model.RunLogEntry       `json:"run,omitempty"`
}

const (
	opWatchAdd     = "watch_add"
	opWatchRemove  = "watch_rm"
	opRecipientAdd = "recipient_add"
	opRecipientRm  = "recipient_rm"
	opSeen         = "seen"
	opRun          = "run"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fs := &fileStore{
		memStore:     newMemStore(),
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 1000,
		keepRuns:     10000,
	}
	journalPath := prefix + ".journal.jsonl"

	if err := fs.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := fs.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	fs.rebuildIndex()

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	fs.journal = jf
	return fs, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &s.st)
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		s.apply(op)
	}
	return sc.Err()
}

// apply mutates state without journaling. Callers hold mu (or own s exclusively).
func (s *fileStore) apply(op journalOp) {
	switch op.Op {
	case opWatchAdd:
		if op.Watched != nil {
			s.addWatchedLocked(*op.Watched)
		}
	case opWatchRemove:
		if op.Watched != nil {
			s.removeWatchedLocked(op.Watched.SubscriberID, op.Watched.ExchangeCode)
		}
	case opRecipientAdd:
		if op.Recipient != nil {
			s.addRecipientLocked(*op.Recipient)
		}
	case opRecipientRm:
		if op.Recipient != nil {
			s.removeRecipientLocked(op.Recipient.ChannelAddress)
		}
	case opSeen:
		if op.Seen != nil {
			s.rebuildIfNeeded()
			s.markSeenLocked(*op.Seen)
		}
	case opRun:
		if op.Run != nil {
			s.st.Runs = append(s.st.Runs, *op.Run)
			s.st.NextRunID = max(s.st.NextRunID, op.Run.ID)
		}
	}
}

func (s *fileStore) rebuildIfNeeded() {
	if len(s.seen) != len(s.st.Seen) {
		s.rebuildIndex()
	}
}

func (s *fileStore) writeLocked(op journalOp) error {
	if s.journal == nil {
		return errors.New("storage journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.keepRuns > 0 && len(s.st.Runs) > s.keepRuns {
		s.st.Runs = append([]model.RunLogEntry(nil), s.st.Runs[len(s.st.Runs)-s.keepRuns:]...)
	}
	b, err := json.Marshal(&s.st)
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) AddWatched(_ context.Context, w model.WatchedInstrument) error {
	if err := validWatched(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addWatchedLocked(w)
	return s.writeLocked(journalOp{Op: opWatchAdd, Watched: &w})
}

func (s *fileStore) RemoveWatched(_ context.Context, sub model.SubscriberID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeWatchedLocked(sub, code) {
		return false, nil
	}
	w := model.WatchedInstrument{SubscriberID: sub, ExchangeCode: code}
	return true, s.writeLocked(journalOp{Op: opWatchRemove, Watched: &w})
}

func (s *fileStore) AddRecipient(_ context.Context, r model.Recipient) (model.SubscriberID, error) {
	if err := validRecipient(r); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.addRecipientLocked(r)
	return prev, s.writeLocked(journalOp{Op: opRecipientAdd, Recipient: &r})
}

func (s *fileStore) RemoveRecipient(_ context.Context, addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeRecipientLocked(addr) {
		return false, nil
	}
	return true, s.writeLocked(journalOp{Op: opRecipientRm, Recipient: &model.Recipient{ChannelAddress: addr}})
}

func (s *fileStore) MarkSeen(_ context.Context, sd model.SeenDisclosure) error {
	if err := validSeen(sd); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.markSeenLocked(sd) {
		return nil
	}
	stored := s.st.Seen[len(s.st.Seen)-1]
	return s.writeLocked(journalOp{Op: opSeen, Seen: &stored})
}

func (s *fileStore) AppendRun(_ context.Context, e model.RunLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.appendRunLocked(e)
	return s.writeLocked(journalOp{Op: opRun, Run: &stored})
}

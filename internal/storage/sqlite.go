package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bsewatch/internal/model"
	logx "bsewatch/pkg/logx"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) queryWatched(ctx context.Context, where string, args ...any) ([]model.WatchedInstrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id, exchange_code, display_name FROM watched_instruments `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WatchedInstrument
	for rows.Next() {
		var w model.WatchedInstrument
		if err := rows.Scan(&w.SubscriberID, &w.ExchangeCode, &w.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryRecipients(ctx context.Context, where string, args ...any) ([]model.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id, channel_address FROM recipients `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Recipient
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.SubscriberID, &r.ChannelAddress); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAllWatched(ctx context.Context) ([]model.WatchedInstrument, error) {
	return s.queryWatched(ctx, "")
}

func (s *sqliteStore) ListAllRecipients(ctx context.Context) ([]model.Recipient, error) {
	return s.queryRecipients(ctx, "")
}

func (s *sqliteStore) ListWatched(ctx context.Context, sub model.SubscriberID) ([]model.WatchedInstrument, error) {
	return s.queryWatched(ctx, "WHERE subscriber_id = ?", string(sub))
}

func (s *sqliteStore) ListRecipients(ctx context.Context, sub model.SubscriberID) ([]model.Recipient, error) {
	return s.queryRecipients(ctx, "WHERE subscriber_id = ?", string(sub))
}

func (s *sqliteStore) AddWatched(ctx context.Context, w model.WatchedInstrument) error {
	if err := validWatched(w); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watched_instruments(subscriber_id, exchange_code, display_name, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(subscriber_id, exchange_code) DO UPDATE SET display_name = excluded.display_name`,
		string(w.SubscriberID), w.ExchangeCode, w.DisplayName, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) RemoveWatched(ctx context.Context, sub model.SubscriberID, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watched_instruments WHERE subscriber_id = ? AND exchange_code = ?`, string(sub), code)
	return affected(res, err)
}

func (s *sqliteStore) AddRecipient(ctx context.Context, r model.Recipient) (model.SubscriberID, error) {
	if err := validRecipient(r); err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT subscriber_id FROM recipients WHERE channel_address = ?`, r.ChannelAddress).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recipients(channel_address, subscriber_id, created_at) VALUES(?,?,?)
		 ON CONFLICT(channel_address) DO UPDATE SET subscriber_id = excluded.subscriber_id`,
		r.ChannelAddress, string(r.SubscriberID), formatTime(time.Now())); err != nil {
		return "", err
	}
	return model.SubscriberID(prev), tx.Commit()
}

func (s *sqliteStore) RemoveRecipient(ctx context.Context, addr string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE channel_address = ?`, addr)
	return affected(res, err)
}

func (s *sqliteStore) HasSeen(ctx context.Context, sub model.SubscriberID, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_disclosures WHERE subscriber_id = ? AND disclosure_id = ?`, string(sub), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) MarkSeen(ctx context.Context, sd model.SeenDisclosure) error {
	if err := validSeen(sd); err != nil {
		return err
	}
	if sd.SeenAt.IsZero() {
		sd.SeenAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_disclosures(subscriber_id, disclosure_id, exchange_code, headline, attachment_name, disclosure_time, caption, seen_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(subscriber_id, disclosure_id) DO NOTHING`,
		string(sd.SubscriberID), sd.DisclosureID, sd.ExchangeCode, sd.Headline, sd.AttachmentName,
		nullTime(sd.DisclosureTime), sd.Caption, formatTime(sd.SeenAt))
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, e model.RunLogEntry) error {
	if e.RunAt.IsZero() {
		e.RunAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs(run_id, job, subscriber_id, processed, notifications_sent, recipients, err, run_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.RunID, e.Job, string(e.SubscriberID), e.Processed, e.NotificationsSent, e.RecipientCount,
		nullStr(e.Error), formatTime(e.RunAt))
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]model.RunLogEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, job, subscriber_id, processed, notifications_sent, recipients, err, run_at
		 FROM run_logs ORDER BY run_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunLogEntry
	for rows.Next() {
		var (
			e     model.RunLogEntry
			errS  sql.NullString
			runAt string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Job, &e.SubscriberID, &e.Processed,
			&e.NotificationsSent, &e.RecipientCount, &errS, &runAt); err != nil {
			return nil, err
		}
		e.Error = errS.String
		e.RunAt, _ = time.Parse(time.RFC3339Nano, runAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Timestamps are stored as fixed-width UTC text so lexical order is time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

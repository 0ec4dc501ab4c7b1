package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bsewatch/internal/model"
	logx "bsewatch/pkg/logx"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if err := Migrate(ctx, dsn, log); err != nil {
		return nil, err
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(pool, log), nil
}

// NewPostgres wraps an existing pool. The schema must already be migrated.
func NewPostgres(pool *pgxpool.Pool, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &pgStore{pool: pool, log: log}
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(ctx context.Context, dsn string, log logx.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("database migrations up-to-date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied")
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) queryWatched(ctx context.Context, where string, args ...any) ([]model.WatchedInstrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subscriber_id, exchange_code, display_name FROM watched_instruments `+where+
			` ORDER BY created_at, subscriber_id, exchange_code`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WatchedInstrument, error) {
		var sub, code, name string
		err := row.Scan(&sub, &code, &name)
		return model.WatchedInstrument{SubscriberID: model.SubscriberID(sub), ExchangeCode: code, DisplayName: name}, err
	})
}

func (s *pgStore) queryRecipients(ctx context.Context, where string, args ...any) ([]model.Recipient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subscriber_id, channel_address FROM recipients `+where+` ORDER BY created_at, channel_address`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Recipient, error) {
		var sub, addr string
		err := row.Scan(&sub, &addr)
		return model.Recipient{SubscriberID: model.SubscriberID(sub), ChannelAddress: addr}, err
	})
}

func (s *pgStore) ListAllWatched(ctx context.Context) ([]model.WatchedInstrument, error) {
	return s.queryWatched(ctx, "")
}

func (s *pgStore) ListAllRecipients(ctx context.Context) ([]model.Recipient, error) {
	return s.queryRecipients(ctx, "")
}

func (s *pgStore) ListWatched(ctx context.Context, sub model.SubscriberID) ([]model.WatchedInstrument, error) {
	return s.queryWatched(ctx, "WHERE subscriber_id = $1", string(sub))
}

func (s *pgStore) ListRecipients(ctx context.Context, sub model.SubscriberID) ([]model.Recipient, error) {
	return s.queryRecipients(ctx, "WHERE subscriber_id = $1", string(sub))
}

func (s *pgStore) AddWatched(ctx context.Context, w model.WatchedInstrument) error {
	if err := validWatched(w); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watched_instruments(subscriber_id, exchange_code, display_name) VALUES($1,$2,$3)
		 ON CONFLICT(subscriber_id, exchange_code) DO UPDATE SET display_name = EXCLUDED.display_name`,
		string(w.SubscriberID), w.ExchangeCode, w.DisplayName)
	return err
}

func (s *pgStore) RemoveWatched(ctx context.Context, sub model.SubscriberID, code string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watched_instruments WHERE subscriber_id = $1 AND exchange_code = $2`, string(sub), code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) AddRecipient(ctx context.Context, r model.Recipient) (model.SubscriberID, error) {
	if err := validRecipient(r); err != nil {
		return "", err
	}
	var prev string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT subscriber_id FROM recipients WHERE channel_address = $1 FOR UPDATE`, r.ChannelAddress).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO recipients(channel_address, subscriber_id) VALUES($1,$2)
			 ON CONFLICT(channel_address) DO UPDATE SET subscriber_id = EXCLUDED.subscriber_id`,
			r.ChannelAddress, string(r.SubscriberID))
		return err
	})
	if err != nil {
		return "", err
	}
	return model.SubscriberID(prev), nil
}

func (s *pgStore) RemoveRecipient(ctx context.Context, addr string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recipients WHERE channel_address = $1`, addr)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) HasSeen(ctx context.Context, sub model.SubscriberID, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM seen_disclosures WHERE subscriber_id = $1 AND disclosure_id = $2)`,
		string(sub), id).Scan(&ok)
	return ok, err
}

func (s *pgStore) MarkSeen(ctx context.Context, sd model.SeenDisclosure) error {
	if err := validSeen(sd); err != nil {
		return err
	}
	if sd.SeenAt.IsZero() {
		sd.SeenAt = time.Now()
	}
	var dt *time.Time
	if !sd.DisclosureTime.IsZero() {
		dt = &sd.DisclosureTime
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seen_disclosures(subscriber_id, disclosure_id, exchange_code, headline, attachment_name, disclosure_time, caption, seen_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT(subscriber_id, disclosure_id) DO NOTHING`,
		string(sd.SubscriberID), sd.DisclosureID, sd.ExchangeCode, sd.Headline, sd.AttachmentName, dt, sd.Caption, sd.SeenAt)
	return err
}

func (s *pgStore) AppendRun(ctx context.Context, e model.RunLogEntry) error {
	if e.RunAt.IsZero() {
		e.RunAt = time.Now()
	}
	var errText *string
	if strings.TrimSpace(e.Error) != "" {
		errText = &e.Error
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_logs(run_id, job, subscriber_id, processed, notifications_sent, recipients, err, run_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.RunID, e.Job, string(e.SubscriberID), e.Processed, e.NotificationsSent, e.RecipientCount, errText, e.RunAt)
	return err
}

func (s *pgStore) RecentRuns(ctx context.Context, limit int) ([]model.RunLogEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, job, subscriber_id, processed, notifications_sent, recipients, COALESCE(err, ''), run_at
		 FROM run_logs ORDER BY run_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RunLogEntry, error) {
		var (
			e   model.RunLogEntry
			sub string
		)
		err := row.Scan(&e.ID, &e.RunID, &e.Job, &sub, &e.Processed, &e.NotificationsSent, &e.RecipientCount, &e.Error, &e.RunAt)
		e.SubscriberID = model.SubscriberID(sub)
		return e, err
	})
}

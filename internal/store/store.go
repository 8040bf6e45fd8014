// Package store persists recipients, scheduled broadcasts and webinar
// reminders. It is the only state that survives a restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/internal/timefmt"
)

// Store is backed by sqlx and works with both the postgres and sqlite drivers.
// Every mutating operation holds mu for its whole transaction so rehydration
// always observes a consistent snapshot of what is still pending.
type Store struct {
	db  *sqlx.DB
	loc *time.Location
	now func() time.Time
	mu  sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for registered_at and created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps db. loc is the canonical zone used for fire_time display keys.
func New(db *sqlx.DB, loc *time.Location, opts ...Option) *Store {
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{db: db, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Location returns the canonical time zone.
func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) at(unix int64) time.Time {
	return time.Unix(unix, 0).In(s.loc)
}

// RegisterRecipient inserts id unless it is already known and reports
// whether a row was created.
func (s *Store) RegisterRecipient(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO recipients (id, registered_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`),
		id, s.now().Unix())
	if err != nil {
		return false, fmt.Errorf("register recipient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register recipient: %w", err)
	}
	return n > 0, nil
}

// ListRecipientIDs returns every known recipient in ascending order.
func (s *Store) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM recipients ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return ids, nil
}

// CountRecipients returns the number of known recipients.
func (s *Store) CountRecipients(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM recipients`); err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

// InsertScheduledBroadcast persists a broadcast together with one pending
// delivery per recipient, in a single transaction.
func (s *Store) InsertScheduledBroadcast(ctx context.Context, fireAt time.Time, texts, media []string, recipients []int64) (int64, error) {
	textPayload, err := encodeList(texts)
	if err != nil {
		return 0, err
	}
	mediaPayload, err := encodeList(media)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, tx.Rebind(
			`INSERT INTO scheduled_broadcasts (fire_at, fire_time, text_payload, media_payload, created_at)
			 VALUES (?, ?, ?, ?, ?) RETURNING id`),
			fireAt.Unix(), timefmt.Format(fireAt, s.loc), textPayload, mediaPayload, s.now().Unix())
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("insert broadcast: %w", err)
		}
		if len(recipients) == 0 {
			return nil
		}
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(
			`INSERT INTO broadcast_deliveries (broadcast_id, recipient_id) VALUES (?, ?) ON CONFLICT DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare deliveries: %w", err)
		}
		defer stmt.Close()
		for _, rid := range recipients {
			if _, err := stmt.ExecContext(ctx, id, rid); err != nil {
				return fmt.Errorf("insert delivery %d: %w", rid, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Debug(ctx, "store", "broadcast.inserted",
		slog.Int64("broadcast_id", id),
		slog.String("fire_at", timefmt.Format(fireAt, s.loc)),
		slog.Int("count", len(recipients)),
	)
	return id, nil
}

// ListScheduledBroadcasts returns every stored broadcast, oldest fire time
// first, with the recipients still awaiting delivery in Pending. A broadcast
// committed with no recipients is listed with an empty Pending. Rows whose
// payload cannot be decoded are logged and skipped.
func (s *Store) ListScheduledBroadcasts(ctx context.Context) ([]ScheduledBroadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rows       []broadcastRow
		deliveries []deliveryRow
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows,
			`SELECT id, fire_at, fire_time, text_payload, media_payload
			 FROM scheduled_broadcasts ORDER BY fire_at, id`); err != nil {
			return fmt.Errorf("list broadcasts: %w", err)
		}
		if err := tx.SelectContext(ctx, &deliveries,
			`SELECT broadcast_id, recipient_id FROM broadcast_deliveries ORDER BY broadcast_id, recipient_id`); err != nil {
			return fmt.Errorf("list deliveries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pending := make(map[int64][]int64, len(rows))
	for _, d := range deliveries {
		pending[d.BroadcastID] = append(pending[d.BroadcastID], d.RecipientID)
	}

	out := make([]ScheduledBroadcast, 0, len(rows))
	for _, r := range rows {
		texts, terr := decodeList(r.TextPayload)
		media, merr := decodeList(r.MediaPayload)
		if err := errors.Join(terr, merr); err != nil {
			logger.Warn(ctx, "store", "broadcast.corrupt",
				slog.String("status", "skip"),
				slog.Int64("broadcast_id", r.ID),
				slog.String("fire_at", r.FireTime),
				slog.String("err", err.Error()),
			)
			continue
		}
		out = append(out, ScheduledBroadcast{
			ID:       r.ID,
			FireAt:   s.at(r.FireAt),
			FireTime: r.FireTime,
			Texts:    texts,
			Media:    media,
			Pending:  pending[r.ID],
		})
	}
	return out, nil
}

// DeleteScheduledBroadcast removes every broadcast whose display key equals
// fireAt formatted in the canonical zone. Two broadcasts scheduled for the same
// minute share that key and are removed together; use DeleteBroadcast to target
// a single record.
func (s *Store) DeleteScheduledBroadcast(ctx context.Context, fireAt time.Time) (int64, error) {
	key := timefmt.Format(fireAt, s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM broadcast_deliveries WHERE broadcast_id IN
			 (SELECT id FROM scheduled_broadcasts WHERE fire_time = ?)`), key); err != nil {
			return fmt.Errorf("delete deliveries: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scheduled_broadcasts WHERE fire_time = ?`), key)
		if err != nil {
			return fmt.Errorf("delete broadcast: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// DeleteBroadcast removes one broadcast and its pending deliveries.
func (s *Store) DeleteBroadcast(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return deleteBroadcastTx(ctx, tx, id)
	})
}

func deleteBroadcastTx(ctx context.Context, tx *sqlx.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM broadcast_deliveries WHERE broadcast_id = ?`), id); err != nil {
		return fmt.Errorf("delete deliveries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scheduled_broadcasts WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete broadcast: %w", err)
	}
	return nil
}

// DeleteAllBroadcasts removes every scheduled broadcast.
func (s *Store) DeleteAllBroadcasts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM broadcast_deliveries`); err != nil {
			return fmt.Errorf("delete deliveries: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_broadcasts`)
		if err != nil {
			return fmt.Errorf("delete broadcasts: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// CompleteDelivery records that broadcastID was attempted for recipientID.
// The broadcast itself is deleted with its last pending delivery. It returns
// the number of deliveries still pending.
func (s *Store) CompleteDelivery(ctx context.Context, broadcastID, recipientID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remaining int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM broadcast_deliveries WHERE broadcast_id = ? AND recipient_id = ?`),
			broadcastID, recipientID); err != nil {
			return fmt.Errorf("complete delivery: %w", err)
		}
		if err := tx.GetContext(ctx, &remaining, tx.Rebind(
			`SELECT COUNT(*) FROM broadcast_deliveries WHERE broadcast_id = ?`), broadcastID); err != nil {
			return fmt.Errorf("count deliveries: %w", err)
		}
		if remaining == 0 {
			return deleteBroadcastTx(ctx, tx, broadcastID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// SetWebinarSchedule replaces the announced webinar.
func (s *Store) SetWebinarSchedule(ctx context.Context, fireAt time.Time, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO webinar_schedule (id, fire_at, fire_time, join_url) VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET fire_at = excluded.fire_at, fire_time = excluded.fire_time, join_url = excluded.join_url`),
		fireAt.Unix(), timefmt.Format(fireAt, s.loc), url)
	if err != nil {
		return fmt.Errorf("set webinar: %w", err)
	}
	return nil
}

// GetWebinarSchedule returns the announced webinar or nil when none is set.
func (s *Store) GetWebinarSchedule(ctx context.Context) (*WebinarSchedule, error) {
	var row webinarRow
	err := s.db.GetContext(ctx, &row, `SELECT fire_at, fire_time, join_url FROM webinar_schedule WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webinar: %w", err)
	}
	return &WebinarSchedule{FireAt: s.at(row.FireAt), FireTime: row.FireTime, URL: row.URL}, nil
}

// ClearWebinarSchedule removes the announced webinar.
func (s *Store) ClearWebinarSchedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webinar_schedule`); err != nil {
		return fmt.Errorf("clear webinar: %w", err)
	}
	return nil
}

// InsertWebinarSubscription stores the reminder for recipientID. A recipient
// holds at most one subscription; registering again replaces it.
func (s *Store) InsertWebinarSubscription(ctx context.Context, recipientID int64, at time.Time, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO webinar_subscriptions (recipient_id, fire_at, join_url) VALUES (?, ?, ?)
		 ON CONFLICT (recipient_id) DO UPDATE SET fire_at = excluded.fire_at, join_url = excluded.join_url`),
		recipientID, at.Unix(), url)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// DeleteWebinarSubscription removes the reminder of one recipient.
func (s *Store) DeleteWebinarSubscription(ctx context.Context, recipientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM webinar_subscriptions WHERE recipient_id = ?`), recipientID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// DeleteWebinarSubscriptions removes every reminder.
func (s *Store) DeleteWebinarSubscriptions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM webinar_subscriptions`)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// ListFutureWebinarSubscriptionsAndPurgePast returns subscriptions that fire
// after now and deletes the rest, within one transaction.
func (s *Store) ListFutureWebinarSubscriptionsAndPurgePast(ctx context.Context, now time.Time) ([]WebinarSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []subscriptionRow
	var purged int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(
			`SELECT recipient_id, fire_at, join_url FROM webinar_subscriptions
			 WHERE fire_at > ? ORDER BY fire_at, recipient_id`), now.Unix()); err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM webinar_subscriptions WHERE fire_at <= ?`), now.Unix())
		if err != nil {
			return fmt.Errorf("purge subscriptions: %w", err)
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, err
	}
	if purged > 0 {
		logger.Info(ctx, "store", "subscriptions.purged", slog.Int64("purged", purged))
	}

	out := make([]WebinarSubscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, WebinarSubscription{RecipientID: r.RecipientID, FireAt: s.at(r.FireAt), URL: r.URL})
	}
	return out, nil
}

// PurgeBefore deletes broadcasts and subscriptions whose fire time is at or
// before cutoff. They are leftovers of deliveries that never completed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out PurgeResult
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM broadcast_deliveries WHERE broadcast_id IN
			 (SELECT id FROM scheduled_broadcasts WHERE fire_at <= ?)`), cutoff.Unix()); err != nil {
			return fmt.Errorf("purge deliveries: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scheduled_broadcasts WHERE fire_at <= ?`), cutoff.Unix())
		if err != nil {
			return fmt.Errorf("purge broadcasts: %w", err)
		}
		if out.Broadcasts, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM webinar_subscriptions WHERE fire_at <= ?`), cutoff.Unix())
		if err != nil {
			return fmt.Errorf("purge subscriptions: %w", err)
		}
		out.Subscriptions, err = res.RowsAffected()
		return err
	})
	return out, err
}

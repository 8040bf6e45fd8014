package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/internal/content"
	"github.com/m3rciful/cbtbot/internal/store"
	"github.com/m3rciful/cbtbot/internal/timefmt"
)

var (
	// ErrNoWebinar is returned when a subscription is requested but no webinar is announced.
	ErrNoWebinar = errors.New("schedule: no webinar scheduled")
	// ErrWebinarPast is returned when the announced webinar has already started.
	ErrWebinarPast = errors.New("schedule: webinar already started")
	// ErrEmptyPayload is returned when committing a broadcast without content.
	ErrEmptyPayload = errors.New("schedule: empty broadcast")
)

// Store is the durable state the service reads and writes.
type Store interface {
	Ledger
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	CountRecipients(ctx context.Context) (int, error)
	InsertScheduledBroadcast(ctx context.Context, fireAt time.Time, texts, media []string, recipients []int64) (int64, error)
	ListScheduledBroadcasts(ctx context.Context) ([]store.ScheduledBroadcast, error)
	DeleteScheduledBroadcast(ctx context.Context, fireAt time.Time) (int64, error)
	DeleteAllBroadcasts(ctx context.Context) (int64, error)
	SetWebinarSchedule(ctx context.Context, fireAt time.Time, url string) error
	GetWebinarSchedule(ctx context.Context) (*store.WebinarSchedule, error)
	ClearWebinarSchedule(ctx context.Context) error
	InsertWebinarSubscription(ctx context.Context, recipientID int64, at time.Time, url string) error
	DeleteWebinarSubscriptions(ctx context.Context) (int64, error)
	ListFutureWebinarSubscriptionsAndPurgePast(ctx context.Context, now time.Time) ([]store.WebinarSubscription, error)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Location *time.Location
	// RemindBefore moves reminders ahead of the webinar start.
	RemindBefore time.Duration
	Now          func() time.Time
}

// Service keeps the armed timers in step with the durable records.
type Service struct {
	store        Store
	sched        *Scheduler
	loc          *time.Location
	remindBefore time.Duration
	now          func() time.Time
}

// NewService binds st and sched.
func NewService(st Store, sched *Scheduler, opts ServiceOptions) *Service {
	s := &Service{
		store:        st,
		sched:        sched,
		loc:          opts.Location,
		remindBefore: opts.RemindBefore,
		now:          opts.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Scheduler exposes the timer index.
func (s *Service) Scheduler() *Scheduler { return s.sched }

// Location returns the canonical zone.
func (s *Service) Location() *time.Location { return s.loc }

// RehydrateResult summarises a rehydration pass.
type RehydrateResult struct {
	Broadcasts    int
	Stale         int
	BroadcastJobs int
	ReminderJobs  int
	// SkippedPending counts future broadcasts with no recipient left to serve.
	// The janitor removes them once their time has passed.
	SkippedPending int
}

// Rehydrate re-arms timers from the store. It must run once before traffic is
// accepted. Stale broadcasts are deleted without firing; future ones arm one
// job per recipient that has not been delivered yet.
func (s *Service) Rehydrate(ctx context.Context) (RehydrateResult, error) {
	var res RehydrateResult
	now := s.now()

	broadcasts, err := s.store.ListScheduledBroadcasts(ctx)
	if err != nil {
		return res, fmt.Errorf("rehydrate broadcasts: %w", err)
	}
	res.Broadcasts = len(broadcasts)

	purged := make(map[string]bool)
	for _, b := range broadcasts {
		if !b.FireAt.After(now) {
			// One delete removes every row sharing this time key.
			if purged[b.FireTime] {
				continue
			}
			n, err := s.store.DeleteScheduledBroadcast(ctx, b.FireAt)
			if err != nil {
				return res, fmt.Errorf("purge stale broadcast %d: %w", b.ID, err)
			}
			purged[b.FireTime] = true
			res.Stale += int(n)
			logger.Info(ctx, "scheduler", "broadcast.stale",
				slog.Int64("broadcast_id", b.ID),
				slog.String("fire_at", b.FireTime),
				slog.Int64("purged", n),
			)
			continue
		}
		if len(b.Pending) == 0 {
			res.SkippedPending++
			continue
		}
		payload := content.Payload{Texts: b.Texts, Media: b.Media}
		for _, rid := range b.Pending {
			s.sched.Arm(Job{Key: BroadcastKey(b.ID, rid), FireAt: b.FireAt, Payload: payload})
			res.BroadcastJobs++
		}
	}

	subs, err := s.store.ListFutureWebinarSubscriptionsAndPurgePast(ctx, now)
	if err != nil {
		return res, fmt.Errorf("rehydrate reminders: %w", err)
	}
	for _, sub := range subs {
		s.sched.Arm(Job{Key: ReminderKey(sub.RecipientID), FireAt: sub.FireAt, URL: sub.URL})
		res.ReminderJobs++
	}

	logger.Info(ctx, "scheduler", "rehydrate.done",
		slog.Int("count", res.Broadcasts),
		slog.Int("purged", res.Stale),
		slog.Int("skipped", res.SkippedPending),
		slog.Int("armed", res.BroadcastJobs+res.ReminderJobs),
	)
	return res, nil
}

// CommitBroadcast persists payload for every known recipient and arms one job
// per recipient. The record is written before any timer is armed.
func (s *Service) CommitBroadcast(ctx context.Context, fireAt time.Time, payload content.Payload) (int64, error) {
	if payload.Empty() {
		return 0, ErrEmptyPayload
	}
	recipients, err := s.store.ListRecipientIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("commit broadcast: %w", err)
	}
	id, err := s.store.InsertScheduledBroadcast(ctx, fireAt, payload.Texts, payload.Media, recipients)
	if err != nil {
		return 0, fmt.Errorf("commit broadcast: %w", err)
	}
	for _, rid := range recipients {
		s.sched.Arm(Job{Key: BroadcastKey(id, rid), FireAt: fireAt, Payload: payload})
	}
	logger.Info(ctx, "scheduler", "broadcast.committed",
		slog.Int64("broadcast_id", id),
		slog.String("fire_at", timefmt.Format(fireAt, s.loc)),
		slog.Int("armed", len(recipients)),
	)
	return id, nil
}

// ClearBroadcasts disarms every broadcast job and deletes the broadcast records.
func (s *Service) ClearBroadcasts(ctx context.Context) (int64, error) {
	n := s.sched.CancelKind(KindBroadcast)
	deleted, err := s.store.DeleteAllBroadcasts(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear broadcasts: %w", err)
	}
	logger.Info(ctx, "scheduler", "broadcasts.cleared",
		slog.Int("cancelled", n),
		slog.Int64("purged", deleted),
	)
	return deleted, nil
}

// Webinar returns the announced webinar or nil.
func (s *Service) Webinar(ctx context.Context) (*store.WebinarSchedule, error) {
	return s.store.GetWebinarSchedule(ctx)
}

// SetWebinar announces a webinar, replacing the previous one.
func (s *Service) SetWebinar(ctx context.Context, at time.Time, url string) error {
	if err := s.store.SetWebinarSchedule(ctx, at, url); err != nil {
		return err
	}
	logger.Info(ctx, "scheduler", "webinar.set", slog.String("fire_at", timefmt.Format(at, s.loc)))
	return nil
}

// RemoveWebinar disarms every reminder, clears the announced webinar and
// deletes the reminder records. Broadcast jobs are left alone.
func (s *Service) RemoveWebinar(ctx context.Context) error {
	cancelled := s.sched.CancelKind(KindReminder)
	if err := s.store.ClearWebinarSchedule(ctx); err != nil {
		return fmt.Errorf("remove webinar: %w", err)
	}
	purged, err := s.store.DeleteWebinarSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("remove webinar: %w", err)
	}
	logger.Info(ctx, "scheduler", "webinar.removed",
		slog.Int("cancelled", cancelled),
		slog.Int64("purged", purged),
	)
	return nil
}

// ReminderTime returns when the reminder for a webinar at start should fire.
func (s *Service) ReminderTime(start time.Time) time.Time {
	at := start.Add(-s.remindBefore)
	if !at.After(s.now()) {
		return start
	}
	return at
}

// SubscribeWebinar stores and arms the reminder of recipientID for the
// announced webinar. An existing reminder of that recipient is replaced.
func (s *Service) SubscribeWebinar(ctx context.Context, recipientID int64) (time.Time, error) {
	ws, err := s.store.GetWebinarSchedule(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("subscribe webinar: %w", err)
	}
	if ws == nil {
		return time.Time{}, ErrNoWebinar
	}
	if !ws.FireAt.After(s.now()) {
		return time.Time{}, ErrWebinarPast
	}
	at := s.ReminderTime(ws.FireAt)
	if err := s.store.InsertWebinarSubscription(ctx, recipientID, at, ws.URL); err != nil {
		return time.Time{}, fmt.Errorf("subscribe webinar: %w", err)
	}
	replaced := s.sched.Arm(Job{Key: ReminderKey(recipientID), FireAt: at, URL: ws.URL})
	logger.Info(ctx, "scheduler", "reminder.armed",
		slog.Int64("recipient_id", recipientID),
		slog.String("fire_at", timefmt.Format(at, s.loc)),
		slog.Bool("replaced", replaced),
	)
	return at, nil
}

// Status is a point-in-time summary for operators.
type Status struct {
	Armed      int
	Broadcasts int
	Reminders  int
	NextFire   time.Time
	HasNext    bool
	Recipients int
	Webinar    *store.WebinarSchedule
}

// Status reports armed jobs and the recipient count.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	for _, job := range s.sched.Pending() {
		st.Armed++
		switch job.Key.Kind {
		case KindBroadcast:
			st.Broadcasts++
		case KindReminder:
			st.Reminders++
		}
	}
	st.NextFire, st.HasNext = s.sched.NextFireTime()

	n, err := s.store.CountRecipients(ctx)
	if err != nil {
		return st, fmt.Errorf("status: %w", err)
	}
	st.Recipients = n
	if st.Webinar, err = s.store.GetWebinarSchedule(ctx); err != nil {
		return st, fmt.Errorf("status: %w", err)
	}
	return st, nil
}

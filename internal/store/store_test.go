package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	coredatabase "github.com/m3rciful/cbtbot/core/database"
	"github.com/m3rciful/cbtbot/internal/timefmt"
	"github.com/m3rciful/cbtbot/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := coredatabase.Config{
		Driver: coredatabase.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "bot.db"),
	}
	db, err := coredatabase.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := coredatabase.RunMigrations(db, cfg, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	loc, err := timefmt.LoadZone("")
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	s := New(db, loc)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustTime(t *testing.T, s *Store, v string) time.Time {
	t.Helper()
	at, err := timefmt.Parse(v, s.Location())
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return at
}

func TestRegisterRecipientIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.RegisterRecipient(ctx, 42)
	if err != nil || !created {
		t.Fatalf("first register created=%v err=%v", created, err)
	}
	created, err = s.RegisterRecipient(ctx, 42)
	if err != nil || created {
		t.Fatalf("second register created=%v err=%v", created, err)
	}

	ids, err := s.ListRecipientIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]int64{42}, ids); diff != "" {
		t.Fatalf("recipients mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryCount(t *testing.T) {
	s := newTestStore(t)
	reg := NewRegistry(s)
	ctx := context.Background()
	for _, id := range []int64{3, 1, 3, 2} {
		if err := reg.Register(ctx, id); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
	n, err := reg.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count = %d err=%v, want 3", n, err)
	}
	all, err := reg.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, all); diff != "" {
		t.Fatalf("all mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduledBroadcastRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := mustTime(t, s, "01.01.2030 10:00")

	// Items containing the old delimiter characters must survive intact.
	texts := []string{"line|with;separators", "second\nline", ""}
	media := []string{"file-1", "file,2"}
	id, err := s.InsertScheduledBroadcast(ctx, at, texts, media, []int64{7, 8})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.ListScheduledBroadcasts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []ScheduledBroadcast{{
		ID:       id,
		FireAt:   at,
		FireTime: "01.01.2030 10:00",
		Texts:    texts,
		Media:    media,
		Pending:  []int64{7, 8},
	}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("broadcast mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteDeliveryDeletesWhenDrained(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := mustTime(t, s, "01.01.2030 10:00")

	id, err := s.InsertScheduledBroadcast(ctx, at, []string{"hi"}, nil, []int64{1, 2})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	remaining, err := s.CompleteDelivery(ctx, id, 1)
	if err != nil || remaining != 1 {
		t.Fatalf("complete 1: remaining=%d err=%v", remaining, err)
	}
	list, _ := s.ListScheduledBroadcasts(ctx)
	if len(list) != 1 || len(list[0].Pending) != 1 || list[0].Pending[0] != 2 {
		t.Fatalf("unexpected pending after first delivery: %+v", list)
	}

	remaining, err = s.CompleteDelivery(ctx, id, 2)
	if err != nil || remaining != 0 {
		t.Fatalf("complete 2: remaining=%d err=%v", remaining, err)
	}
	list, _ = s.ListScheduledBroadcasts(ctx)
	if len(list) != 0 {
		t.Fatalf("broadcast should be deleted, got %+v", list)
	}
}

func TestDeleteScheduledBroadcastByTimeKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	early := mustTime(t, s, "01.01.2030 10:00")
	late := mustTime(t, s, "02.01.2030 10:00")

	for _, at := range []time.Time{early, early.Add(30 * time.Second), late} {
		if _, err := s.InsertScheduledBroadcast(ctx, at, []string{"x"}, nil, []int64{1}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := s.DeleteScheduledBroadcast(ctx, early)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Same-minute records share the key and go together.
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	list, _ := s.ListScheduledBroadcasts(ctx)
	if len(list) != 1 || list[0].FireTime != "02.01.2030 10:00" {
		t.Fatalf("unexpected remaining broadcasts: %+v", list)
	}
}

func TestCorruptPayloadIsSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := mustTime(t, s, "01.01.2030 10:00")

	good, err := s.InsertScheduledBroadcast(ctx, at, []string{"ok"}, nil, []int64{1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	bad, err := s.InsertScheduledBroadcast(ctx, at, []string{"bad"}, nil, []int64{1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE scheduled_broadcasts SET text_payload = ? WHERE id = ?`), "a|b", bad); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	list, err := s.ListScheduledBroadcasts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != good {
		t.Fatalf("expected only broadcast %d, got %+v", good, list)
	}
}

func TestWebinarScheduleSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws, err := s.GetWebinarSchedule(ctx)
	if err != nil || ws != nil {
		t.Fatalf("empty schedule = %+v err=%v", ws, err)
	}

	first := mustTime(t, s, "01.01.2030 10:00")
	second := mustTime(t, s, "05.01.2030 18:30")
	if err := s.SetWebinarSchedule(ctx, first, "https://a.example"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetWebinarSchedule(ctx, second, "https://b.example"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	var rows int
	if err := s.db.GetContext(ctx, &rows, `SELECT COUNT(*) FROM webinar_schedule`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("webinar rows = %d, want 1", rows)
	}

	ws, err = s.GetWebinarSchedule(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := &WebinarSchedule{FireAt: second, FireTime: "05.01.2030 18:30", URL: "https://b.example"}
	if diff := cmp.Diff(want, ws, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("schedule mismatch (-want +got):\n%s", diff)
	}

	if err := s.ClearWebinarSchedule(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ws, _ := s.GetWebinarSchedule(ctx); ws != nil {
		t.Fatalf("expected cleared schedule, got %+v", ws)
	}
}

func TestListFutureWebinarSubscriptionsAndPurgePast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := mustTime(t, s, "01.01.2030 10:00")

	if err := s.InsertWebinarSubscription(ctx, 1, now.Add(-time.Hour), "u"); err != nil {
		t.Fatalf("insert past: %v", err)
	}
	if err := s.InsertWebinarSubscription(ctx, 2, now, "u"); err != nil {
		t.Fatalf("insert now: %v", err)
	}
	if err := s.InsertWebinarSubscription(ctx, 3, now.Add(time.Hour), "u"); err != nil {
		t.Fatalf("insert future: %v", err)
	}

	got, err := s.ListFutureWebinarSubscriptionsAndPurgePast(ctx, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []WebinarSubscription{{RecipientID: 3, FireAt: now.Add(time.Hour), URL: "u"}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("subscriptions mismatch (-want +got):\n%s", diff)
	}

	var left int
	if err := s.db.GetContext(ctx, &left, `SELECT COUNT(*) FROM webinar_subscriptions`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 1 {
		t.Fatalf("rows left = %d, want 1", left)
	}
}

func TestWebinarSubscriptionReplacedPerRecipient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := mustTime(t, s, "01.01.2030 10:00")

	_ = s.InsertWebinarSubscription(ctx, 5, now.Add(time.Hour), "old")
	_ = s.InsertWebinarSubscription(ctx, 5, now.Add(2*time.Hour), "new")

	got, err := s.ListFutureWebinarSubscriptionsAndPurgePast(ctx, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].URL != "new" {
		t.Fatalf("expected a single replaced subscription, got %+v", got)
	}

	if err := s.DeleteWebinarSubscription(ctx, 5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.ListFutureWebinarSubscriptionsAndPurgePast(ctx, now)
	if len(got) != 0 {
		t.Fatalf("expected no subscriptions, got %+v", got)
	}
}

func TestPurgeBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := mustTime(t, s, "01.01.2030 10:00")

	_, _ = s.InsertScheduledBroadcast(ctx, now.Add(-2*time.Hour), []string{"old"}, nil, []int64{1})
	_, _ = s.InsertScheduledBroadcast(ctx, now.Add(time.Hour), []string{"new"}, nil, []int64{1})
	_ = s.InsertWebinarSubscription(ctx, 1, now.Add(-2*time.Hour), "u")
	_ = s.InsertWebinarSubscription(ctx, 2, now.Add(time.Hour), "u")

	res, err := s.PurgeBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if diff := cmp.Diff(PurgeResult{Broadcasts: 1, Subscriptions: 1}, res); diff != "" {
		t.Fatalf("purge mismatch (-want +got):\n%s", diff)
	}

	n, err := s.DeleteAllBroadcasts(ctx)
	if err != nil || n != 1 {
		t.Fatalf("delete all = %d err=%v, want 1", n, err)
	}
	m, err := s.DeleteWebinarSubscriptions(ctx)
	if err != nil || m != 1 {
		t.Fatalf("delete subscriptions = %d err=%v, want 1", m, err)
	}
}

func TestBroadcastWithoutRecipientsIsListed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.InsertScheduledBroadcast(ctx, mustTime(t, s, "01.01.2030 10:00"), []string{"nobody"}, nil, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	list, err := s.ListScheduledBroadcasts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || len(list[0].Pending) != 0 {
		t.Fatalf("expected broadcast %d with no pending recipients, got %+v", id, list)
	}
}

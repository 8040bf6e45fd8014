package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coredatabase "github.com/m3rciful/cbtbot/core/database"
	"github.com/m3rciful/cbtbot/internal/store"
	"github.com/m3rciful/cbtbot/internal/timefmt"
	"github.com/m3rciful/cbtbot/migrations"
)

type fakeGateway struct {
	mu     sync.Mutex
	texts  map[int64][]string
	media  map[int64][][]string
	failOn map[int64]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		texts:  map[int64][]string{},
		media:  map[int64][][]string{},
		failOn: map[int64]bool{},
	}
}

func (g *fakeGateway) SendText(_ context.Context, rid int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOn[rid] {
		return errors.New("blocked by user")
	}
	g.texts[rid] = append(g.texts[rid], text)
	return nil
}

func (g *fakeGateway) SendMediaGroup(_ context.Context, rid int64, media []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOn[rid] {
		return errors.New("blocked by user")
	}
	g.media[rid] = append(g.media[rid], append([]string(nil), media...))
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *store.Store {
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
	st := store.New(db, kyiv(t))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func kyiv(t *testing.T) *time.Location {
	t.Helper()
	loc, err := timefmt.LoadZone(timefmt.DefaultZone)
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	return loc
}

func at(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := timefmt.Parse(v, kyiv(t))
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return ts
}

type harness struct {
	store *store.Store
	gw    *fakeGateway
	clk   *clock
	sched *Scheduler
	svc   *Service
}

func newHarness(t *testing.T, st *store.Store, now time.Time, remindBefore time.Duration) *harness {
	t.Helper()
	h := &harness{store: st, gw: newFakeGateway(), clk: &clock{now: now}}
	deliverer := NewDeliverer(h.gw, st, DelivererOptions{
		ReminderText: func(url string) string { return "join " + url },
	})
	h.sched = NewScheduler(deliverer.Fire, WithNow(h.clk.Now))
	h.svc = NewService(st, h.sched, ServiceOptions{
		Location:     kyiv(t),
		RemindBefore: remindBefore,
		Now:          h.clk.Now,
	})
	return h
}

func registerAll(t *testing.T, st *store.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := st.RegisterRecipient(context.Background(), id); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
}

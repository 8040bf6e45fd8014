package dialog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coredatabase "github.com/m3rciful/cbtbot/core/database"
	"github.com/m3rciful/cbtbot/internal/content"
	"github.com/m3rciful/cbtbot/internal/schedule"
	"github.com/m3rciful/cbtbot/internal/store"
	"github.com/m3rciful/cbtbot/internal/timefmt"
	"github.com/m3rciful/cbtbot/migrations"
)

const adminID int64 = 1

type recorder struct {
	mu      sync.Mutex
	screens map[int64][]Screen
	notes   []string
	texts   map[int64][]string
	media   map[int64][][]string
}

func newRecorder() *recorder {
	return &recorder{
		screens: map[int64][]Screen{},
		texts:   map[int64][]string{},
		media:   map[int64][][]string{},
	}
}

func (r *recorder) Render(_ context.Context, id int64, screens []Screen) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens[id] = append(r.screens[id], screens...)
	return nil
}

func (r *recorder) NotifyAdmin(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, text)
	return nil
}

func (r *recorder) SendText(_ context.Context, id int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts[id] = append(r.texts[id], text)
	return nil
}

func (r *recorder) SendMediaGroup(_ context.Context, id int64, media []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media[id] = append(r.media[id], media)
	return nil
}

func (r *recorder) last(id int64) Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.screens[id]
	if len(list) == 0 {
		return Screen{}
	}
	return list[len(list)-1]
}

func (r *recorder) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screens[id])
}

type failingCommit struct {
	*schedule.Service
}

func (failingCommit) CommitBroadcast(context.Context, time.Time, content.Payload) (int64, error) {
	return 0, errors.New("database is locked")
}

type failingSubscribe struct {
	*schedule.Service
}

func (failingSubscribe) SubscribeWebinar(context.Context, int64) (time.Time, error) {
	return time.Time{}, errors.New("database is locked")
}

type fixture struct {
	t      *testing.T
	store  *store.Store
	rec    *recorder
	now    time.Time
	loc    *time.Location
	sched  *schedule.Scheduler
	svc    *schedule.Service
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := timefmt.LoadZone(timefmt.DefaultZone)
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
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
	st := store.New(db, loc)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{t: t, store: st, rec: newRecorder(), loc: loc}
	f.now, _ = timefmt.Parse("01.01.2030 10:00", loc)
	clock := func() time.Time { return f.now }

	deliverer := schedule.NewDeliverer(f.rec, st, schedule.DelivererOptions{})
	f.sched = schedule.NewScheduler(deliverer.Fire, schedule.WithNow(clock))
	f.svc = schedule.NewService(st, f.sched, schedule.ServiceOptions{Location: loc, Now: clock})
	f.engine = f.newEngine(f.svc)
	return f
}

func (f *fixture) newEngine(sched Scheduler) *Engine {
	f.t.Helper()
	e, err := New(Options{
		Renderer:  f.rec,
		Notifier:  f.rec,
		Registry:  store.NewRegistry(f.store),
		Scheduler: sched,
		AdminID:   adminID,
		Location:  f.loc,
		Now:       func() time.Time { return f.now },
	})
	if err != nil {
		f.t.Fatalf("engine: %v", err)
	}
	return e
}

func (f *fixture) send(ev Event) {
	f.t.Helper()
	if err := f.engine.Handle(context.Background(), ev); err != nil {
		f.t.Fatalf("handle %+v: %v", ev, err)
	}
}

func (f *fixture) start(id int64) { f.send(Event{RecipientID: id, Kind: EventStart}) }

func (f *fixture) text(id int64, s string) {
	f.send(Event{RecipientID: id, Kind: EventText, Payload: s})
}

func (f *fixture) press(id int64, key string) {
	f.send(Event{RecipientID: id, Kind: EventCallback, Payload: key})
}

func (f *fixture) label(id int64, key string) {
	f.text(id, f.engine.Catalog().Button(key))
}

func (f *fixture) wantState(id int64, want State) {
	f.t.Helper()
	if got := f.engine.State(id); got != want {
		f.t.Fatalf("recipient %d state = %s, want %s", id, got, want)
	}
}

package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/cbtbot/core/config"
	coredatabase "github.com/m3rciful/cbtbot/core/database"
	"github.com/m3rciful/cbtbot/internal/dialog"
	"github.com/m3rciful/cbtbot/internal/store"
	"github.com/m3rciful/cbtbot/internal/timefmt"
	"github.com/m3rciful/cbtbot/migrations"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"
)

type recordingAPI struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingAPI) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text, ok := what.(string); ok {
		r.sent[to.Recipient()] = append(r.sent[to.Recipient()], text)
	}
	return &tele.Message{}, nil
}

func (r *recordingAPI) SendAlbum(tele.Recipient, tele.Album, ...interface{}) ([]tele.Message, error) {
	return nil, nil
}

func (r *recordingAPI) texts(to string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[to]...)
}

func testConfig(t *testing.T) (*Config, *sqlx.DB) {
	t.Helper()
	cfg := &Config{
		Config: coreconfig.Config{
			Telegram: coreconfig.TelegramConfig{Token: "1:x", AdminID: 1},
		},
		Database: coredatabase.Config{Driver: coredatabase.DriverSQLite, Path: filepath.Join(t.TempDir(), "bot.db")},
	}
	if err := cfg.Schedule.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	db, err := coredatabase.Connect(cfg.Database)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := coredatabase.RunMigrations(db, cfg.Database, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return cfg, db
}

func TestStartRehydratesAndStopKeepsRecords(t *testing.T) {
	cfg, db := testConfig(t)
	loc, _ := timefmt.LoadZone(cfg.Schedule.Timezone)
	seed := store.New(db, loc)
	ctx := context.Background()
	if _, err := seed.RegisterRecipient(ctx, 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	fireAt := time.Now().Add(24 * time.Hour).Truncate(time.Minute)
	if _, err := seed.InsertScheduledBroadcast(ctx, fireAt, []string{"Reminder"}, nil, []int64{7}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a, err := New(cfg, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Gateway().Attach(&recordingAPI{sent: map[string][]string{}})
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st, err := a.Service().Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Broadcasts != 1 || st.Recipients != 1 || !st.HasNext || !st.NextFire.Equal(fireAt) {
		t.Fatalf("status = %+v", st)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestEngineRendersThroughGateway(t *testing.T) {
	cfg, db := testConfig(t)
	a, err := New(cfg, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	api := &recordingAPI{sent: map[string][]string{}}
	a.Gateway().Attach(api)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(ctx)

	if err := a.Engine().Submit(ctx, dialog.Event{RecipientID: 7, Kind: dialog.EventStart}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	a.Engine().Wait()

	got := api.texts("7")
	if len(got) == 0 || got[0] != a.Engine().Catalog().Text("greetings") {
		t.Fatalf("sent = %v, want greetings first", got)
	}
	if a.Engine().State(7) != dialog.StateMainMenu {
		t.Fatalf("state = %s", a.Engine().State(7))
	}
	n, err := store.NewRegistry(store.New(db, time.UTC)).Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recipients = %d, %v; want 1", n, err)
	}
}

func TestTelegramRunOptionsRegistersCommands(t *testing.T) {
	cfg, db := testConfig(t)
	a, err := New(cfg, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	opts, err := a.TelegramRunOptions()
	if err != nil {
		t.Fatalf("TelegramRunOptions: %v", err)
	}
	if !opts.Synchronous {
		t.Fatalf("updates must be handled in order")
	}
	all := opts.Registry.ListCommands(false)
	if len(all) != 4 {
		t.Fatalf("commands = %v", all)
	}
	visible := opts.Registry.ListCommands(true)
	if len(visible) != 2 || visible[0].Text != "/cancel" || visible[1].Text != "/start" {
		t.Fatalf("visible commands = %v", visible)
	}
	if len(opts.Routes) != 4+1+4 {
		t.Fatalf("routes = %d, want 9", len(opts.Routes))
	}
}

// Package app wires configuration, storage, scheduling, dialogs and the
// Telegram runtime into one bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/cbtbot/core/bootstrap"
	"github.com/m3rciful/cbtbot/core/logger"
	coretelegram "github.com/m3rciful/cbtbot/core/telegram"
	"github.com/m3rciful/cbtbot/core/telegram/sender"
	"github.com/m3rciful/cbtbot/internal/dialog"
	"github.com/m3rciful/cbtbot/internal/gateway"
	"github.com/m3rciful/cbtbot/internal/schedule"
	"github.com/m3rciful/cbtbot/internal/store"
	"github.com/m3rciful/cbtbot/internal/timefmt"
	"github.com/m3rciful/cbtbot/migrations"
)

// App owns every long-lived component of the bot.
type App struct {
	cfg *Config
	loc *time.Location

	store     *store.Store
	catalog   *dialog.Catalog
	gateway   *gateway.Telegram
	inbound   *gateway.Inbound
	pool      *sender.Dispatcher
	scheduler *schedule.Scheduler
	service   *schedule.Service
	janitor   *schedule.Janitor
	engine    *dialog.Engine

	mu       sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}
	stopped  bool
}

// Bootstrap initializes the logger and database, then builds the app on top.
func Bootstrap(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	res, err := bootstrap.Run(bootstrap.Options{
		Config:     &cfg.Config,
		Database:   cfg.Database,
		Migrations: migrations.FS,
	})
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return a, nil
}

// New builds the app over an open, migrated database.
func New(cfg *Config, db *sqlx.DB) (*App, error) {
	loc, err := timefmt.LoadZone(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	catalog, err := dialog.LoadCatalog(cfg.Content.TextsPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:     cfg,
		loc:     loc,
		store:   store.New(db, loc),
		catalog: catalog,
		gateway: gateway.NewTelegram(cfg.Telegram.AdminID),
	}

	// Scheduled deliveries are not retried: a failed send to one recipient
	// is logged and the ledger still advances.
	a.pool = sender.NewDispatcher(sender.Options{
		QueueSize:  cfg.Schedule.DeliveryQueue,
		Workers:    cfg.Schedule.DeliveryWorkers,
		MaxRetries: 0,
	})
	deliverer := schedule.NewDeliverer(a.gateway, a.store, schedule.DelivererOptions{
		Pool:          a.pool,
		RatePerSecond: cfg.Schedule.SendRatePerSecond,
		ReminderText: func(url string) string {
			return catalog.Textf("webinar_reminder", url)
		},
	})
	a.scheduler = schedule.NewScheduler(deliverer.Fire)
	a.service = schedule.NewService(a.store, a.scheduler, schedule.ServiceOptions{
		Location:     loc,
		RemindBefore: cfg.Schedule.RemindBefore,
	})
	a.janitor, err = schedule.NewJanitor(a.store, schedule.JanitorOptions{
		Spec:     cfg.Schedule.JanitorSpec,
		Grace:    cfg.Schedule.JanitorGrace,
		Location: loc,
	})
	if err != nil {
		a.pool.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.engine, err = dialog.New(dialog.Options{
		Renderer:  a.gateway,
		Notifier:  a.gateway,
		Registry:  store.NewRegistry(a.store),
		Scheduler: a.service,
		Catalog:   catalog,
		AdminID:   cfg.Telegram.AdminID,
		Location:  loc,
	})
	if err != nil {
		a.pool.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.inbound = gateway.NewInbound(a.engine)
	return a, nil
}

// Engine exposes the dialog engine.
func (a *App) Engine() *dialog.Engine { return a.engine }

// Service exposes the scheduling service.
func (a *App) Service() *schedule.Service { return a.service }

// Gateway exposes the Telegram adapter.
func (a *App) Gateway() *gateway.Telegram { return a.gateway }

// Start rehydrates timers from the store and starts the timer loop and the
// janitor. It must complete before updates are accepted.
func (a *App) Start(ctx context.Context) error {
	res, err := a.service.Rehydrate(ctx)
	if err != nil {
		return fmt.Errorf("app: rehydrate: %w", err)
	}
	logger.Info(ctx, "app", "rehydrated",
		slog.Int("broadcasts", res.Broadcasts),
		slog.Int("stale", res.Stale),
		slog.Int("broadcast_jobs", res.BroadcastJobs),
		slog.Int("reminder_jobs", res.ReminderJobs),
		slog.Int("skipped_pending", res.SkippedPending),
	)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.scheduler.Run(loopCtx)
	}()

	a.mu.Lock()
	a.stopLoop = cancel
	a.loopDone = done
	a.mu.Unlock()

	if err := a.janitor.Start(loopCtx); err != nil {
		cancel()
		<-done
		return fmt.Errorf("app: janitor: %w", err)
	}
	return nil
}

// Stop drains in-flight work and releases resources. Armed timers are
// dropped; their records stay in the store for the next start.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel, done := a.stopLoop, a.loopDone
	a.mu.Unlock()

	a.janitor.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	a.engine.Close()
	a.pool.Close()
	dropped := a.scheduler.CancelAll()
	logger.Info(ctx, "app", "stopped", slog.Int("armed_dropped", dropped))
	return a.store.Close()
}

// TelegramRunOptions builds the runtime configuration for core/telegram.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.registerCommands(reg)

	return coretelegram.RunOptions{
		Config:            &a.cfg.Config,
		Registry:          reg,
		DispatcherOptions: sender.Options{MaxRetries: 2},
		Middlewares:       coretelegram.DefaultMiddlewares(&a.cfg.Config, nil),
		Routes:            a.routes(reg),
		Synchronous:       true,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.gateway.Attach(rt.Bot)
			return a.Start(ctx)
		},
		OnStop: func(ctx context.Context, _ coretelegram.Runtime) error {
			return a.Stop(ctx)
		},
	}, nil
}

package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/cbtbot/core/logger"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const (
	attemptTimeout = 5 * time.Second
	readyTimeout   = 30 * time.Second
	readyPoll      = 2 * time.Second
)

// Connect opens the database with the default readiness budget.
func Connect(cfg Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	return ConnectContext(ctx, cfg)
}

// ConnectContext opens and pings the database and sizes the pool. A postgres
// server that is still starting is retried until ctx is done.
func ConnectContext(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if cfg.Driver == DriverSQLite {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db dir: %w", err)
			}
		}
	}

	start := time.Now()
	db, attempts, err := openReady(ctx, cfg)
	took := logger.RoundMS(time.Since(start))
	if err != nil {
		logger.DB.Error("db connect failed",
			slog.String("event", "db.connect"),
			slog.String("driver", cfg.Driver),
			slog.String("db", cfg.target()),
			slog.Int("attempts", attempts),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	// sqlite gets a single connection: one writer keeps pragmas and locks predictable.
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	if cfg.Driver == DriverPostgres {
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	logger.DB.Info("db connected",
		slog.String("event", "db.connect"),
		slog.String("driver", cfg.Driver),
		slog.String("db", cfg.target()),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Int("attempts", attempts),
		slog.Duration("duration", took),
	)
	return db, nil
}

func openReady(ctx context.Context, cfg Config) (*sqlx.DB, int, error) {
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		db, err := sqlx.ConnectContext(attemptCtx, cfg.Driver, cfg.DSN())
		cancel()
		if err == nil {
			return db, attempt, nil
		}
		if cfg.Driver != DriverPostgres {
			return nil, attempt, err
		}
		logger.DB.Debug("db not ready",
			slog.String("event", "db.wait"),
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, attempt, fmt.Errorf("database not ready: %w", err)
		case <-time.After(readyPoll):
		}
	}
}

package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/cbtbot/core/logger"
)

// RunMigrations applies the up migrations in the directory of source named
// after the driver ("postgres" or "sqlite").
func RunMigrations(db *sqlx.DB, cfg Config, source fs.FS) error {
	if db == nil || source == nil {
		return errors.New("migrate: db and migrations source are required")
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}

	files := upFiles(source, cfg.Driver)
	logFiles("migrations resolved", "resolve", files, slog.String("path", cfg.Driver))

	m, err := newMigrator(db, cfg, source)
	if err != nil {
		logger.MIG.Error("init failed",
			slog.String("event", "db.migrate"),
			slog.String("driver", cfg.Driver),
			slog.String("err", err.Error()),
		)
		return err
	}

	from, _, _ := m.Version()
	start := time.Now()
	upErr := m.Up()
	took := logger.RoundMS(time.Since(start))
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.MIG.Error("migration failed",
			slog.String("event", "apply"),
			slog.String("err", upErr.Error()),
			slog.Duration("duration", took),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	to, _, _ := m.Version()
	applied := selectApplied(files, uint64(from), uint64(to))
	if len(applied) > 0 {
		logFiles("applied files", "apply", applied)
	}
	logger.MIG.Info("migrations summary",
		slog.String("event", "summary"),
		slog.String("driver", cfg.Driver),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

// newMigrator shares db with the migrate instance, which therefore must not
// be closed: closing it would close the caller's pool.
func newMigrator(db *sqlx.DB, cfg Config, source fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(source, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations source: %w", err)
	}
	var driver migratedb.Driver
	switch cfg.Driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{DatabaseName: cfg.Name})
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, cfg.Driver, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return m, nil
}

func logFiles(msg, event string, files []string, extra ...any) {
	args := append([]any{
		slog.String("event", event),
		slog.Int("files_total", len(files)),
	}, extra...)
	if preview, truncated := logger.SummarizeStrings(files, 6); preview != "" {
		args = append(args, slog.String("files_preview", preview))
		if truncated {
			args = append(args, slog.Bool("files_truncated", true))
		}
	}
	logger.MIG.Debug(msg, args...)
}

func upFiles(source fs.FS, dir string) []string {
	names, err := fs.Glob(source, dir+"/*.up.sql")
	if err != nil {
		return nil
	}
	for i, n := range names {
		names[i] = strings.TrimPrefix(n, dir+"/")
	}
	slices.Sort(names)
	return names
}

func migrationVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// selectApplied lists the files whose version lies in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := migrationVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}

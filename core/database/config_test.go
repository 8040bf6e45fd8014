package database

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestNormalizeSQLite(t *testing.T) {
	cfg := Config{Driver: "sqlite3", Path: "data/bot.db", MaxConnections: 8}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Driver != DriverSQLite || cfg.MaxConnections != 1 || cfg.BusyTimeoutMS != 5000 {
		t.Fatalf("normalized = %+v", cfg)
	}
	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "data/bot.db?") || !strings.Contains(dsn, "busy_timeout(5000)") {
		t.Fatalf("dsn = %q", dsn)
	}
}

func TestNormalizePostgresDefaults(t *testing.T) {
	cfg := Config{Host: "db", User: "bot", Name: "cbt"}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Driver != DriverPostgres || cfg.Port != "5432" || cfg.SSLMode != "disable" || cfg.MaxConnections != 10 {
		t.Fatalf("normalized = %+v", cfg)
	}
	if got := cfg.target(); got != "db:5432/cbt" {
		t.Fatalf("target = %q", got)
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, cfg := range []Config{
		{Driver: "mysql"},
		{Driver: DriverPostgres},
		{Driver: DriverSQLite},
	} {
		if err := cfg.Normalize(); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestSelectApplied(t *testing.T) {
	files := []string{"000001_init.up.sql", "000002_ledger.up.sql", "000003_idx.up.sql"}
	got := selectApplied(files, 1, 3)
	if len(got) != 2 || got[0] != "000002_ledger.up.sql" {
		t.Fatalf("selectApplied = %v", got)
	}
	if selectApplied(files, 3, 3) != nil {
		t.Fatalf("expected nothing applied")
	}
}

func TestUpFilesListsDriverDirectory(t *testing.T) {
	src := fstest.MapFS{
		"sqlite/000002_ledger.up.sql": {Data: []byte("--")},
		"sqlite/000001_init.up.sql":   {Data: []byte("--")},
		"sqlite/000001_init.down.sql": {Data: []byte("--")},
		"postgres/000001_init.up.sql": {Data: []byte("--")},
	}
	got := upFiles(src, DriverSQLite)
	want := []string{"000001_init.up.sql", "000002_ledger.up.sql"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("upFiles = %v, want %v", got, want)
	}
}

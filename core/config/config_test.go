package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeDefaultsAndAliases(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "1:x", AdminID: 5, RunMode: " Polling "},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{" Callback ", ""}},
	}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if diff := cmp.Diff([]string{"callback"}, cfg.RateLimit.ExcludeUpdates); diff != "" {
		t.Fatalf("exclude updates mismatch (-want +got):\n%s", diff)
	}
	if cfg.RateLimit.Burst != 1 {
		t.Fatalf("burst = %d, want 1", cfg.RateLimit.Burst)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]Config{
		"no token":       {Telegram: TelegramConfig{AdminID: 1}},
		"no admin":       {Telegram: TelegramConfig{Token: "1:x"}},
		"bad mode":       {Telegram: TelegramConfig{Token: "1:x", AdminID: 1, RunMode: "push"}},
		"webhook no url": {Telegram: TelegramConfig{Token: "1:x", AdminID: 1, RunMode: "webhook"}},
		"bad exclusion": {
			Telegram:  TelegramConfig{Token: "1:x", AdminID: 1},
			RateLimit: RateLimitConfig{ExcludeUpdates: []string{"inline_query"}},
		},
		"webhook port": {
			Telegram: TelegramConfig{Token: "1:x", AdminID: 1, RunMode: "webhook"},
			Webhook:  WebhookConfig{URL: "https://bot.example", Listen: "0.0.0.0", Port: 70000},
		},
	}
	for name, cfg := range cases {
		cfg := cfg
		if err := Normalize(&cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeLayersDotEnvYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("TELEGRAM_ADMIN_ID=77\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "telegram:\n  token: from-yaml\n  admin_id: 1\nlogging:\n  level: debug\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("DOTENV_PATH", envPath)
	t.Setenv("BOT_TOKEN", "from-env")
	t.Cleanup(func() { os.Unsetenv("TELEGRAM_ADMIN_ID") })

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, want env to win over yaml", cfg.Telegram.Token)
	}
	if cfg.Telegram.AdminID != 77 {
		t.Fatalf("admin id = %d, want value from .env", cfg.Telegram.AdminID)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
}

func TestDecodeMissingFile(t *testing.T) {
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "none.env"))
	var cfg Config
	if err := Decode(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

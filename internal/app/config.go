package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/cbtbot/core/config"
	coredatabase "github.com/m3rciful/cbtbot/core/database"
	"github.com/m3rciful/cbtbot/internal/timefmt"
)

// ScheduleConfig tunes timers, delivery and cleanup.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone" envconfig:"SCHEDULE_TIMEZONE"`
	// RemindBefore moves webinar reminders ahead of the start time.
	RemindBefore time.Duration `yaml:"remind_before" envconfig:"SCHEDULE_REMIND_BEFORE"`

	JanitorSpec  string        `yaml:"janitor_spec" envconfig:"SCHEDULE_JANITOR_SPEC"`
	JanitorGrace time.Duration `yaml:"janitor_grace" envconfig:"SCHEDULE_JANITOR_GRACE"`

	SendRatePerSecond int `yaml:"send_rate_per_second" envconfig:"SCHEDULE_SEND_RATE"`
	DeliveryWorkers   int `yaml:"delivery_workers" envconfig:"SCHEDULE_DELIVERY_WORKERS"`
	DeliveryQueue     int `yaml:"delivery_queue" envconfig:"SCHEDULE_DELIVERY_QUEUE"`
}

// ContentConfig points at optional user-facing texts.
type ContentConfig struct {
	TextsPath string `yaml:"texts_path" envconfig:"CONTENT_TEXTS_PATH"`
}

// Config is the bot configuration: the shared core plus bot specific sections.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Schedule ScheduleConfig      `yaml:"schedule"`
	Content  ContentConfig       `yaml:"content"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads path, overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}
	return c.Schedule.normalize()
}

func (s *ScheduleConfig) normalize() error {
	s.Timezone = strings.TrimSpace(s.Timezone)
	if s.Timezone == "" {
		s.Timezone = timefmt.DefaultZone
	}
	if _, err := timefmt.LoadZone(s.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if s.RemindBefore < 0 {
		return fmt.Errorf("schedule.remind_before must be >= 0")
	}
	if s.JanitorGrace < 0 {
		return fmt.Errorf("schedule.janitor_grace must be >= 0")
	}
	if s.JanitorGrace == 0 {
		s.JanitorGrace = time.Hour
	}
	if strings.TrimSpace(s.JanitorSpec) == "" {
		s.JanitorSpec = "@every 10m"
	}
	if s.SendRatePerSecond < 0 {
		return fmt.Errorf("schedule.send_rate_per_second must be >= 0")
	}
	if s.SendRatePerSecond == 0 {
		s.SendRatePerSecond = 25
	}
	if s.DeliveryWorkers <= 0 {
		s.DeliveryWorkers = 4
	}
	if s.DeliveryQueue <= 0 {
		s.DeliveryQueue = 1024
	}
	return nil
}

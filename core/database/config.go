package database

import (
	"fmt"
	"strings"
)

const (
	// DriverPostgres selects the lib/pq backed PostgreSQL driver.
	DriverPostgres = "postgres"
	// DriverSQLite selects the pure Go modernc.org/sqlite driver.
	DriverSQLite = "sqlite"
)

// Config holds database connection settings shared across bots.
type Config struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`

	// Path is the database file used by the sqlite driver.
	Path          string `yaml:"path" envconfig:"DB_PATH"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms" envconfig:"DB_BUSY_TIMEOUT_MS"`
}

// Normalize validates the driver selection and fills defaults.
func (c *Config) Normalize() error {
	if c == nil {
		return fmt.Errorf("nil database config")
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		driver = DriverPostgres
	}
	if driver == "sqlite3" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Host) == "" {
			return fmt.Errorf("database.host is required for the postgres driver")
		}
		if c.Port == "" {
			c.Port = "5432"
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
		if c.MaxConnections <= 0 {
			c.MaxConnections = 10
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
		c.MaxConnections = 1
		if c.BusyTimeoutMS <= 0 {
			c.BusyTimeoutMS = 5000
		}
	default:
		return fmt.Errorf("invalid database.driver %q; allowed: postgres, sqlite", c.Driver)
	}
	c.Driver = driver
	return nil
}

// DSN renders the driver specific data source name.
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
			c.Path, c.BusyTimeoutMS)
	}
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// target describes the connection for logs without leaking credentials.
func (c Config) target() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return c.Host + ":" + c.Port + "/" + c.Name
}

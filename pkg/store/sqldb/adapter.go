// Package sqldb opens pooled PostgreSQL and MySQL connections for the table queue backend.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"

	defaultConnectTimeout     = 5 * time.Second
	defaultHealthCheckTimeout = 2 * time.Second
)

// Config holds SQL connection and pool configuration.
type Config struct {
	// Driver is postgres or mysql.
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) normalize() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case "", "postgresql", "pg":
		c.Driver = DriverPostgres
	case "mariadb":
		c.Driver = DriverMySQL
	}
	c.URL = strings.TrimSpace(c.URL)
}

// Adapter owns a pooled *sql.DB.
type Adapter struct {
	db     *sql.DB
	driver string
	logger logger.Logger
}

// NewAdapter opens and pings the database.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q (supported: postgres, mysql)", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	log.Info("SQL connection established",
		"driver", cfg.Driver,
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
	)
	return &Adapter{db: db, driver: cfg.Driver, logger: log}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB, driver string, log logger.Logger) (*Adapter, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg := Config{Driver: driver}
	cfg.normalize()
	return &Adapter{db: db, driver: cfg.Driver, logger: log}, nil
}

// DB returns the underlying pool.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Driver returns postgres or mysql.
func (a *Adapter) Driver() string {
	return a.driver
}

// HealthCheck pings the database with a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Error("SQL health check failed", "driver", a.driver, "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (a *Adapter) Close() error {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close SQL connection", "driver", a.driver, "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	a.logger.Info("SQL connection closed", "driver", a.driver)
	return nil
}

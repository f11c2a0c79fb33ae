// Package database reads server status counters from MySQL/MariaDB and
// PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the database source.
const TypeName = "database"

// Supported drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Settings are the database source options.
type Settings struct {
	Driver string `yaml:"driver" validate:"required,oneof=mysql postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
	// Server names the single MySQL entity. Defaults to the source name.
	Server string `yaml:"server"`
	// Variables filters SHOW GLOBAL STATUS. Empty means defaultVariables.
	Variables []string `yaml:"variables"`
	// Databases filters pg_stat_database. Empty means every database.
	Databases    []string `yaml:"databases"`
	MaxOpenConns int      `yaml:"max_open_conns" validate:"min=0,max=16"`
}

// reader turns one query round trip into a full counter tree.
type reader func(ctx context.Context, db *sql.DB) (*counters.Entities, error)

// Client is a pollable database source.
type Client struct {
	name     string
	settings Settings
	timeout  time.Duration
	logger   *slog.Logger
	read     reader

	mu sync.Mutex
	db *sql.DB
}

var (
	_ source.Client        = (*Client)(nil)
	_ source.Connector     = (*Client)(nil)
	_ source.Poller        = (*Client)(nil)
	_ source.HealthChecker = (*Client)(nil)
)

// New builds a database client.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if settings.Server == "" {
		settings.Server = spec.Name
	}
	if settings.MaxOpenConns == 0 {
		settings.MaxOpenConns = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:     spec.Name,
		settings: settings,
		timeout:  spec.TimeoutOr(5 * time.Second),
		logger:   logger,
	}
	switch settings.Driver {
	case DriverMySQL:
		c.read = c.readMySQL
	case DriverPostgres:
		c.read = c.readPostgres
	}
	return c, nil
}

// Register adds the database source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string { return c.name }
func (c *Client) Type() string { return TypeName }

func (c *Client) Capabilities() source.Capability {
	return source.CapConnected | source.CapPollable
}

// Connect opens the pool and pings the server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return nil
	}

	db, err := sql.Open(c.settings.Driver, c.settings.DSN)
	if err != nil {
		return perrors.ConfigError(fmt.Sprintf("database %s: open: %v", c.name, err), "dsn")
	}
	// Conservative pool for monitoring.
	db.SetMaxOpenConns(c.settings.MaxOpenConns)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return perrors.NetworkError(fmt.Sprintf("database %s: ping %s", c.name, c.settings.Driver), err)
	}

	c.db = db
	c.logger.Info("database connection established", "driver", c.settings.Driver)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

func (c *Client) Close() error {
	return c.Disconnect()
}

func (c *Client) conn() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, perrors.NetworkError(fmt.Sprintf("database %s: not connected", c.name), nil)
	}
	return c.db, nil
}

// HealthCheck runs SELECT 1.
func (c *Client) HealthCheck(ctx context.Context) error {
	db, err := c.conn()
	if err != nil {
		return err
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return perrors.NetworkError(fmt.Sprintf("database %s: health check", c.name), err)
	}
	return nil
}

func (c *Client) Discover(ctx context.Context) (*counters.Entities, error) {
	full, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return full.Shape(), nil
}

func (c *Client) Poll(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error) {
	full, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return counters.ProjectFilled(full, wanted), nil
}

func (c *Client) readAll(ctx context.Context) (*counters.Entities, error) {
	db, err := c.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	full, err := c.read(ctx, db)
	if err != nil {
		return nil, perrors.NetworkError(fmt.Sprintf("database %s: query", c.name), err)
	}
	return full, nil
}

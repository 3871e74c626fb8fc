package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/config"
)

// Client manages the Postgres connection pool shared by the profile,
// history and error-log stores.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens a connection pool and verifies connectivity.
func NewClient(cfg config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return &Client{db: db, logger: logger}, nil
}

// NewClientFromDB wraps an existing connection, used by tests with sqlmock.
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: db, logger: logger}
}

// DB exposes the underlying pool for the stores in this package.
func (c *Client) DB() *sqlx.DB { return c.db }

// Close shuts down the connection pool.
func (c *Client) Close() error { return c.db.Close() }

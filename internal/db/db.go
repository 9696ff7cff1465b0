package db

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type poolConfig struct {
	maxOpen     int
	maxIdle     int
	dialTimeout time.Duration
}

type Option func(*poolConfig)

func WithMaxOpenConns(n int) Option {
	return func(c *poolConfig) { c.maxOpen = n }
}

func WithMaxIdleConns(n int) Option {
	return func(c *poolConfig) { c.maxIdle = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *poolConfig) { c.dialTimeout = d }
}

// NewBunPostgresClient opens a pooled postgres handle. Webhook handlers hold
// a connection for the whole locked section, so the pool bounds how many
// subscriptions are processed at once.
func NewBunPostgresClient(connectionString string, opts ...Option) *bun.DB {
	cfg := poolConfig{maxOpen: 10, maxIdle: 2, dialTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(connectionString),
		pgdriver.WithDialTimeout(cfg.dialTimeout),
	))

	db := bun.NewDB(sqldb, pgdialect.New())

	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	return db
}

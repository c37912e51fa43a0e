// Package postgres opens and pools the PostgreSQL connection shared by the
// catalog and preference stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/examforge/recommender/pkg/config"
	_ "github.com/lib/pq"
)

// Client wraps the pooled database handle. Stores reach the pool through DB
// directly; all statements in this codebase are single-statement upserts and
// reads, so no transaction helper is exposed.
type Client struct {
	DB *sql.DB
}

// New opens a pool against cfg and verifies connectivity with a bounded ping.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

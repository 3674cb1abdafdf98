// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPool connects a pgx pool using cfg and verifies it with a ping.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// scanWorkItems reads (stock_symbol, name, net_asset_value_per_share::text) rows.
func scanWorkItems(rows pgx.Rows, window backfill.Window) ([]backfill.WorkItem, error) {
	defer rows.Close()
	var items []backfill.WorkItem
	for rows.Next() {
		var code, name, nav string
		if err := rows.Scan(&code, &name, &nav); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(nav))
		if err != nil {
			return nil, fmt.Errorf("parse net asset value of %s: %w", code, err)
		}
		items = append(items, backfill.WorkItem{
			SecurityCode:  code,
			Name:          name,
			Window:        window,
			NetAssetValue: value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

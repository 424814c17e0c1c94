// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool used by the store.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// CatalogStore implements catalog.Writer, catalog.Reader and catalog.RunStore.
type CatalogStore struct {
	pool pool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*CatalogStore, error) {
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CatalogStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *CatalogStore) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates missing tables and indexes. It never alters existing ones.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// WaitForPostgres pings until the database answers or timeout elapses.
func (s *CatalogStore) WaitForPostgres(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = s.pool.Ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %w", timeout, errors.Join(ctx.Err(), lastErr))
		case <-ticker.C:
		}
	}
}

// LoadDimensions reads every dimension row for the run cache.
func (s *CatalogStore) LoadDimensions(ctx context.Context) (catalog.Dimensions, error) {
	var dims catalog.Dimensions

	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY id;`)
	if err != nil {
		return dims, fmt.Errorf("failed to load categories: %w", err)
	}
	dims.Categories, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		return c, row.Scan(&c.ID, &c.Name)
	})
	if err != nil {
		return dims, fmt.Errorf("failed to scan category row: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, type_name FROM product_types ORDER BY id;`)
	if err != nil {
		return dims, fmt.Errorf("failed to load product types: %w", err)
	}
	dims.ProductTypes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductType, error) {
		var p catalog.ProductType
		return p, row.Scan(&p.ID, &p.Name)
	})
	if err != nil {
		return dims, fmt.Errorf("failed to scan product type row: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, amount FROM taxes ORDER BY id;`)
	if err != nil {
		return dims, fmt.Errorf("failed to load taxes: %w", err)
	}
	dims.Taxes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Tax, error) {
		var t catalog.Tax
		return t, row.Scan(&t.ID, &t.Amount)
	})
	if err != nil {
		return dims, fmt.Errorf("failed to scan tax row: %w", err)
	}
	return dims, nil
}

// WithinTx runs fn in a transaction, committing on success.
func (s *CatalogStore) WithinTx(ctx context.Context, fn func(context.Context, catalog.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

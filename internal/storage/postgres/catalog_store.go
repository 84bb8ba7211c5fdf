// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type pool interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// CatalogStore implements catalog.Store on Postgres.
type CatalogStore struct {
	pool pool
}

// NewCatalogStore connects a pool using cfg.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
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

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(p pool) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const selectCategory = `SELECT id, name, search_frequency_seconds FROM categories`

// GetCategory implements catalog.Store.
func (s *CatalogStore) GetCategory(ctx context.Context, id int64) (catalog.Category, error) {
	var (
		c    catalog.Category
		secs int64
	)
	err := s.pool.QueryRow(ctx, selectCategory+` WHERE id = $1`, id).Scan(&c.ID, &c.Name, &secs)
	if err != nil {
		return catalog.Category{}, notFound(err, "get category %d", id)
	}
	c.SearchFrequency = time.Duration(secs) * time.Second
	return c, nil
}

// ListCategories implements catalog.Store.
func (s *CatalogStore) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, selectCategory+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []catalog.Category
	for rows.Next() {
		var (
			c    catalog.Category
			secs int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &secs); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		c.SearchFrequency = time.Duration(secs) * time.Second
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// ListAddresses implements catalog.Store.
func (s *CatalogStore) ListAddresses(ctx context.Context, categoryID int64) ([]catalog.Address, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, category_id, site, name, url
FROM addresses
WHERE category_id = $1
ORDER BY id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var out []catalog.Address
	for rows.Next() {
		var (
			a    catalog.Address
			site string
		)
		if err := rows.Scan(&a.ID, &a.CategoryID, &site, &a.Name, &a.URL); err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}
		a.Site = catalog.SiteKind(site)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	return out, nil
}

// UpsertCategory matches on name.
func (s *CatalogStore) UpsertCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO categories (name, search_frequency_seconds)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET search_frequency_seconds = EXCLUDED.search_frequency_seconds
RETURNING id`, c.Name, int64(c.SearchFrequency/time.Second)).Scan(&c.ID)
	if err != nil {
		return catalog.Category{}, fmt.Errorf("upsert category %q: %w", c.Name, err)
	}
	return c, nil
}

// UpsertAddress matches on category and URL.
func (s *CatalogStore) UpsertAddress(ctx context.Context, a catalog.Address) (catalog.Address, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO addresses (category_id, site, name, url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (category_id, url) DO UPDATE SET site = EXCLUDED.site, name = EXCLUDED.name
RETURNING id`, a.CategoryID, string(a.Site), a.Name, a.URL).Scan(&a.ID)
	if err != nil {
		return catalog.Address{}, fmt.Errorf("upsert address %q: %w", a.URL, err)
	}
	return a, nil
}

// CreateSearch implements catalog.Store.
func (s *CatalogStore) CreateSearch(ctx context.Context, addressID int64, createdAt time.Time) (catalog.Search, error) {
	search := catalog.Search{AddressID: addressID, CreatedAt: createdAt}
	err := s.pool.QueryRow(ctx, `
INSERT INTO searches (address_id, created_at, finished)
VALUES ($1, $2, FALSE)
RETURNING id`, addressID, createdAt).Scan(&search.ID)
	if err != nil {
		return catalog.Search{}, fmt.Errorf("create search: %w", err)
	}
	return search, nil
}

// GetSearch implements catalog.Store.
func (s *CatalogStore) GetSearch(ctx context.Context, id int64) (catalog.Search, error) {
	var search catalog.Search
	err := s.pool.QueryRow(ctx, `
SELECT id, address_id, created_at, finished
FROM searches
WHERE id = $1`, id).Scan(&search.ID, &search.AddressID, &search.CreatedAt, &search.Finished)
	if err != nil {
		return catalog.Search{}, notFound(err, "get search %d", id)
	}
	return search, nil
}

// CountFound implements catalog.Store.
func (s *CatalogStore) CountFound(ctx context.Context, searchID int64) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM search_results
WHERE search_id = $1 AND was_found`, searchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count found: %w", err)
	}
	return int(n), nil
}

// CategoryStats implements catalog.Store.
func (s *CatalogStore) CategoryStats(ctx context.Context, categoryID int64, since time.Time) (catalog.CategoryStats, error) {
	if _, err := s.GetCategory(ctx, categoryID); err != nil {
		return catalog.CategoryStats{}, err
	}
	var (
		addresses, searches, searchesSince, found int64
		last                                      pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
SELECT
	(SELECT count(*) FROM addresses WHERE category_id = $1),
	count(s.id),
	count(s.id) FILTER (WHERE s.created_at >= $2),
	max(s.created_at),
	(SELECT count(*) FROM search_results r
		JOIN searches rs ON rs.id = r.search_id
		JOIN addresses ra ON ra.id = rs.address_id
		WHERE ra.category_id = $1 AND r.was_found)
FROM searches s
JOIN addresses a ON a.id = s.address_id
WHERE a.category_id = $1`, categoryID, since).Scan(&addresses, &searches, &searchesSince, &last, &found)
	if err != nil {
		return catalog.CategoryStats{}, fmt.Errorf("category stats: %w", err)
	}
	stats := catalog.CategoryStats{
		CategoryID:    categoryID,
		Addresses:     int(addresses),
		Searches:      int(searches),
		SearchesSince: int(searchesSince),
		ItemsFound:    int(found),
	}
	if last.Valid {
		t := last.Time
		stats.LastSearchAt = &t
	}
	return stats, nil
}

// InTx runs fn in a transaction committed when fn returns nil.
func (s *CatalogStore) InTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback tx: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, catalog.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

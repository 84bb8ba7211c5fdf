package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

func newMockStore(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestNewCatalogStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCatalogStore(context.Background(), Config{})
	require.ErrorContains(t, err, "store.dsn is required")
	_, err = NewCatalogStoreWithPool(nil)
	require.Error(t, err)
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM categories WHERE id = $1")).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "search_frequency_seconds"}).
			AddRow(int64(4), "bikes", int64(1800)))
	mock.ExpectQuery(q("FROM categories WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "search_frequency_seconds"}))

	cat, err := store.GetCategory(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, catalog.Category{ID: 4, Name: "bikes", SearchFrequency: 30 * time.Minute}, cat)

	_, err = store.GetCategory(context.Background(), 5)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAddresses(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM addresses")).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "category_id", "site", "name", "url"}).
			AddRow(int64(10), int64(1), "OLX", "olx", "https://www.olx.pl/rowery/").
			AddRow(int64(11), int64(1), "VINTED", "vinted", "https://www.vinted.pl/catalog"))

	addrs, err := store.ListAddresses(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Equal(t, catalog.SiteVinted, addrs[1].Site)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCategoryAndAddress(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(q("INSERT INTO categories")).
		WithArgs("bikes", int64(3600)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery(q("INSERT INTO addresses")).
		WithArgs(int64(2), "GUMTREE", "gumtree", "https://www.gumtree.pl/s-rowery/").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	cat, err := store.UpsertCategory(context.Background(), catalog.Category{Name: "bikes", SearchFrequency: time.Hour})
	require.NoError(t, err)
	require.Equal(t, int64(2), cat.ID)

	addr, err := store.UpsertAddress(context.Background(), catalog.Address{
		CategoryID: cat.ID, Site: catalog.SiteGumtree, Name: "gumtree", URL: "https://www.gumtree.pl/s-rowery/",
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), addr.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCreatesItemAndResult(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	url := "https://www.olx.pl/d/123"

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM items WHERE url = $1 FOR UPDATE")).
		WithArgs(url).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "title", "price", "currency", "created_at", "updated_at"}))
	mock.ExpectQuery(q("INSERT INTO items")).
		WithArgs(url, "Rower", "1234.00", "PLN").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(77), now, now))
	mock.ExpectExec(q("INSERT INTO search_results")).
		WithArgs(int64(5), int64(77), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("UPDATE searches SET finished = TRUE")).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		_, err := tx.FindItemByURL(ctx, url)
		require.ErrorIs(t, err, catalog.ErrNotFound)
		item, err := tx.CreateItem(ctx, catalog.Item{URL: url, Title: "Rower", Price: decimal.NewFromInt(1234), Currency: "PLN"})
		if err != nil {
			return err
		}
		require.Equal(t, int64(77), item.ID)
		if err := tx.CreateSearchResult(ctx, catalog.SearchResult{SearchID: 5, ItemID: item.ID, WasFound: true}); err != nil {
			return err
		}
		return tx.FinishSearch(ctx, 5)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindItemDecodesPrice(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM items WHERE url = $1 FOR UPDATE")).
		WithArgs("https://x/1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "title", "price", "currency", "created_at", "updated_at"}).
			AddRow(int64(1), "https://x/1", "Lamp", "450000.50", "PLN", now, now))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		item, err := tx.FindItemByURL(ctx, "https://x/1")
		if err != nil {
			return err
		}
		require.True(t, item.Price.Equal(decimal.RequireFromString("450000.5")))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateItemConflictReturnsErrItemExists(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("ON CONFLICT (url) DO NOTHING")).
		WithArgs("https://x/1", "Lamp", "10.00", "PLN").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		_, err := tx.CreateItem(ctx, catalog.Item{URL: "https://x/1", Title: "Lamp", Price: decimal.NewFromInt(10), Currency: "PLN"})
		return err
	})
	require.ErrorIs(t, err, catalog.ErrItemExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointRollsBackOneItem(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	checkViolation := errors.New(`new row for relation "items" violates check constraint`)

	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT item$").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(q("INSERT INTO item_updates")).
		WithArgs(int64(3), "Price changed from 1.00 PLN to 2.00 PLN").
		WillReturnError(checkViolation)
	mock.ExpectExec(q("ROLLBACK TO SAVEPOINT item")).WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec("^SAVEPOINT item$").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(q("UPDATE items SET title")).
		WithArgs("Lamp", "2.00", "PLN", int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q("RELEASE SAVEPOINT item")).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		serr := tx.Savepoint(ctx, func(ctx context.Context) error {
			return tx.AppendItemUpdate(ctx, catalog.ItemUpdate{ItemID: 3, Changes: "Price changed from 1.00 PLN to 2.00 PLN"})
		})
		require.ErrorIs(t, serr, checkViolation)
		return tx.Savepoint(ctx, func(ctx context.Context) error {
			return tx.UpdateItem(ctx, catalog.Item{ID: 4, Title: "Lamp", Price: decimal.NewFromInt(2), Currency: "PLN"})
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishSearchTwice(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE searches SET finished = TRUE")).
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(q("SELECT finished FROM searches WHERE id = $1")).
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{"finished"}).AddRow(true))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		return tx.FinishSearch(ctx, 8)
	})
	require.ErrorIs(t, err, catalog.ErrSearchFinished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	last := since.Add(3 * time.Hour)

	mock.ExpectQuery(q("FROM categories WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "search_frequency_seconds"}).
			AddRow(int64(1), "bikes", int64(3600)))
	mock.ExpectQuery(q("FILTER (WHERE s.created_at >= $2)")).
		WithArgs(int64(1), since).
		WillReturnRows(pgxmock.NewRows([]string{"addresses", "searches", "since", "last", "found"}).
			AddRow(int64(2), int64(10), int64(3), pgtype.Timestamptz{Time: last, Valid: true}, int64(42)))

	stats, err := store.CategoryStats(context.Background(), 1, since)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Addresses)
	require.Equal(t, 10, stats.Searches)
	require.Equal(t, 3, stats.SearchesSince)
	require.Equal(t, 42, stats.ItemsFound)
	require.NotNil(t, stats.LastSearchAt)
	require.True(t, stats.LastSearchAt.Equal(last))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@db:5432/ads?sslmode=disable", migrateURL("postgres://u:p@db:5432/ads?sslmode=disable"))
	require.Equal(t, "pgx5://db/ads", migrateURL("postgresql://db/ads"))
	require.Equal(t, "pgx5://db/ads", migrateURL("pgx5://db/ads"))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	t.Parallel()

	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	up, err := migrationFS.ReadFile("migrations/000001_catalog.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "NUMERIC(10, 2)")
	require.Contains(t, string(up), "url        TEXT NOT NULL UNIQUE")
}

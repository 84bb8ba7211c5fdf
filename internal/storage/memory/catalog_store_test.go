package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func seedAddress(t *testing.T, store *CatalogStore) (catalog.Category, catalog.Address) {
	t.Helper()
	ctx := context.Background()
	cat, err := store.UpsertCategory(ctx, catalog.Category{Name: "bikes", SearchFrequency: time.Hour})
	require.NoError(t, err)
	addr, err := store.UpsertAddress(ctx, catalog.Address{
		CategoryID: cat.ID,
		Site:       catalog.SiteOLX,
		Name:       "olx bikes",
		URL:        "https://www.olx.pl/rowery/",
	})
	require.NoError(t, err)
	return cat, addr
}

func TestCatalogStoreUpsertsAreIdempotent(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore(nil)
	ctx := context.Background()
	cat, addr := seedAddress(t, store)

	again, err := store.UpsertCategory(ctx, catalog.Category{Name: "bikes", SearchFrequency: 2 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, cat.ID, again.ID)
	require.Equal(t, 2*time.Hour, again.SearchFrequency)

	addrAgain, err := store.UpsertAddress(ctx, catalog.Address{
		CategoryID: cat.ID, Site: catalog.SiteOLX, Name: "renamed", URL: addr.URL,
	})
	require.NoError(t, err)
	require.Equal(t, addr.ID, addrAgain.ID)

	addrs, err := store.ListAddresses(ctx, cat.ID)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.Equal(t, "renamed", addrs[0].Name)

	_, err = store.UpsertAddress(ctx, catalog.Address{CategoryID: 999, URL: "https://x"})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalogStoreRollsBackFailedTx(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		_, err := tx.CreateItem(ctx, catalog.Item{URL: "https://a", Title: "a", Price: decimal.NewFromInt(1), Currency: "PLN"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, store.Items())
}

func TestCatalogStoreSavepointKeepsTxUsable(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore(nil)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		serr := tx.Savepoint(ctx, func(ctx context.Context) error {
			_, err := tx.CreateItem(ctx, catalog.Item{URL: "https://bad", Title: "x", Price: decimal.NewFromInt(1), Currency: "PLN"})
			require.NoError(t, err)
			_, err = tx.CreateItem(ctx, catalog.Item{URL: "https://bad2", Title: "x", Price: decimal.NewFromInt(1), Currency: "PLNX"})
			return err
		})
		require.Error(t, serr)
		_, err := tx.CreateItem(ctx, catalog.Item{URL: "https://good", Title: "y", Price: decimal.NewFromInt(2), Currency: "EUR"})
		return err
	})
	require.NoError(t, err)

	items := store.Items()
	require.Len(t, items, 1)
	require.Equal(t, "https://good", items[0].URL)
}

func TestCatalogStoreItemConstraints(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore(nil)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		item := catalog.Item{URL: "https://a", Title: "a", Price: decimal.NewFromInt(1), Currency: "PLN"}
		_, err := tx.CreateItem(ctx, item)
		require.NoError(t, err)

		_, err = tx.CreateItem(ctx, item)
		require.ErrorIs(t, err, catalog.ErrItemExists)

		_, err = tx.CreateItem(ctx, catalog.Item{URL: "https://b", Title: strings.Repeat("ż", 256), Currency: "PLN"})
		require.Error(t, err)

		_, err = tx.CreateItem(ctx, catalog.Item{URL: "https://c", Title: "c", Price: decimal.NewFromInt(-1), Currency: "PLN"})
		require.Error(t, err)

		_, err = tx.FindItemByURL(ctx, "https://missing")
		require.ErrorIs(t, err, catalog.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestCatalogStoreFinishSearchOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewCatalogStore(fixedClock{t: now})
	ctx := context.Background()
	_, addr := seedAddress(t, store)

	search, err := store.CreateSearch(ctx, addr.ID, now)
	require.NoError(t, err)
	require.Equal(t, catalog.SearchRunning, search.State())

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		return tx.FinishSearch(ctx, search.ID)
	}))
	err = store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		return tx.FinishSearch(ctx, search.ID)
	})
	require.ErrorIs(t, err, catalog.ErrSearchFinished)

	got, err := store.GetSearch(ctx, search.ID)
	require.NoError(t, err)
	require.True(t, got.Finished)
}

func TestCatalogStoreStats(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewCatalogStore(fixedClock{t: now})
	ctx := context.Background()
	cat, addr := seedAddress(t, store)

	old, err := store.CreateSearch(ctx, addr.ID, now.Add(-48*time.Hour))
	require.NoError(t, err)
	recent, err := store.CreateSearch(ctx, addr.ID, now)
	require.NoError(t, err)

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		item, err := tx.CreateItem(ctx, catalog.Item{URL: "https://a", Title: "a", Price: decimal.NewFromInt(1), Currency: "PLN"})
		if err != nil {
			return err
		}
		for _, id := range []int64{old.ID, recent.ID} {
			if err := tx.CreateSearchResult(ctx, catalog.SearchResult{SearchID: id, ItemID: item.ID, WasFound: true}); err != nil {
				return err
			}
		}
		return nil
	}))

	stats, err := store.CategoryStats(ctx, cat.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Addresses)
	require.Equal(t, 2, stats.Searches)
	require.Equal(t, 1, stats.SearchesSince)
	require.Equal(t, 2, stats.ItemsFound)
	require.NotNil(t, stats.LastSearchAt)
	require.True(t, stats.LastSearchAt.Equal(now))

	found, err := store.CountFound(ctx, recent.ID)
	require.NoError(t, err)
	require.Equal(t, 1, found)

	_, err = store.CategoryStats(ctx, 999, now)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// pgTx implements catalog.Tx over a pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) FindItemByURL(ctx context.Context, url string) (catalog.Item, error) {
	var (
		item  catalog.Item
		price string
	)
	err := t.q.QueryRow(ctx, `
SELECT id, url, title, price::text, currency, created_at, updated_at
FROM items WHERE url = $1 FOR UPDATE`, url).Scan(
		&item.ID, &item.URL, &item.Title, &price, &item.Currency, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, catalog.ErrNotFound
		}
		return catalog.Item{}, fmt.Errorf("find item: %w", err)
	}
	item.Price, err = decimal.NewFromString(price)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("decode price %q: %w", price, err)
	}
	return item, nil
}

// CreateItem relies on ON CONFLICT so a concurrent insert of the same URL
// does not abort the transaction.
func (t *pgTx) CreateItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	err := t.q.QueryRow(ctx, `
INSERT INTO items (url, title, price, currency, created_at, updated_at)
VALUES ($1, $2, $3::numeric, $4, now(), now())
ON CONFLICT (url) DO NOTHING
RETURNING id, created_at, updated_at`,
		item.URL, item.Title, item.Price.StringFixed(2), item.Currency,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, catalog.ErrItemExists
		}
		return catalog.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

func (t *pgTx) UpdateItem(ctx context.Context, item catalog.Item) error {
	tag, err := t.q.Exec(ctx, `
UPDATE items SET title = $1, price = $2::numeric, currency = $3, updated_at = now()
WHERE id = $4`, item.Title, item.Price.StringFixed(2), item.Currency, item.ID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update item %d: %w", item.ID, catalog.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendItemUpdate(ctx context.Context, update catalog.ItemUpdate) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO item_updates (item_id, changes, created_at)
VALUES ($1, $2, now())`, update.ItemID, update.Changes)
	if err != nil {
		return fmt.Errorf("insert item update: %w", err)
	}
	return nil
}

func (t *pgTx) CreateSearchResult(ctx context.Context, result catalog.SearchResult) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO search_results (search_id, item_id, was_found, created_at)
VALUES ($1, $2, $3, now())`, result.SearchID, result.ItemID, result.WasFound)
	if err != nil {
		return fmt.Errorf("insert search result: %w", err)
	}
	return nil
}

func (t *pgTx) FinishSearch(ctx context.Context, searchID int64) error {
	tag, err := t.q.Exec(ctx, `
UPDATE searches SET finished = TRUE
WHERE id = $1 AND NOT finished`, searchID)
	if err != nil {
		return fmt.Errorf("finish search: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var finished bool
	err = t.q.QueryRow(ctx, `SELECT finished FROM searches WHERE id = $1`, searchID).Scan(&finished)
	if err != nil {
		return notFound(err, "finish search %d", searchID)
	}
	return catalog.ErrSearchFinished
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := t.q.Exec(ctx, `SAVEPOINT item`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(ctx); err != nil {
		if _, rerr := t.q.Exec(ctx, `ROLLBACK TO SAVEPOINT item`); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rerr))
		}
		return err
	}
	if _, err := t.q.Exec(ctx, `RELEASE SAVEPOINT item`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Package reconcile merges scraped listings into the item catalog, keeping
// an append-only history of what changed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
)

// Outcome describes what Reconcile did to the catalog.
type Outcome struct {
	Item       catalog.Item
	WasCreated bool
	Changed    bool
}

// Diff lists human-readable changes between the stored item and a fresh
// scrape. An empty result means nothing changed.
func Diff(existing catalog.Item, scraped catalog.ScrapedItem) []string {
	var changes []string
	if existing.Title != scraped.Title {
		changes = append(changes, fmt.Sprintf("Title changed from %s to %s", existing.Title, scraped.Title))
	}
	if !existing.Price.Equal(scraped.Price) || existing.Currency != scraped.Currency {
		changes = append(changes, fmt.Sprintf("Price changed from %s %s to %s %s",
			existing.Price.StringFixed(2), existing.Currency,
			scraped.Price.StringFixed(2), scraped.Currency,
		))
	}
	return changes
}

// Reconciler applies scraped listings inside an address-run transaction.
type Reconciler struct {
	logger *zap.Logger
}

// New constructs a Reconciler.
func New(logger *zap.Logger) *Reconciler {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger.Named("reconcile")}
}

// Reconcile creates or updates the item for scraped.URL and records that
// search observed it. Every failure is returned as *catalog.ReconciliationError.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	tx catalog.Tx,
	scraped catalog.ScrapedItem,
	search catalog.Search,
) (Outcome, error) {
	out, err := r.apply(ctx, tx, scraped)
	if err != nil {
		metrics.ObserveItem(metrics.ItemFailed)
		return Outcome{}, &catalog.ReconciliationError{URL: scraped.URL, Err: err}
	}
	err = tx.CreateSearchResult(ctx, catalog.SearchResult{
		SearchID: search.ID,
		ItemID:   out.Item.ID,
		WasFound: true,
	})
	if err != nil {
		metrics.ObserveItem(metrics.ItemFailed)
		return Outcome{}, &catalog.ReconciliationError{URL: scraped.URL, Err: fmt.Errorf("record search result: %w", err)}
	}

	switch {
	case out.WasCreated:
		metrics.ObserveItem(metrics.ItemCreated)
	case out.Changed:
		metrics.ObserveItem(metrics.ItemUpdated)
	default:
		metrics.ObserveItem(metrics.ItemUnchanged)
	}
	return out, nil
}

func (r *Reconciler) apply(ctx context.Context, tx catalog.Tx, scraped catalog.ScrapedItem) (Outcome, error) {
	existing, err := tx.FindItemByURL(ctx, scraped.URL)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		created, cerr := tx.CreateItem(ctx, catalog.Item{
			URL:      scraped.URL,
			Title:    scraped.Title,
			Price:    scraped.Price,
			Currency: scraped.Currency,
		})
		if cerr == nil {
			r.logger.Debug("item created", zap.String("url", scraped.URL), zap.Int64("item_id", created.ID))
			return Outcome{Item: created, WasCreated: true}, nil
		}
		if !errors.Is(cerr, catalog.ErrItemExists) {
			return Outcome{}, fmt.Errorf("create item: %w", cerr)
		}
		// Another writer inserted the URL first; reconcile against its row.
		existing, err = tx.FindItemByURL(ctx, scraped.URL)
		if err != nil {
			return Outcome{}, fmt.Errorf("find item after conflict: %w", err)
		}
	case err != nil:
		return Outcome{}, fmt.Errorf("find item: %w", err)
	}
	return r.update(ctx, tx, existing, scraped)
}

func (r *Reconciler) update(
	ctx context.Context,
	tx catalog.Tx,
	existing catalog.Item,
	scraped catalog.ScrapedItem,
) (Outcome, error) {
	changes := Diff(existing, scraped)
	if len(changes) == 0 {
		return Outcome{Item: existing}, nil
	}
	err := tx.AppendItemUpdate(ctx, catalog.ItemUpdate{
		ItemID:  existing.ID,
		Changes: strings.Join(changes, "\n"),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("append item update: %w", err)
	}
	updated := existing
	updated.Title = scraped.Title
	updated.Price = scraped.Price
	updated.Currency = scraped.Currency
	if err := tx.UpdateItem(ctx, updated); err != nil {
		return Outcome{}, fmt.Errorf("update item: %w", err)
	}
	r.logger.Debug("item updated",
		zap.String("url", scraped.URL),
		zap.Int64("item_id", existing.ID),
		zap.Strings("changes", changes),
	)
	return Outcome{Item: updated, Changed: true}, nil
}

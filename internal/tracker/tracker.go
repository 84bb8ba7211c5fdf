// Package tracker records the lifecycle of address searches.
package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
)

// Tracker opens and closes Search rows.
type Tracker struct {
	store  catalog.Store
	clock  catalog.Clock
	logger *zap.Logger
}

// New builds a Tracker.
func New(store catalog.Store, clock catalog.Clock, logger *zap.Logger) *Tracker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, clock: clock, logger: logger.Named("tracker")}
}

// Start persists an unfinished search for address.
func (t *Tracker) Start(ctx context.Context, address catalog.Address) (catalog.Search, error) {
	search, err := t.store.CreateSearch(ctx, address.ID, t.clock.Now())
	if err != nil {
		return catalog.Search{}, fmt.Errorf("start search for address %d: %w", address.ID, err)
	}
	t.logger.Debug("search started", zap.Int64("search_id", search.ID), zap.Int64("address_id", address.ID))
	return search, nil
}

// Finish marks search finished inside tx. It commits with the results.
func (t *Tracker) Finish(ctx context.Context, tx catalog.Tx, search catalog.Search) error {
	if err := tx.FinishSearch(ctx, search.ID); err != nil {
		return fmt.Errorf("finish search %d: %w", search.ID, err)
	}
	return nil
}

// ItemsFound counts the items the search observed.
func (t *Tracker) ItemsFound(ctx context.Context, searchID int64) (int, error) {
	n, err := t.store.CountFound(ctx, searchID)
	if err != nil {
		return 0, fmt.Errorf("count items for search %d: %w", searchID, err)
	}
	return n, nil
}

// Finished records a search whose transaction committed.
func (t *Tracker) Finished(search catalog.Search, found int) {
	metrics.ObserveSearch("finished")
	t.logger.Info("search finished", zap.Int64("search_id", search.ID), zap.Int("items_found", found))
}

// Failed records a search abandoned before Finish.
func (t *Tracker) Failed(search catalog.Search, err error) {
	metrics.ObserveSearch("failed")
	t.logger.Warn("search failed", zap.Int64("search_id", search.ID), zap.Error(err))
}

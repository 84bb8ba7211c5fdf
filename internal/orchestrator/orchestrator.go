// Package orchestrator runs every address of a category, reconciles what
// was found and sends one notification per run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
	"github.com/JakeFAU/classifieds-crawler/internal/paginate"
	"github.com/JakeFAU/classifieds-crawler/internal/reconcile"
	"github.com/JakeFAU/classifieds-crawler/internal/tracker"
)

const (
	notificationHead = "New items found!"
	categoryIDToken  = "{id}"
)

// AddressRunner fetches and parses every page of one address.
type AddressRunner interface {
	RunAddress(ctx context.Context, address catalog.Address, opts paginate.Options) (paginate.Result, error)
}

// Config controls category runs.
type Config struct {
	// AddressConcurrency bounds addresses run at once. 1 runs them in order.
	AddressConcurrency int
	// RunTimeout bounds a whole category run. Zero means no deadline.
	RunTimeout time.Duration
	// CategoryURL is the notification link; "{id}" is replaced by the category ID.
	CategoryURL string
}

// AddressResult summarizes one address run.
type AddressResult struct {
	Address  catalog.Address
	SearchID int64
	Pages    int
	Skipped  int
	Created  int
	Updated  int
	Failed   int
	Found    int
	Err      error
}

// Result summarizes a category run.
type Result struct {
	Category   catalog.Category
	Addresses  []AddressResult
	ItemsFound int
	Notified   bool
}

// Orchestrator runs categories end to end.
type Orchestrator struct {
	store      catalog.Store
	runner     AddressRunner
	reconciler *reconcile.Reconciler
	tracker    *tracker.Tracker
	locker     catalog.Locker
	notifier   catalog.Notifier
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(
	store catalog.Store,
	runner AddressRunner,
	reconciler *reconcile.Reconciler,
	tr *tracker.Tracker,
	locker catalog.Locker,
	notifier catalog.Notifier,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AddressConcurrency <= 0 {
		cfg.AddressConcurrency = 1
	}
	return &Orchestrator{
		store:      store,
		runner:     runner,
		reconciler: reconciler,
		tracker:    tr,
		locker:     locker,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}
}

// RunCategory searches every address of the category. A failing address is
// recorded in its AddressResult and does not stop the others; an error is
// returned only when the category cannot be loaded or every address failed
// without finding anything.
func (o *Orchestrator) RunCategory(ctx context.Context, categoryID int64) (Result, error) {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	start := time.Now()
	logger := o.logger.With(zap.Int64("category_id", categoryID))

	category, err := o.store.GetCategory(ctx, categoryID)
	if err != nil {
		metrics.ObserveCategoryRun("failed")
		return Result{}, fmt.Errorf("load category %d: %w", categoryID, err)
	}
	addresses, err := o.store.ListAddresses(ctx, categoryID)
	if err != nil {
		metrics.ObserveCategoryRun("failed")
		return Result{}, fmt.Errorf("list addresses for category %d: %w", categoryID, err)
	}

	res := Result{Category: category, Addresses: make([]AddressResult, len(addresses))}
	var g errgroup.Group
	g.SetLimit(o.cfg.AddressConcurrency)
	for i, address := range addresses {
		g.Go(func() error {
			res.Addresses[i] = o.runAddress(ctx, logger, address)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, ar := range res.Addresses {
		if ar.Err != nil {
			errs = append(errs, fmt.Errorf("address %d: %w", ar.Address.ID, ar.Err))
			continue
		}
		res.ItemsFound += ar.Found
	}

	if res.ItemsFound > 0 {
		res.Notified = o.notify(ctx, logger, category, res.ItemsFound)
	}

	status := "succeeded"
	switch {
	case len(errs) > 0 && len(errs) == len(addresses) && res.ItemsFound == 0:
		status = "failed"
	case len(errs) > 0:
		status = "partial"
	}
	metrics.ObserveCategoryRun(status)
	logger.Info("category run finished",
		zap.String("status", status),
		zap.Int("addresses", len(addresses)),
		zap.Int("failed_addresses", len(errs)),
		zap.Int("items_found", res.ItemsFound),
		zap.Duration("duration", time.Since(start)),
	)
	if status == "failed" {
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (o *Orchestrator) runAddress(ctx context.Context, logger *zap.Logger, address catalog.Address) AddressResult {
	ar := AddressResult{Address: address}
	logger = logger.With(zap.Int64("address_id", address.ID), zap.String("site", string(address.Site)))

	search, err := o.tracker.Start(ctx, address)
	if err != nil {
		ar.Err = err
		logger.Warn("address run failed", zap.Error(err))
		return ar
	}
	ar.SearchID = search.ID

	page, err := o.runner.RunAddress(ctx, address, paginate.Options{SearchID: search.ID})
	if err != nil {
		ar.Err = err
		o.tracker.Failed(search, err)
		return ar
	}
	ar.Pages = page.Pages
	ar.Skipped = page.Skipped

	if err := o.reconcileAll(ctx, logger, search, page.Items, &ar); err != nil {
		ar.Err = err
		o.tracker.Failed(search, err)
		return ar
	}

	found, err := o.tracker.ItemsFound(ctx, search.ID)
	if err != nil {
		ar.Err = err
		logger.Warn("count items failed", zap.Int64("search_id", search.ID), zap.Error(err))
		return ar
	}
	ar.Found = found
	o.tracker.Finished(search, found)
	return ar
}

// reconcileAll writes every item and finishes the search in one
// transaction, holding the item URL locks until it commits.
func (o *Orchestrator) reconcileAll(
	ctx context.Context,
	logger *zap.Logger,
	search catalog.Search,
	items []catalog.ScrapedItem,
	ar *AddressResult,
) error {
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	unlock, err := o.locker.Lock(ctx, urls)
	if err != nil {
		return fmt.Errorf("lock item urls: %w", err)
	}
	defer unlock()

	var created, updated, failed int
	err = o.store.InTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		created, updated, failed = 0, 0, 0
		for _, item := range items {
			var out reconcile.Outcome
			serr := tx.Savepoint(ctx, func(ctx context.Context) error {
				var rerr error
				out, rerr = o.reconciler.Reconcile(ctx, tx, item, search)
				return rerr
			})
			var recErr *catalog.ReconciliationError
			switch {
			case errors.As(serr, &recErr):
				failed++
				logger.Warn("item skipped", zap.String("url", item.URL), zap.Error(serr))
			case serr != nil:
				return serr
			case out.WasCreated:
				created++
			case out.Changed:
				updated++
			}
		}
		return o.tracker.Finish(ctx, tx, search)
	})
	if err != nil {
		return err
	}
	ar.Created, ar.Updated, ar.Failed = created, updated, failed
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, category catalog.Category, found int) bool {
	n := catalog.Notification{
		Head: notificationHead,
		Body: fmt.Sprintf("See %d new items for %s", found, category.Name),
		URL:  o.categoryURL(category.ID),
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		metrics.ObserveNotification("failed")
		logger.Error("notification failed", zap.Error(err))
		return false
	}
	metrics.ObserveNotification("sent")
	return true
}

func (o *Orchestrator) categoryURL(id int64) string {
	return strings.ReplaceAll(o.cfg.CategoryURL, categoryIDToken, strconv.FormatInt(id, 10))
}

// Package seed loads configured categories and addresses into the catalog.
package seed

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/config"
)

// Upserter writes categories and addresses idempotently.
type Upserter interface {
	UpsertCategory(ctx context.Context, category catalog.Category) (catalog.Category, error)
	UpsertAddress(ctx context.Context, address catalog.Address) (catalog.Address, error)
}

// Summary counts what Apply wrote.
type Summary struct {
	Categories int
	Addresses  int
}

// Apply upserts every category and its addresses. Running it twice leaves
// the catalog unchanged.
func Apply(ctx context.Context, store Upserter, categories []config.CategoryConfig, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sum Summary
	for _, cc := range categories {
		category, err := store.UpsertCategory(ctx, catalog.Category{
			Name:            cc.Name,
			SearchFrequency: cc.SearchFrequency,
		})
		if err != nil {
			return sum, fmt.Errorf("seed category %q: %w", cc.Name, err)
		}
		sum.Categories++
		for _, ac := range cc.Addresses {
			name := ac.Name
			if name == "" {
				name = ac.URL
			}
			if _, err := store.UpsertAddress(ctx, catalog.Address{
				CategoryID: category.ID,
				Site:       catalog.SiteKind(strings.ToUpper(ac.Site)),
				Name:       name,
				URL:        ac.URL,
			}); err != nil {
				return sum, fmt.Errorf("seed address %q of %q: %w", ac.URL, cc.Name, err)
			}
			sum.Addresses++
		}
		logger.Info("category seeded",
			zap.Int64("category_id", category.ID),
			zap.String("name", category.Name),
			zap.Int("addresses", len(cc.Addresses)),
		)
	}
	return sum, nil
}

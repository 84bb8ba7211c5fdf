package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/classifieds-crawler/internal/config"
	pgstore "github.com/JakeFAU/classifieds-crawler/internal/storage/postgres"
)

// migrate is swapped in tests.
var migrate = pgstore.Migrate

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the embedded Postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Store.Provider != config.ProviderPostgres {
				return errors.New("migrate requires store.provider=postgres")
			}
			version, dirty, err := migrate(cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
			return err
		},
	}
}

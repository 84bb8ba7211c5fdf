package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/classifieds-crawler/internal/config"
	"github.com/JakeFAU/classifieds-crawler/internal/server"
)

// cfgKeyType is the key for storing the loaded Config in the command context.
type cfgKeyType struct{}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg *config.Config) (*server.App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "classifieds",
		Short: "Crawls classified-ad sites and tracks listings per category.",
		Long: `classifieds searches the listing pages of OLX, Gumtree and Vinted for each
configured category, keeps a catalog of every listing with its price history
and sends a notification when a run finds items.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one sees the same Config.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKeyType{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.AddCommand(newServeCmd(), newSearchCmd(), newSeedCmd(), newMigrateCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func buildApp(cmd *cobra.Command) (*server.App, error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize application services: %w", err)
	}
	return app, nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/seed"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upserts the configured categories and addresses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if len(cfg.Categories) == 0 {
				return errors.New("no categories configured")
			}
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(); cerr != nil {
					zap.L().Warn("close application failed", zap.Error(cerr))
				}
			}()

			sum, err := seed.Apply(cmd.Context(), app.Store(), cfg.Categories, zap.L())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d categories and %d addresses\n", sum.Categories, sum.Addresses)
			return err
		},
	}
}

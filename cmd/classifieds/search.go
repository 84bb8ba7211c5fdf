package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/orchestrator"
)

type addressSummary struct {
	AddressID int64  `json:"address_id"`
	SearchID  int64  `json:"search_id,omitempty"`
	Pages     int    `json:"pages"`
	Skipped   int    `json:"skipped"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
	Found     int    `json:"found"`
	Error     string `json:"error,omitempty"`
}

type runSummary struct {
	CategoryID int64            `json:"category_id"`
	Category   string           `json:"category"`
	ItemsFound int              `json:"items_found"`
	Notified   bool             `json:"notified"`
	Addresses  []addressSummary `json:"addresses"`
}

func summarize(res orchestrator.Result) runSummary {
	out := runSummary{
		CategoryID: res.Category.ID,
		Category:   res.Category.Name,
		ItemsFound: res.ItemsFound,
		Notified:   res.Notified,
		Addresses:  make([]addressSummary, 0, len(res.Addresses)),
	}
	for _, ar := range res.Addresses {
		s := addressSummary{
			AddressID: ar.Address.ID,
			SearchID:  ar.SearchID,
			Pages:     ar.Pages,
			Skipped:   ar.Skipped,
			Created:   ar.Created,
			Updated:   ar.Updated,
			Failed:    ar.Failed,
			Found:     ar.Found,
		}
		if ar.Err != nil {
			s.Error = ar.Err.Error()
		}
		out.Addresses = append(out.Addresses, s)
	}
	return out
}

func newSearchCmd() *cobra.Command {
	var categoryID int64
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs one category in the foreground",
		Long: `Searches every address of the category once, reconciles the listings into
the catalog and prints a JSON summary of the run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if categoryID <= 0 {
				return errors.New("--category must be a positive category ID")
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

			res, runErr := app.RunCategory(cmd.Context(), categoryID)
			if res.Category.ID != 0 {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summarize(res)); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().Int64Var(&categoryID, "category", 0, "ID of the category to search")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, scheduler and workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

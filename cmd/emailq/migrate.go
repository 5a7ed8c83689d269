package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/djshoppre/emailq/internal/template/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply template store schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.URL == "" {
				return errNoDatabase
			}
			pool, err := postgres.Connect(cmd.Context(), a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(cmd.Context(), pool, slog.Default()); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

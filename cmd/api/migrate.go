package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"incident-monitor/internal/repo"
)

func migrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repo.NewDB(cmd.Context(), opts.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("Schema applied")
			return nil
		},
	}
}

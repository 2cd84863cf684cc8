package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"incident-monitor/internal/ingest"
)

func ingestCommand(opts *rootOptions) *cobra.Command {
	var (
		memory bool
		enrich bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [file or directory]",
		Short: "Submit article files through the pipeline",
		Long:  `Read JSON or YAML lists of articles and run each one through classification and extraction, in order.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts.cfg, memory)
			if err != nil {
				return err
			}
			defer a.Close()

			var enricher *ingest.Enricher
			if enrich {
				enricher = ingest.NewEnricher(nil)
			}
			loader := ingest.NewLoader(a.processor, enricher)

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			var tally ingest.Tally
			if info.IsDir() {
				tally, err = loader.LoadFromDirectory(ctx, args[0])
			} else {
				tally, err = loader.LoadFromFile(ctx, args[0])
			}

			log.Info().
				Int("processed", tally.Processed).
				Int("skipped", tally.Skipped).
				Int("failed", tally.Failed).
				Msg("Ingest finished")
			fmt.Fprintln(cmd.OutOrStdout(), tally)
			return err
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "Use the in-memory store instead of Postgres")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "Fetch article pages to fill missing title and snippet")

	return cmd
}

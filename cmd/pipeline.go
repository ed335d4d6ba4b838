package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/backfill"
	"github.com/manganews/pipeline/internal/importer"
	"github.com/manganews/pipeline/internal/pipeline"
	"github.com/manganews/pipeline/internal/validate"
)

// newPipelineCmd creates the 'pipeline' subcommand running the full
// backfill -> validate -> import sequence for both datasets.
func newPipelineCmd() *cobra.Command {
	var (
		noBackfill bool
		skipImport bool
		dsnFlag    string
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run backfill, validation and import end to end",
		Long: `Backfills both raw JSONL files, validates the backfilled variants
against their expectation suites, and imports them into Postgres. Validation
failure on either dataset stops the run before anything is staged.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			opts := pipeline.Options{
				NoBackfill: noBackfill,
				SkipImport: skipImport,
				KeepDays:   a.cfg.Import.KeepDays,
			}
			if !skipImport {
				dsn, err := a.cfg.ResolveDSN(dsnFlag)
				if err != nil {
					return err
				}
				opts.DSN = dsn
			}

			paths := a.paths()
			pl := pipeline.New(
				paths,
				backfill.New(a.logger),
				validate.NewRunner(paths, a.logger),
				func(ctx context.Context, dsn string) (pipeline.ImportStore, error) {
					return importer.NewStore(ctx, dsn, a.logger)
				},
				a.logger,
			)

			state, err := pl.Run(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			a.logger.Info("pipeline run complete", zap.String("state", string(state)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBackfill, "no-backfill", false, "skip the backfill stage and validate the raw files")
	cmd.Flags().BoolVar(&skipImport, "skip-import", false, "stop after a successful validation")
	cmd.Flags().StringVar(&dsnFlag, "dsn", "", "Postgres DSN override (default: POSTGRES_DSN)")

	return cmd
}

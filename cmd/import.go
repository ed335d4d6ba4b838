package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/backfill"
	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/importer"
	"github.com/manganews/pipeline/internal/validate"
)

// resolveImportFile picks the file to import: an explicit --file wins,
// otherwise the dataset's backfilled file.
func resolveImportFile(paths dataset.Paths, kind dataset.Kind, file string) string {
	if file != "" {
		return file
	}
	return paths.Backfilled(kind)
}

// importGate backfills and validates before an import, or is skipped
// entirely under --skip-gx. The gate always runs on the dataset's default
// files: a --file override is imported as given, on the caller's assertion
// that it already passed validation, and the mismatch is logged loudly.
func importGate(ctx context.Context, logger *zap.Logger, paths dataset.Paths, kind dataset.Kind, resolved string, skip bool) error {
	if skip {
		logger.Info("validation gate skipped (--skip-gx)",
			zap.String("file", resolved))
		return nil
	}
	if resolved != paths.Backfilled(kind) {
		logger.Warn("validation gate runs on the default files, not on --file",
			zap.String("import_file", resolved),
			zap.String("validated_file", paths.Backfilled(kind)),
		)
	}
	backfilled, _, err := backfill.New(logger).Run(ctx, kind, paths.Raw(kind))
	if err != nil {
		return fmt.Errorf("import gate: %w", err)
	}
	report, err := validate.NewRunner(paths, logger).File(ctx, backfilled, kind)
	if err != nil {
		return fmt.Errorf("import gate: %w", err)
	}
	if !report.Passed {
		return &validate.GateError{Reports: []validate.Report{report}}
	}
	return nil
}

// newImportCmd creates the 'import' subcommand loading one dataset into
// Postgres.
func newImportCmd() *cobra.Command {
	var (
		datasetFlag string
		file        string
		skipGX      bool
		keepDays    int
		dsnFlag     string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a validated JSONL file into Postgres",
		Long: `Stages the records of one dataset, promotes them into the production
table by upsert on (dataset, identifier), and purges staging rows older than
the retention window.

Unless --skip-gx is set, the default raw file is backfilled and validated
first and a failed validation aborts the import. Note the gate always runs
on the default files: a --file override is imported as given, on the
caller's assertion that it already passed validation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			kind, err := dataset.Parse(datasetFlag)
			if err != nil {
				return err
			}
			paths := a.paths()
			resolved := resolveImportFile(paths, kind, file)
			if err := importGate(cmd.Context(), a.logger, paths, kind, resolved, skipGX); err != nil {
				return err
			}

			dsn, err := a.cfg.ResolveDSN(dsnFlag)
			if err != nil {
				return err
			}
			if keepDays <= 0 {
				keepDays = a.cfg.Import.KeepDays
			}

			store, err := importer.NewStore(cmd.Context(), dsn, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			batch, err := importer.LoadBatch(resolved)
			if err != nil {
				return err
			}
			result, err := store.Import(cmd.Context(), kind, batch, keepDays)
			if err != nil {
				return err
			}
			a.logger.Info("import complete",
				zap.String("dataset", kind.String()),
				zap.String("run_id", result.RunID.String()),
				zap.Int64("rows_staged", result.RowsStaged),
				zap.Int64("rows_promoted", result.RowsPromoted),
				zap.Int64("rows_purged", result.RowsPurged),
				zap.Int64("rows_skipped", result.RowsSkipped),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetFlag, "dataset", "", "dataset to import: series or populaires")
	cmd.Flags().StringVar(&file, "file", "", "JSONL file to import (default: the dataset's backfilled file)")
	cmd.Flags().BoolVar(&skipGX, "skip-gx", false, "skip the validation gate; the file is assumed to have passed already")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "staging retention window in days (default: import.keep_days)")
	cmd.Flags().StringVar(&dsnFlag, "dsn", "", "Postgres DSN override (default: POSTGRES_DSN)")
	_ = cmd.MarkFlagRequired("dataset") //nolint:errcheck // flag exists

	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/validate"
)

// newValidateCmd creates the 'validate' subcommand checking one JSONL file
// against its dataset's expectation suite.
func newValidateCmd() *cobra.Command {
	var (
		file   string
		schema string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSONL file against its dataset schema",
		Long: `Checks every record of a JSONL file against the expectation suite of
its dataset. The dataset is taken from --schema when given, otherwise
inferred from the filename. The check is exhaustive: the report enumerates
every violation, and a failed report exits nonzero.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var kind dataset.Kind
			if schema != "" {
				kind, err = dataset.Parse(schema)
			} else {
				kind, err = dataset.Infer(file)
			}
			if err != nil {
				return err
			}

			runner := validate.NewRunner(a.paths(), a.logger)
			report, err := runner.File(cmd.Context(), file, kind)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			if !report.Passed {
				return &validate.GateError{Reports: []validate.Report{report}}
			}
			a.logger.Info("validation passed",
				zap.String("dataset", kind.String()),
				zap.Int("total_records", report.TotalRecords),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSONL file to validate")
	cmd.Flags().StringVar(&schema, "schema", "", "dataset schema: series or populaires (default: inferred from filename)")
	_ = cmd.MarkFlagRequired("file") //nolint:errcheck // flag exists

	return cmd
}

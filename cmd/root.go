// Package cmd defines and implements the CLI commands for the manganews
// pipeline executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/config"
	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/importer"
	"github.com/manganews/pipeline/internal/logging"
	"github.com/manganews/pipeline/internal/metrics"
	"github.com/manganews/pipeline/internal/validate"
)

// Exit codes surfaced to the invoking shell.
const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitImport     = 3
	exitConfig     = 4
)

var cfgFile string

// app bundles the services every command needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// paths returns the stage path mapping for this run.
func (a *app) paths() dataset.Paths {
	return dataset.Paths{
		EnrichedDir: a.cfg.Paths.EnrichedDir,
		ReportDir:   a.cfg.Paths.ReportDir,
	}
}

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory, a variable so tests can swap in a
// canned config.
var newApp = func() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manganews-pipeline",
		Short: "Crawl, validate and import manga-news datasets",
		Long: `manganews-pipeline scrapes the manga-news site into JSONL files,
repairs derivable fields, validates every record against the dataset's
expectation suite, and imports validated records into Postgres through a
staging table with retention cleanup.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			metrics.Init()
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := resolveApp(cmd.Context()); err == nil {
				_ = a.logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment and built-in defaults)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newPipelineCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newImportCmd())

	return cmd
}

// Execute runs the CLI and exits with a code identifying the failure class.
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps the error taxonomy onto shell exit codes: validation
// failures, import failures and configuration errors are distinguishable to
// the caller.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var gateErr *validate.GateError
	switch {
	case errors.As(err, &gateErr):
		return exitValidation
	case errors.Is(err, config.ErrMissingDSN), errors.Is(err, dataset.ErrAmbiguousSchema):
		return exitConfig
	case errors.Is(err, importer.ErrImport):
		return exitImport
	default:
		return exitFailure
	}
}

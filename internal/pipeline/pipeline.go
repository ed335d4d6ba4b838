// Package pipeline sequences the backfill, validate, and import stages.
// The orchestrator is a linear gate: each stage must finish before the next
// starts, a validation failure stops the run, and there are no retries.
// Re-running from the start is always safe because every stage is
// idempotent.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/backfill"
	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/importer"
	"github.com/manganews/pipeline/internal/validate"
)

// State is the orchestrator's position in the run.
type State string

const (
	StateStart      State = "start"
	StateBackfilled State = "backfilled"
	StateValidated  State = "validated"
	StateImported   State = "imported"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Options control which stages run.
type Options struct {
	// NoBackfill validates and imports the raw files directly.
	NoBackfill bool
	// SkipImport stops after a successful validation.
	SkipImport bool
	// DSN overrides the configured connection string.
	DSN string
	// KeepDays bounds the staging retention window.
	KeepDays int
}

// ImportStore is the importer surface the pipeline drives.
type ImportStore interface {
	Import(ctx context.Context, kind dataset.Kind, batch importer.Batch, keepDays int) (importer.ImportResult, error)
	Close()
}

// StoreFactory opens an ImportStore for a DSN. Injected so tests can run
// the pipeline without Postgres.
type StoreFactory func(ctx context.Context, dsn string) (ImportStore, error)

// Pipeline wires the stages together over one set of file paths.
type Pipeline struct {
	paths      dataset.Paths
	backfiller *backfill.Backfiller
	validator  *validate.Runner
	newStore   StoreFactory
	logger     *zap.Logger
}

// New builds a Pipeline.
func New(paths dataset.Paths, backfiller *backfill.Backfiller, validator *validate.Runner, newStore StoreFactory, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		paths:      paths,
		backfiller: backfiller,
		validator:  validator,
		newStore:   newStore,
		logger:     logger,
	}
}

// Run executes the stage sequence for both datasets and returns the final
// state. On error the returned state is StateFailed and the error names the
// stage that broke.
func (p *Pipeline) Run(ctx context.Context, opts Options) (State, error) {
	inputs := make(map[dataset.Kind]string, len(dataset.All()))
	for _, kind := range dataset.All() {
		inputs[kind] = p.paths.Raw(kind)
	}

	if opts.NoBackfill {
		p.logger.Info("backfill skipped, validating raw files")
	} else {
		for _, kind := range dataset.All() {
			out, stats, err := p.backfiller.Run(ctx, kind, inputs[kind])
			if err != nil {
				return StateFailed, fmt.Errorf("backfill stage (%s): %w", kind, err)
			}
			inputs[kind] = out
			p.logger.Info("stage complete",
				zap.String("stage", "backfill"),
				zap.String("state", string(StateBackfilled)),
				zap.String("dataset", kind.String()),
				zap.Int("records", stats.Records),
			)
		}
	}

	reports := make([]validate.Report, 0, len(dataset.All()))
	var failed []validate.Report
	for _, kind := range dataset.All() {
		report, err := p.validator.File(ctx, inputs[kind], kind)
		if err != nil {
			return StateFailed, fmt.Errorf("validate stage (%s): %w", kind, err)
		}
		reports = append(reports, report)
		if !report.Passed {
			failed = append(failed, report)
		}
	}
	summaryPath, err := p.validator.WriteSummary(reports)
	if err != nil {
		return StateFailed, fmt.Errorf("validate stage: %w", err)
	}
	if len(failed) > 0 {
		p.logger.Warn("validation gate failed", zap.String("summary", summaryPath))
		return StateFailed, fmt.Errorf("validate stage: %w", &validate.GateError{Reports: failed})
	}
	p.logger.Info("stage complete",
		zap.String("stage", "validate"),
		zap.String("state", string(StateValidated)),
		zap.String("summary", summaryPath),
	)

	if opts.SkipImport {
		p.logger.Info("validation OK, import skipped")
		return StateValidated, nil
	}

	store, err := p.newStore(ctx, opts.DSN)
	if err != nil {
		return StateFailed, fmt.Errorf("import stage: %w", err)
	}
	defer store.Close()

	for _, kind := range dataset.All() {
		batch, err := importer.LoadBatch(inputs[kind])
		if err != nil {
			return StateFailed, fmt.Errorf("import stage (%s): %w", kind, err)
		}
		result, err := store.Import(ctx, kind, batch, opts.KeepDays)
		if err != nil {
			return StateFailed, fmt.Errorf("import stage (%s): %w", kind, err)
		}
		p.logger.Info("stage complete",
			zap.String("stage", "import"),
			zap.String("state", string(StateImported)),
			zap.String("dataset", kind.String()),
			zap.Int64("rows_staged", result.RowsStaged),
			zap.Int64("rows_promoted", result.RowsPromoted),
			zap.Int64("rows_purged", result.RowsPurged),
		)
	}
	p.logger.Info("pipeline finished", zap.String("state", string(StateDone)))
	return StateDone, nil
}

// Package validate runs expectation suites over JSONL files and writes the
// resulting reports. Validation never mutates its input; a failed report is
// the gate that keeps bad data out of the importer.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/expect"
	"github.com/manganews/pipeline/internal/jsonl"
	"github.com/manganews/pipeline/internal/metrics"
)

// Report is the verdict for one file against one dataset suite.
type Report struct {
	Dataset        string             `json:"dataset"`
	Suite          string             `json:"suite"`
	File           string             `json:"file"`
	RunAt          time.Time          `json:"run_at_utc"`
	Passed         bool               `json:"passed"`
	TotalRecords   int                `json:"total_records"`
	Violations     []expect.Violation `json:"violations"`
	MalformedLines []int              `json:"malformed_lines,omitempty"`
}

// GateError signals that validation failed and downstream stages must not
// run. It carries the failed reports so callers can surface which fields
// and constraints broke.
type GateError struct {
	Reports []Report
}

// Error implements the error interface.
func (e *GateError) Error() string {
	parts := make([]string, 0, len(e.Reports))
	for _, r := range e.Reports {
		parts = append(parts, fmt.Sprintf("%s: %d violations over %d records",
			r.Dataset, len(r.Violations), r.TotalRecords))
	}
	return "validation gate failed: " + strings.Join(parts, "; ")
}

// Runner validates files and persists their reports.
type Runner struct {
	paths  dataset.Paths
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner builds a Runner writing reports under paths.ReportDir.
func NewRunner(paths dataset.Paths, logger *zap.Logger) *Runner {
	return &Runner{paths: paths, logger: logger, now: time.Now}
}

// File validates one JSONL file against the suite for kind and writes the
// per-dataset report. The check is exhaustive: every violation across every
// record lands in the report. Malformed lines are recorded as violations
// rather than aborting; a file with no decodable record fails outright.
func (r *Runner) File(ctx context.Context, path string, kind dataset.Kind) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("validate %s: %w", kind, err)
	}
	decoded, err := jsonl.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("validate %s: %w", kind, err)
	}

	suite := SuiteFor(kind)
	violations := suite.Run(decoded.Records)
	for _, m := range decoded.Malformed {
		violations = append(violations, expect.Violation{
			RecordIndex: -1,
			Field:       fmt.Sprintf("line %d", m.Line),
			Rule:        "malformed_json",
			Observed:    m.Err.Error(),
		})
	}

	report := Report{
		Dataset:        kind.String(),
		Suite:          suite.Name,
		File:           path,
		RunAt:          r.now().UTC(),
		Passed:         len(violations) == 0 && len(decoded.Records) > 0,
		TotalRecords:   len(decoded.Records),
		Violations:     violations,
		MalformedLines: decoded.MalformedLines(),
	}

	if err := writeJSON(r.paths.Report(kind), report); err != nil {
		return Report{}, fmt.Errorf("write report for %s: %w", kind, err)
	}
	metrics.ViolationsReported(kind.String(), len(violations))

	r.logger.Info("validation finished",
		zap.String("dataset", kind.String()),
		zap.String("file", path),
		zap.Bool("passed", report.Passed),
		zap.Int("total_records", report.TotalRecords),
		zap.Int("violations", len(violations)),
	)
	return report, nil
}

// Summary captures the outcome of a multi-dataset validation run.
type Summary struct {
	RunAt          time.Time         `json:"run_at_utc"`
	Inputs         map[string]string `json:"inputs_used_for_validation"`
	Reports        map[string]string `json:"reports"`
	OverallSuccess bool              `json:"overall_success"`
}

// WriteSummary persists the whole-run summary next to the dataset reports
// and returns its path.
func (r *Runner) WriteSummary(reports []Report) (string, error) {
	summary := Summary{
		RunAt:          r.now().UTC(),
		Inputs:         make(map[string]string, len(reports)),
		Reports:        make(map[string]string, len(reports)),
		OverallSuccess: true,
	}
	for _, rep := range reports {
		summary.Inputs[rep.Dataset] = rep.File
		kind, err := dataset.Parse(rep.Dataset)
		if err != nil {
			return "", err
		}
		summary.Reports[rep.Dataset] = r.paths.Report(kind)
		if !rep.Passed {
			summary.OverallSuccess = false
		}
	}
	path := r.paths.Summary()
	if err := writeJSON(path, summary); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

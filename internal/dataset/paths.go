package dataset

import (
	"path/filepath"
	"strings"
)

// BackfilledSuffix links a raw JSONL file to its repaired variant.
const BackfilledSuffix = ".backfilled.jsonl"

// Paths materializes the stage-to-file mapping for one pipeline run.
// Stages receive concrete paths from here instead of reconstructing
// suffix conventions themselves.
type Paths struct {
	EnrichedDir string
	ReportDir   string
}

// Raw returns the crawler output file for a dataset.
func (p Paths) Raw(k Kind) string {
	if k == Populaires {
		return filepath.Join(p.EnrichedDir, "populaires.jsonl")
	}
	return filepath.Join(p.EnrichedDir, "manganews_series.jsonl")
}

// Backfilled returns the repaired file for a dataset.
func (p Paths) Backfilled(k Kind) string {
	return BackfilledFor(p.Raw(k))
}

// Report returns the per-dataset validation report file.
func (p Paths) Report(k Kind) string {
	if k == Populaires {
		return filepath.Join(p.ReportDir, "populaires_report.json")
	}
	return filepath.Join(p.ReportDir, "manganews_series_report.json")
}

// Summary returns the whole-run validation summary file.
func (p Paths) Summary() string {
	return filepath.Join(p.ReportDir, "summary_report.json")
}

// BackfilledFor derives the backfilled path for an arbitrary raw file.
// Already-backfilled paths map to themselves, so the derivation is stable
// under repeated application.
func BackfilledFor(rawPath string) string {
	if strings.HasSuffix(rawPath, BackfilledSuffix) {
		return rawPath
	}
	return strings.TrimSuffix(rawPath, ".jsonl") + BackfilledSuffix
}

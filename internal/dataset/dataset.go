// Package dataset enumerates the pipeline's dataset kinds and the file
// layout conventions attached to them. Every stage resolves kinds and paths
// through this package so the raw/backfilled/report naming lives in exactly
// one place.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies one of the two crawled datasets.
type Kind string

const (
	// Series is the per-title catalogue dataset.
	Series Kind = "series"
	// Populaires is the popularity-ranking dataset.
	Populaires Kind = "populaires"
)

// ErrAmbiguousSchema is returned when a dataset kind can neither be parsed
// nor inferred from a filename.
var ErrAmbiguousSchema = errors.New("cannot determine dataset schema")

// All returns every dataset kind, in pipeline processing order.
func All() []Kind {
	return []Kind{Series, Populaires}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Valid reports whether k is a known dataset kind.
func (k Kind) Valid() bool { return k == Series || k == Populaires }

// SchemaVersion returns the canonical schema_version value for records of
// this kind.
func (k Kind) SchemaVersion() string {
	if k == Populaires {
		return "manganews.populaires.v1"
	}
	return "manganews.series.v1"
}

// EnrichVersion returns the default enrich_version for records of this kind.
func (k Kind) EnrichVersion() string {
	if k == Populaires {
		return "enrich_item:v2"
	}
	return "enrich_jsonl.v1"
}

// IdentifierField names the record field holding the stable identifier.
func (k Kind) IdentifierField() string { return "serie_slug" }

// TitleField names the record field holding the display title.
func (k Kind) TitleField() string {
	if k == Populaires {
		return "title"
	}
	return "title_page"
}

// URLField names the record field holding the source URL.
func (k Kind) URLField() string {
	if k == Populaires {
		return "serie_url"
	}
	return "url"
}

// Parse converts an explicit flag value into a Kind.
func Parse(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Series:
		return Series, nil
	case Populaires:
		return Populaires, nil
	default:
		return "", fmt.Errorf("%w: unknown dataset %q", ErrAmbiguousSchema, s)
	}
}

// Infer determines the dataset kind from a filename by substring match.
// A name matching both or neither kind is ambiguous.
func Infer(path string) (Kind, error) {
	name := strings.ToLower(filepath.Base(path))
	hasSeries := strings.Contains(name, string(Series))
	hasPop := strings.Contains(name, string(Populaires))
	switch {
	case hasSeries && hasPop:
		return "", fmt.Errorf("%w: filename %q matches both datasets", ErrAmbiguousSchema, name)
	case hasSeries:
		return Series, nil
	case hasPop:
		return Populaires, nil
	default:
		return "", fmt.Errorf("%w: filename %q matches no dataset", ErrAmbiguousSchema, name)
	}
}

// Package backfill repairs JSONL records before validation. Derivations are
// non-destructive: a present value is never overwritten, and a record whose
// required fields cannot be derived passes through unchanged so validation
// can reject it later. Running the stage twice over its own output changes
// nothing.
package backfill

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/jsonl"
)

// Stats summarizes one backfill run.
type Stats struct {
	Records int // records written to the backfilled file
	Skipped int // malformed input lines omitted from the output
	Filled  int // individual field values derived
}

// Backfiller derives missing record fields for both dataset kinds.
type Backfiller struct {
	logger *zap.Logger
	now    func() time.Time
}

// New builds a Backfiller.
func New(logger *zap.Logger) *Backfiller {
	return &Backfiller{logger: logger, now: time.Now}
}

var serieSlugRe = regexp.MustCompile(`/serie/([^/?#]+)`)

var firstIntRe = regexp.MustCompile(`\d+`)

// statusAliases maps source status spellings onto the closed normalized set.
// Keys are lowercased and accent-folded before lookup.
var statusAliases = map[string]string{
	"en cours":  "ongoing",
	"ongoing":   "ongoing",
	"termine":   "completed",
	"terminee":  "completed",
	"completed": "completed",
	"fini":      "completed",
	"en pause":  "paused",
	"pause":     "paused",
	"paused":    "paused",
	"abandonne": "abandoned",
	"abandoned": "abandoned",
	"arrete":    "abandoned",
	"one shot":  "one-shot",
	"one-shot":  "one-shot",
	"oneshot":   "one-shot",
}

var accentFolder = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"û", "u", "ù", "u", "ü", "u",
	"ç", "c",
)

// Run reads the raw file, derives what it can, and writes the backfilled
// variant to the deterministic derived path. The raw file is left untouched.
// Malformed lines are skipped with a warning and counted in Stats.
func (b *Backfiller) Run(ctx context.Context, kind dataset.Kind, rawPath string) (string, Stats, error) {
	if err := ctx.Err(); err != nil {
		return "", Stats{}, fmt.Errorf("backfill %s: %w", kind, err)
	}
	decoded, err := jsonl.ReadFile(rawPath)
	if err != nil {
		return "", Stats{}, fmt.Errorf("backfill %s: %w", kind, err)
	}
	for _, m := range decoded.Malformed {
		b.logger.Warn("skipping malformed line",
			zap.String("file", rawPath),
			zap.Int("line", m.Line),
			zap.Error(m.Err),
		)
	}

	titles := titleIndex(kind, decoded.Records)

	stats := Stats{Records: len(decoded.Records), Skipped: len(decoded.Malformed)}
	for _, rec := range decoded.Records {
		stats.Filled += b.fillRecord(kind, rec, titles)
	}

	outPath := dataset.BackfilledFor(rawPath)
	if err := jsonl.WriteFile(outPath, decoded.Records); err != nil {
		return "", Stats{}, fmt.Errorf("backfill %s: %w", kind, err)
	}

	b.logger.Info("backfill finished",
		zap.String("dataset", kind.String()),
		zap.String("in", rawPath),
		zap.String("out", outPath),
		zap.Int("records", stats.Records),
		zap.Int("skipped_lines", stats.Skipped),
		zap.Int("fields_filled", stats.Filled),
	)
	return outPath, stats, nil
}

// titleIndex maps identifier to the first non-blank title seen, so a record
// missing its title can borrow one from another crawl of the same series.
func titleIndex(kind dataset.Kind, records []jsonl.Record) map[string]string {
	idx := make(map[string]string)
	for _, rec := range records {
		slug := recordSlug(kind, rec)
		title := stringField(rec, kind.TitleField())
		if slug == "" || title == "" {
			continue
		}
		if _, seen := idx[slug]; !seen {
			idx[slug] = title
		}
	}
	return idx
}

// fillRecord applies every derivation to one record in place and returns
// how many fields it filled.
func (b *Backfiller) fillRecord(kind dataset.Kind, rec jsonl.Record, titles map[string]string) int {
	filled := 0

	// Legacy key cleanup: series_slug was an early spelling of serie_slug.
	if _, ok := rec["serie_slug"]; !ok {
		if v, legacy := rec["series_slug"]; legacy {
			rec["serie_slug"] = v
		}
	}
	delete(rec, "series_slug")

	if stringField(rec, "serie_slug") == "" {
		if slug := slugFromURL(stringField(rec, kind.URLField())); slug != "" {
			rec["serie_slug"] = slug
			filled++
		}
	}

	// schema_version is harmonized unconditionally: historic variants like
	// "manganews:populaires:v1" collapse onto the canonical value.
	if stringField(rec, "schema_version") != kind.SchemaVersion() {
		rec["schema_version"] = kind.SchemaVersion()
		filled++
	}

	if stringField(rec, "scraped_at") == "" {
		rec["scraped_at"] = b.now().UTC().Format(time.RFC3339)
		filled++
	}

	if stringField(rec, "enrich_version") == "" {
		rec["enrich_version"] = kind.EnrichVersion()
		filled++
	}

	if _, ok := rec["volumes_count"]; !ok || rec["volumes_count"] == nil {
		if n, ok := parseFirstInt(stringField(rec, "volumes_text")); ok {
			rec["volumes_count"] = n
			filled++
		}
	}

	if kind == dataset.Series {
		if raw := stringField(rec, "status"); raw != "" {
			if normalized, ok := normalizeStatus(raw); ok && normalized != raw {
				rec["status"] = normalized
				filled++
			}
		}
	}

	if stringField(rec, kind.TitleField()) == "" {
		if slug := recordSlug(kind, rec); slug != "" {
			if title, ok := titles[slug]; ok {
				rec[kind.TitleField()] = title
				filled++
			}
		}
	}

	return filled
}

func recordSlug(kind dataset.Kind, rec jsonl.Record) string {
	if slug := stringField(rec, kind.IdentifierField()); slug != "" {
		return slug
	}
	return slugFromURL(stringField(rec, kind.URLField()))
}

func slugFromURL(url string) string {
	if url == "" {
		return ""
	}
	m := serieSlugRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

func parseFirstInt(s string) (int, bool) {
	m := firstIntRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func normalizeStatus(raw string) (string, bool) {
	key := strings.TrimSpace(strings.ToLower(raw))
	key = accentFolder.Replace(key)
	normalized, ok := statusAliases[key]
	return normalized, ok
}

func stringField(rec jsonl.Record, field string) string {
	v, ok := rec[field]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Package importer loads validated JSONL batches into the relational store.
// Rows land in a staging table tagged with a run id, are promoted into the
// production table by upsert, and stale staging rows are purged per dataset
// after a retention window.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/jsonl"
	"github.com/manganews/pipeline/internal/metrics"
)

const (
	stagingTable    = "manganews_staging"
	productionTable = "manganews_items"
)

// ErrImport marks any fatal import failure, connection errors included.
var ErrImport = errors.New("import failed")

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it in
// tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes record batches into Postgres.
type Store struct {
	db     DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore opens a pgx pool for dsn and verifies the connection.
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %w", ErrImport, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: connect postgres: %w", ErrImport, err)
	}
	return NewStoreWithDB(pool, logger), nil
}

// NewStoreWithDB constructs a Store from an existing connection, primarily
// for tests.
func NewStoreWithDB(db DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Batch is the resolved input of one import: the decoded records plus the
// malformed-line count the decode already paid.
type Batch struct {
	Records    []jsonl.Record
	SourceFile string
	Malformed  int
}

// LoadBatch reads a JSONL file into a Batch.
func LoadBatch(path string) (Batch, error) {
	decoded, err := jsonl.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrImport, err)
	}
	return Batch{
		Records:    decoded.Records,
		SourceFile: path,
		Malformed:  len(decoded.Malformed),
	}, nil
}

// ImportResult accounts for one import run.
type ImportResult struct {
	RunID        uuid.UUID
	RowsStaged   int64
	RowsPromoted int64
	RowsPurged   int64
	// RowsSkipped counts malformed lines and records without an identifier;
	// they never reach staging and are not part of RowsStaged.
	RowsSkipped int64
}

// Import stages the batch, promotes it into the production table, and purges
// staging rows of the same dataset older than keepDays.
//
// Staging and promotion share one transaction: either every staged row is
// promoted or nothing is. The purge runs in its own statement after the
// commit, so a purge failure cannot undo a successful promotion; it is
// logged and reported in the result, not returned as an error.
func (s *Store) Import(ctx context.Context, kind dataset.Kind, batch Batch, keepDays int) (ImportResult, error) {
	runID := uuid.New()
	loadedAt := s.now().UTC()
	result := ImportResult{RunID: runID, RowsSkipped: int64(batch.Malformed)}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: begin tx: %w", ErrImport, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for i, rec := range batch.Records {
		row, ok := newStagingRow(kind, rec)
		if !ok {
			result.RowsSkipped++
			s.logger.Warn("skipping row without identifier",
				zap.String("dataset", kind.String()),
				zap.String("file", batch.SourceFile),
				zap.Int("record_index", i),
			)
			continue
		}
		if _, err := tx.Exec(ctx, insertStagingSQL,
			kind.String(), row.SourceID, row.Title, row.URL, row.Payload,
			row.ScrapedAt, runID, loadedAt, batch.SourceFile,
		); err != nil {
			return result, fmt.Errorf("%w: stage row %d: %w", ErrImport, i, err)
		}
		result.RowsStaged++
	}

	tag, err := tx.Exec(ctx, promoteSQL, runID)
	if err != nil {
		return result, fmt.Errorf("%w: promote staging rows: %w", ErrImport, err)
	}
	result.RowsPromoted = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("%w: commit: %w", ErrImport, err)
	}

	cutoff := loadedAt.AddDate(0, 0, -keepDays)
	purgeTag, err := s.db.Exec(ctx, purgeSQL, kind.String(), cutoff)
	if err != nil {
		// Promotion is already committed; surface the purge failure without
		// failing the run.
		s.logger.Warn("retention purge failed",
			zap.String("dataset", kind.String()),
			zap.Error(err),
		)
	} else {
		result.RowsPurged = purgeTag.RowsAffected()
	}

	metrics.RowsImported(kind.String(), "staged", result.RowsStaged)
	metrics.RowsImported(kind.String(), "promoted", result.RowsPromoted)
	metrics.RowsImported(kind.String(), "purged", result.RowsPurged)
	metrics.RowsImported(kind.String(), "skipped", result.RowsSkipped)

	s.logger.Info("import finished",
		zap.String("dataset", kind.String()),
		zap.String("file", batch.SourceFile),
		zap.String("run_id", runID.String()),
		zap.Int64("rows_staged", result.RowsStaged),
		zap.Int64("rows_promoted", result.RowsPromoted),
		zap.Int64("rows_purged", result.RowsPurged),
		zap.Int64("rows_skipped", result.RowsSkipped),
	)
	return result, nil
}

const insertStagingSQL = `
INSERT INTO ` + stagingTable + ` (
	dataset, source_id, title, url, payload, scraped_at, run_id, loaded_at, source_file
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// promoteSQL upserts one run's staging rows into the production table.
// DISTINCT ON collapses duplicate identifiers that slipped past the gate
// (possible under --skip-gx); on conflict the incoming row wins only when
// its loaded_at is not older, so replays of old files cannot clobber
// fresher data.
const promoteSQL = `
INSERT INTO ` + productionTable + ` (dataset, source_id, title, url, payload, scraped_at, loaded_at)
SELECT DISTINCT ON (dataset, source_id)
	dataset, source_id, title, url, payload, scraped_at, loaded_at
FROM ` + stagingTable + `
WHERE run_id = $1
ORDER BY dataset, source_id, id DESC
ON CONFLICT (dataset, source_id) DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	payload = EXCLUDED.payload,
	scraped_at = EXCLUDED.scraped_at,
	loaded_at = EXCLUDED.loaded_at
WHERE EXCLUDED.loaded_at >= ` + productionTable + `.loaded_at`

const purgeSQL = `
DELETE FROM ` + stagingTable + `
WHERE dataset = $1 AND loaded_at < $2`

type stagingRow struct {
	SourceID  string
	Title     *string
	URL       *string
	Payload   []byte
	ScrapedAt *time.Time
}

// newStagingRow projects a record onto the staging columns. Records without
// a non-blank identifier cannot be keyed and are rejected.
func newStagingRow(kind dataset.Kind, rec jsonl.Record) (stagingRow, bool) {
	id := textField(rec, kind.IdentifierField())
	if id == nil {
		return stagingRow{}, false
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return stagingRow{}, false
	}
	row := stagingRow{
		SourceID: *id,
		Title:    textField(rec, kind.TitleField()),
		URL:      textField(rec, kind.URLField()),
		Payload:  payload,
	}
	if ts := textField(rec, "scraped_at"); ts != nil {
		if parsed, err := time.Parse(time.RFC3339, *ts); err == nil {
			utc := parsed.UTC()
			row.ScrapedAt = &utc
		}
	}
	return row, true
}

func textField(rec jsonl.Record, field string) *string {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

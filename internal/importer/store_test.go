package importer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/jsonl"
)

var loadedAt = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := NewStoreWithDB(mock, zap.NewNop())
	store.now = func() time.Time { return loadedAt }
	return store, mock
}

func popRecord(slug string, rank int) jsonl.Record {
	return jsonl.Record{
		"serie_url":        "https://www.manga-news.com/index.php/serie/" + slug,
		"title":            slug,
		"serie_slug":       slug,
		"category":         "Top Mangas",
		"rank_in_category": float64(rank),
		"scraped_at":       "2026-08-27T09:00:00Z",
	}
}

func expectStagingInsert(t *testing.T, mock pgxmock.PgxPoolIface, kind dataset.Kind, rec jsonl.Record, sourceFile string) {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	scrapedAt := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	title := rec[kind.TitleField()].(string)
	url := rec[kind.URLField()].(string)
	mock.ExpectExec("INSERT INTO manganews_staging").
		WithArgs(
			kind.String(),
			rec["serie_slug"].(string),
			&title,
			&url,
			payload,
			&scrapedAt,
			pgxmock.AnyArg(), // run id
			loadedAt,
			sourceFile,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestImportStagesPromotesAndPurges(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	records := []jsonl.Record{popRecord("Kingdom", 1), popRecord("Berserk", 2)}
	batch := Batch{Records: records, SourceFile: "populaires.backfilled.jsonl"}

	mock.ExpectBegin()
	expectStagingInsert(t, mock, dataset.Populaires, records[0], batch.SourceFile)
	expectStagingInsert(t, mock, dataset.Populaires, records[1], batch.SourceFile)
	mock.ExpectExec(`ON CONFLICT \(dataset, source_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectExec("DELETE FROM manganews_staging").
		WithArgs(dataset.Populaires.String(), loadedAt.AddDate(0, 0, -30)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	result, err := store.Import(context.Background(), dataset.Populaires, batch, 30)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.RowsStaged)
	require.Equal(t, int64(2), result.RowsPromoted)
	require.Equal(t, int64(0), result.RowsPurged)
	require.Equal(t, int64(0), result.RowsSkipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSkipsRowsWithoutIdentifier(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	good := popRecord("Kingdom", 1)
	bad := jsonl.Record{"title": "no slug here"}
	batch := Batch{
		Records:    []jsonl.Record{good, bad},
		SourceFile: "populaires.backfilled.jsonl",
		Malformed:  1,
	}

	mock.ExpectBegin()
	expectStagingInsert(t, mock, dataset.Populaires, good, batch.SourceFile)
	mock.ExpectExec("INSERT INTO manganews_items").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("DELETE FROM manganews_staging").
		WithArgs(dataset.Populaires.String(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	result, err := store.Import(context.Background(), dataset.Populaires, batch, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.RowsStaged)
	// One malformed line plus one identifier-less record.
	require.Equal(t, int64(2), result.RowsSkipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportPurgeScopedToDatasetAndWindow(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	batch := Batch{Records: []jsonl.Record{popRecord("Kingdom", 1)}, SourceFile: "f.jsonl"}

	mock.ExpectBegin()
	expectStagingInsert(t, mock, dataset.Populaires, batch.Records[0], batch.SourceFile)
	mock.ExpectExec("INSERT INTO manganews_items").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("DELETE FROM manganews_staging").
		WithArgs(dataset.Populaires.String(), loadedAt.AddDate(0, 0, -7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	result, err := store.Import(context.Background(), dataset.Populaires, batch, 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.RowsPurged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportPurgeFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	batch := Batch{Records: []jsonl.Record{popRecord("Kingdom", 1)}, SourceFile: "f.jsonl"}

	mock.ExpectBegin()
	expectStagingInsert(t, mock, dataset.Populaires, batch.Records[0], batch.SourceFile)
	mock.ExpectExec("INSERT INTO manganews_items").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("DELETE FROM manganews_staging").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("lock timeout"))

	result, err := store.Import(context.Background(), dataset.Populaires, batch, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.RowsPromoted)
	require.Equal(t, int64(0), result.RowsPurged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportStagingFailureIsFatal(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	batch := Batch{Records: []jsonl.Record{popRecord("Kingdom", 1)}, SourceFile: "f.jsonl"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO manganews_staging").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Import(context.Background(), dataset.Populaires, batch, 30)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrImport)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotionKeepsLaterLoad(t *testing.T) {
	t.Parallel()

	// The upsert itself runs in Postgres; what the store guarantees is the
	// conflict clause it ships: keyed on (dataset, source_id) with the
	// incoming row winning only when its loaded_at is not older.
	require.Contains(t, promoteSQL, "ON CONFLICT (dataset, source_id) DO UPDATE")
	require.Contains(t, promoteSQL, "EXCLUDED.loaded_at >= "+productionTable+".loaded_at")
	require.Contains(t, promoteSQL, "DISTINCT ON (dataset, source_id)")
}

func TestLoadBatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "populaires.jsonl")
	require.NoError(t, jsonl.WriteFile(path, []jsonl.Record{popRecord("Kingdom", 1)}))

	batch, err := LoadBatch(path)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	require.Equal(t, path, batch.SourceFile)
	require.Zero(t, batch.Malformed)

	_, err = LoadBatch(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrImport)
}

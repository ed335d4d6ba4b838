package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/backfill"
	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/importer"
	"github.com/manganews/pipeline/internal/jsonl"
	"github.com/manganews/pipeline/internal/validate"
)

type fakeStore struct {
	imports map[dataset.Kind]importer.Batch
	err     error
	closed  bool
}

func (f *fakeStore) Import(_ context.Context, kind dataset.Kind, batch importer.Batch, _ int) (importer.ImportResult, error) {
	if f.err != nil {
		return importer.ImportResult{}, f.err
	}
	if f.imports == nil {
		f.imports = make(map[dataset.Kind]importer.Batch)
	}
	f.imports[kind] = batch
	return importer.ImportResult{RowsStaged: int64(len(batch.Records))}, nil
}

func (f *fakeStore) Close() { f.closed = true }

func newTestPipeline(t *testing.T, store *fakeStore) (*Pipeline, dataset.Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := dataset.Paths{
		EnrichedDir: filepath.Join(dir, "enriched"),
		ReportDir:   filepath.Join(dir, "reports"),
	}
	logger := zap.NewNop()
	backfiller := backfill.New(logger)
	validator := validate.NewRunner(paths, logger)
	factory := func(context.Context, string) (ImportStore, error) {
		if store == nil {
			return nil, errors.New("store factory should not be called")
		}
		return store, nil
	}
	return New(paths, backfiller, validator, factory, logger), paths
}

func validSeriesRecord(slug string) jsonl.Record {
	return jsonl.Record{
		"url":            "https://www.manga-news.com/index.php/serie/" + slug,
		"title_page":     slug,
		"serie_slug":     slug,
		"status":         "ongoing",
		"schema_version": "manganews.series.v1",
		"enrich_version": "enrich_jsonl.v1",
		"scraped_at":     time.Now().UTC().Format(time.RFC3339),
	}
}

func validPopulairesRecord(slug string, rank int) jsonl.Record {
	return jsonl.Record{
		"serie_url":        "https://www.manga-news.com/index.php/serie/" + slug,
		"title":            slug,
		"serie_slug":       slug,
		"category":         "Top Mangas",
		"rank_in_category": float64(rank),
		"schema_version":   "manganews.populaires.v1",
		"scraped_at":       time.Now().UTC().Format(time.RFC3339),
	}
}

func writeRawFiles(t *testing.T, paths dataset.Paths, series, populaires []jsonl.Record) {
	t.Helper()
	require.NoError(t, jsonl.WriteFile(paths.Raw(dataset.Series), series))
	require.NoError(t, jsonl.WriteFile(paths.Raw(dataset.Populaires), populaires))
}

func TestRunImportsBothDatasets(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	p, paths := newTestPipeline(t, store)
	writeRawFiles(t, paths,
		[]jsonl.Record{validSeriesRecord("Kingdom"), validSeriesRecord("Berserk")},
		[]jsonl.Record{validPopulairesRecord("Kingdom", 1)},
	)

	state, err := p.Run(context.Background(), Options{KeepDays: 30})
	require.NoError(t, err)
	require.Equal(t, StateDone, state)
	require.True(t, store.closed)
	require.Len(t, store.imports, 2)
	require.Len(t, store.imports[dataset.Series].Records, 2)
	require.Len(t, store.imports[dataset.Populaires].Records, 1)

	// The import consumed the backfilled files, not the raw ones.
	require.Equal(t, paths.Backfilled(dataset.Series), store.imports[dataset.Series].SourceFile)
}

func TestRunStopsAtGateAndNeverOpensStore(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bad := validSeriesRecord("Kingdom")
	delete(bad, "status")
	p, paths := newTestPipeline(t, store)
	writeRawFiles(t, paths,
		[]jsonl.Record{bad},
		[]jsonl.Record{validPopulairesRecord("Kingdom", 1)},
	)

	state, err := p.Run(context.Background(), Options{KeepDays: 30})
	require.Equal(t, StateFailed, state)
	require.Error(t, err)

	var gateErr *validate.GateError
	require.ErrorAs(t, err, &gateErr)
	require.Len(t, gateErr.Reports, 1)
	require.Equal(t, "series", gateErr.Reports[0].Dataset)
	require.Empty(t, store.imports)
	require.False(t, store.closed)
}

func TestRunSkipImportStopsAfterValidation(t *testing.T) {
	t.Parallel()

	p, paths := newTestPipeline(t, nil)
	writeRawFiles(t, paths,
		[]jsonl.Record{validSeriesRecord("Kingdom")},
		[]jsonl.Record{validPopulairesRecord("Kingdom", 1)},
	)

	state, err := p.Run(context.Background(), Options{SkipImport: true})
	require.NoError(t, err)
	require.Equal(t, StateValidated, state)
}

func TestRunNoBackfillValidatesRawFiles(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	p, paths := newTestPipeline(t, store)
	// Raw files already carry everything backfill would add.
	writeRawFiles(t, paths,
		[]jsonl.Record{validSeriesRecord("Kingdom")},
		[]jsonl.Record{validPopulairesRecord("Kingdom", 1)},
	)

	state, err := p.Run(context.Background(), Options{NoBackfill: true, KeepDays: 30})
	require.NoError(t, err)
	require.Equal(t, StateDone, state)
	require.Equal(t, paths.Raw(dataset.Series), store.imports[dataset.Series].SourceFile)
}

func TestRunMissingRawFileFailsBackfillStage(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, &fakeStore{})
	state, err := p.Run(context.Background(), Options{})
	require.Equal(t, StateFailed, state)
	require.ErrorContains(t, err, "backfill stage")
}

func TestRunImportErrorSurfaces(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: importer.ErrImport}
	p, paths := newTestPipeline(t, store)
	writeRawFiles(t, paths,
		[]jsonl.Record{validSeriesRecord("Kingdom")},
		[]jsonl.Record{validPopulairesRecord("Kingdom", 1)},
	)

	state, err := p.Run(context.Background(), Options{KeepDays: 30})
	require.Equal(t, StateFailed, state)
	require.ErrorIs(t, err, importer.ErrImport)
	require.True(t, store.closed)
}

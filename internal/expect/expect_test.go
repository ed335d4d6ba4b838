package expect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manganews/pipeline/internal/jsonl"
)

func TestColumnExists(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"url": "https://example.com"},
		{"title": "no url here"},
	}
	violations := ColumnExists("url").Apply(records)
	require.Len(t, violations, 1)
	require.Equal(t, 1, violations[0].RecordIndex)
	require.Equal(t, "url", violations[0].Field)
}

func TestNotBlank(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"title": "Kingdom"},
		{"title": "   "},
		{"title": nil},
		{},
	}
	violations := NotBlank("title").Apply(records)
	require.Len(t, violations, 3)
	require.Equal(t, []int{1, 2, 3}, indexesOf(violations))
}

func TestMatchRegexSkipsAbsentValues(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"url": "https://www.manga-news.com/index.php/serie/Kingdom"},
		{"url": "ftp://wrong"},
		{},
	}
	violations := MatchRegex("url", `^https?://`).Apply(records)
	require.Len(t, violations, 1)
	require.Equal(t, 1, violations[0].RecordIndex)
	require.Equal(t, "ftp://wrong", violations[0].Observed)
}

func TestInSet(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"status": "ongoing"},
		{"status": "cancelled"},
		{},
	}
	violations := InSet("status", "ongoing", "completed").Apply(records)
	require.Len(t, violations, 1)
	require.Equal(t, "cancelled", violations[0].Observed)
}

func TestBetween(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"rank_in_category": float64(1)},
		{"rank_in_category": float64(501)},
		{"rank_in_category": "12"},
		{"rank_in_category": "not a number"},
		{},
	}
	violations := Between("rank_in_category", 1, 500).Apply(records)
	require.Len(t, violations, 2)
	require.Equal(t, []int{1, 3}, indexesOf(violations))
}

func TestTimestampParseable(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"scraped_at": "2026-08-27T10:00:00Z"},
		{"scraped_at": "27/08/2026"},
	}
	violations := TimestampParseable("scraped_at").Apply(records)
	require.Len(t, violations, 1)
	require.Equal(t, 1, violations[0].RecordIndex)
}

func TestUniqueFlagsLaterDuplicates(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"url": "https://a"},
		{"url": "https://b"},
		{"url": "https://a"},
	}
	violations := Unique("url").Apply(records)
	require.Len(t, violations, 1)
	require.Equal(t, 2, violations[0].RecordIndex)
}

func TestCompoundUnique(t *testing.T) {
	t.Parallel()

	records := []jsonl.Record{
		{"category": "shonen", "rank_in_category": float64(1)},
		{"category": "seinen", "rank_in_category": float64(1)},
		{"category": "shonen", "rank_in_category": float64(1)},
		{"category": "shonen"}, // incomplete tuple, not checked
	}
	violations := CompoundUnique("category", "rank_in_category").Apply(records)
	require.Len(t, violations, 1)
	require.Equal(t, 2, violations[0].RecordIndex)
}

func TestSuiteRunOrdersByRecordIndex(t *testing.T) {
	t.Parallel()

	suite := Suite{
		Name: "test_suite",
		Expectations: []Expectation{
			NotBlank("title"),
			NotBlank("url"),
		},
	}
	records := []jsonl.Record{
		{"title": "ok", "url": ""},
		{"title": "", "url": ""},
	}
	violations := suite.Run(records)
	require.Len(t, violations, 3)
	require.Equal(t, []int{0, 1, 1}, indexesOf(violations))
	// Within a record, suite declaration order holds.
	require.Equal(t, "title", violations[1].Field)
	require.Equal(t, "url", violations[2].Field)
}

func TestSuiteRunCleanBatch(t *testing.T) {
	t.Parallel()

	suite := Suite{
		Name: "test_suite",
		Expectations: []Expectation{
			NotBlank("url"),
			MatchRegex("url", `^https?://`),
			Unique("url"),
		},
	}
	records := []jsonl.Record{
		{"url": "https://a"},
		{"url": "https://b"},
	}
	require.Empty(t, suite.Run(records))
}

func indexesOf(violations []Violation) []int {
	out := make([]int, len(violations))
	for i, v := range violations {
		out[i] = v.RecordIndex
	}
	return out
}

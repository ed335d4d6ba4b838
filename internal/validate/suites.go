package validate

import (
	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/expect"
)

// StatusValues is the closed set a normalized series status must fall in.
var StatusValues = []string{"ongoing", "completed", "paused", "abandoned", "one-shot"}

// SuiteFor binds a dataset kind to its expectation suite. This is the single
// dispatch point between dataset kinds and rule sets.
func SuiteFor(k dataset.Kind) expect.Suite {
	if k == dataset.Populaires {
		return populairesSuite()
	}
	return seriesSuite()
}

func seriesSuite() expect.Suite {
	return expect.Suite{
		Name: "manganews_series_suite",
		Expectations: []expect.Expectation{
			expect.NotBlank("url"),
			expect.MatchRegex("url", `^https?://`),
			expect.Unique("url"),
			expect.NotBlank("title_page"),
			expect.NotBlank("serie_slug"),
			expect.NotBlank("status"),
			expect.InSet("status", StatusValues...),
			expect.InSet("schema_version", dataset.Series.SchemaVersion()),
			expect.InSet("enrich_version", "enrich_jsonl.v1", "enrich_item:v2"),
			expect.NotBlank("scraped_at"),
			expect.TimestampParseable("scraped_at"),
			expect.Between("volumes_count", 0, 500),
			expect.Between("chapters_count", 0, 5000),
		},
	}
}

func populairesSuite() expect.Suite {
	return expect.Suite{
		Name: "populaires_suite",
		Expectations: []expect.Expectation{
			expect.NotBlank("serie_url"),
			expect.MatchRegex("serie_url", `^https?://`),
			expect.Unique("serie_url"),
			expect.NotBlank("title"),
			expect.NotBlank("serie_slug"),
			expect.NotBlank("category"),
			expect.NotBlank("rank_in_category"),
			expect.Between("rank_in_category", 1, 500),
			expect.CompoundUnique("category", "rank_in_category"),
			expect.Between("volumes_count", 0, 500),
			expect.InSet("schema_version", dataset.Populaires.SchemaVersion()),
			expect.NotBlank("scraped_at"),
			expect.TimestampParseable("scraped_at"),
		},
	}
}

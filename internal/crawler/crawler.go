// Package crawler fetches the manga-news site with Colly and emits raw
// records for both datasets. The series crawl walks the alphabetical hub,
// the letter listings and their pagination down to the detail pages; the
// populaires crawl reads the single ranking page. Everything downstream of
// the emitted JSONL (backfill, validation, import) never touches the
// network.
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/jsonl"
	"github.com/manganews/pipeline/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	// BaseURL is the site root, e.g. https://www.manga-news.com.
	BaseURL   string
	UserAgent string
	Delay     time.Duration
	// MaxSeries bounds how many detail pages a series crawl visits.
	// Zero means no bound.
	MaxSeries     int
	RespectRobots bool
}

// Crawler drives the Colly collectors for both datasets.
type Crawler struct {
	cfg    Config
	host   string
	logger *zap.Logger
	now    func() time.Time
}

// New validates cfg and builds a Crawler.
func New(cfg Config, logger *zap.Logger) (*Crawler, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	return &Crawler{
		cfg:    cfg,
		host:   u.Hostname(),
		logger: logger,
		now:    time.Now,
	}, nil
}

var (
	alphaPageRe    = regexp.MustCompile(`/index\.php/series(?:/[A-Z])?/?$`)
	seriesDetailRe = regexp.MustCompile(`/index\.php/serie/[^/?#]+/?$`)
	serieSlugRe    = regexp.MustCompile(`/serie/([^/?#]+)`)
	firstIntRe     = regexp.MustCompile(`\d+`)
	colonPrefixRe  = regexp.MustCompile(`^\s*:\s*`)
	spacesRe       = regexp.MustCompile(`\s+`)
)

func (c *Crawler) newCollector() *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowedDomains(c.host),
		colly.UserAgent(c.cfg.UserAgent),
	)
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	if c.cfg.Delay > 0 {
		//nolint:errcheck // glob rule cannot fail
		collector.Limit(&colly.LimitRule{DomainGlob: "*", Delay: c.cfg.Delay})
	}
	return collector
}

func (c *Crawler) abortOnCancel(ctx context.Context, collector *colly.Collector) {
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("fetch failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status", r.StatusCode),
			zap.Error(err),
		)
	})
}

// CrawlSeries walks the series hub and returns one raw record per detail
// page visited.
func (c *Crawler) CrawlSeries(ctx context.Context) ([]jsonl.Record, error) {
	collector := c.newCollector()
	c.abortOnCancel(ctx, collector)

	var records []jsonl.Record
	visited := 0

	// Hub page: letter links under ul.alphaLink.
	collector.OnHTML("ul.alphaLink a[href]", func(e *colly.HTMLElement) {
		target := e.Request.AbsoluteURL(e.Attr("href"))
		if alphaPageRe.MatchString(target) {
			e.Request.Visit(target) //nolint:errcheck // dedupe/abort errors expected
		}
	})

	// Listing pages: detail links plus pagination.
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		target := e.Request.AbsoluteURL(e.Attr("href"))
		if !seriesDetailRe.MatchString(target) {
			return
		}
		if c.cfg.MaxSeries > 0 && visited >= c.cfg.MaxSeries {
			return
		}
		visited++
		e.Request.Visit(target) //nolint:errcheck // dedupe/abort errors expected
	})
	collector.OnHTML("a[rel='next']", func(e *colly.HTMLElement) {
		e.Request.Visit(e.Request.AbsoluteURL(e.Attr("href"))) //nolint:errcheck
	})

	// Detail pages.
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		pageURL := e.Request.URL.String()
		if !seriesDetailRe.MatchString(pageURL) {
			return
		}
		metrics.PageFetched(dataset.Series.String())
		records = append(records, c.seriesRecord(e, pageURL))
		metrics.RecordEmitted(dataset.Series.String())
	})

	start := c.cfg.BaseURL + "/index.php/series/?public="
	if err := collector.Visit(start); err != nil {
		return nil, fmt.Errorf("visit series hub: %w", err)
	}
	collector.Wait()
	if err := ctx.Err(); err != nil {
		return records, fmt.Errorf("series crawl: %w", err)
	}
	c.logger.Info("series crawl finished", zap.Int("records", len(records)))
	return records, nil
}

func (c *Crawler) seriesRecord(e *colly.HTMLElement, pageURL string) jsonl.Record {
	rec := jsonl.Record{
		"source":     "manga_news",
		"url":        pageURL,
		"title_page": cleanText(e.ChildText("h1")),
		"scraped_at": c.now().UTC().Format(time.RFC3339),
	}
	setIfPresent(rec, "titre_vo", cleanColonPrefix(e.ChildText("ul.entryInfos li.title-vo span.entry-data-wrapper")))
	setIfPresent(rec, "titre_traduit", cleanColonPrefix(e.ChildText("ul.entryInfos li.trad span.entry-data-wrapper")))
	setIfPresent(rec, "dessin", cleanText(e.ChildText("ul.entryInfos li.book-by a")))
	setIfPresent(rec, "scenario", cleanText(e.ChildText("ul.entryInfos li.book-by2 a")))
	setIfPresent(rec, "editeur_vf", cleanText(e.ChildText("ul.entryInfos li.book-edit-vf a")))
	setIfPresent(rec, "editeur_vo", cleanText(e.ChildText("ul.entryInfos li.book-edit-vo a")))
	setIfPresent(rec, "type", cleanText(e.ChildText("ul.entryInfos li.book-type a")))
	setIfPresent(rec, "origine", cleanColonPrefix(e.ChildText("ul.entryInfos li.book-origin")))
	setIfPresent(rec, "status", cleanColonPrefix(e.ChildText("ul.entryInfos li.book-status")))
	setIfPresent(rec, "resume", cleanText(e.ChildText("#product-resume div.bigsize")))

	if genres := e.ChildTexts("ul.entryInfos li.book-genre a"); len(genres) > 0 {
		cleaned := make([]string, 0, len(genres))
		for _, g := range genres {
			if g = cleanText(g); g != "" {
				cleaned = append(cleaned, g)
			}
		}
		rec["genres"] = cleaned
	}

	if vols := cleanText(e.ChildText("ul.entryInfos li.book-vol")); vols != "" {
		rec["volumes_text"] = vols
		if m := firstIntRe.FindString(vols); m != "" {
			rec["volumes_count"] = atoiLoose(m)
		}
	}
	return rec
}

// CrawlPopulaires reads the ranking page and returns one record per ranked
// entry.
func (c *Crawler) CrawlPopulaires(ctx context.Context) ([]jsonl.Record, error) {
	collector := c.newCollector()
	c.abortOnCancel(ctx, collector)

	var records []jsonl.Record

	collector.OnHTML(`#best-blocks .boxed.entries[id^="best-block-"]`, func(block *colly.HTMLElement) {
		metrics.PageFetched(dataset.Populaires.String())
		category := cleanText(block.ChildText("h3"))
		rank := 0
		block.ForEach(".section-list .section-list-item", func(_ int, it *colly.HTMLElement) {
			rank++
			serieURL := it.Request.AbsoluteURL(it.ChildAttr("a.section-list-item-img", "href"))
			title := cleanText(it.ChildAttr("a.section-list-item-img", "title"))
			if title == "" {
				title = cleanText(it.ChildText(".section-list-item-title"))
			}
			rec := jsonl.Record{
				"source":           "manga_news",
				"collection":       "populaires",
				"rank_in_category": rank,
				"scraped_at":       c.now().UTC().Format(time.RFC3339),
			}
			setIfPresent(rec, "category", category)
			setIfPresent(rec, "title", title)
			setIfPresent(rec, "serie_url", serieURL)
			if m := serieSlugRe.FindStringSubmatch(serieURL); m != nil {
				rec["serie_slug"] = m[1]
			}
			if img := it.Request.AbsoluteURL(it.ChildAttr("img.entryPicture", "src")); img != "" {
				rec["image_url"] = img
			}
			if vols := cleanText(it.ChildText("span.catIcon")); vols != "" {
				rec["volumes_text"] = vols
				if m := firstIntRe.FindString(vols); m != "" {
					rec["volumes_count"] = atoiLoose(m)
				}
			}
			records = append(records, rec)
			metrics.RecordEmitted(dataset.Populaires.String())
		})
	})

	start := c.cfg.BaseURL + "/index.php/manga-populaires"
	if err := collector.Visit(start); err != nil {
		return nil, fmt.Errorf("visit populaires page: %w", err)
	}
	collector.Wait()
	if err := ctx.Err(); err != nil {
		return records, fmt.Errorf("populaires crawl: %w", err)
	}
	c.logger.Info("populaires crawl finished", zap.Int("records", len(records)))
	return records, nil
}

func setIfPresent(rec jsonl.Record, field, value string) {
	if value != "" {
		rec[field] = value
	}
}

func cleanText(s string) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

func cleanColonPrefix(s string) string {
	return cleanText(colonPrefixRe.ReplaceAllString(cleanText(s), ""))
}

func atoiLoose(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

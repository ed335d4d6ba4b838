package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manganews/pipeline/internal/crawler"
	"github.com/manganews/pipeline/internal/dataset"
	"github.com/manganews/pipeline/internal/jsonl"
	"github.com/manganews/pipeline/internal/metrics"
)

// newCrawlCmd creates the 'crawl' subcommand producing the raw JSONL files.
func newCrawlCmd() *cobra.Command {
	var (
		datasetFlag   string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl manga-news and write raw JSONL files",
		Long: `Crawls the manga-news series catalogue and the popularity ranking page
with Colly and writes one raw JSONL file per dataset into the enriched data
directory. The files feed the backfill and validation stages.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			kinds := dataset.All()
			if datasetFlag != "" {
				kind, err := dataset.Parse(datasetFlag)
				if err != nil {
					return err
				}
				kinds = []dataset.Kind{kind}
			}

			listen := metricsListen
			if listen == "" {
				listen = a.cfg.Crawler.MetricsListen
			}
			if listen != "" {
				srv := metrics.NewServer(listen)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Warn("metrics server stopped", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx) //nolint:errcheck // best-effort
				}()
				a.logger.Info("metrics listening", zap.String("addr", listen))
			}

			c, err := crawler.New(crawler.Config{
				BaseURL:       a.cfg.Crawler.BaseURL,
				UserAgent:     a.cfg.Crawler.UserAgent,
				Delay:         a.cfg.CrawlDelay(),
				MaxSeries:     a.cfg.Crawler.MaxSeries,
				RespectRobots: a.cfg.Crawler.RespectRobots,
			}, a.logger)
			if err != nil {
				return fmt.Errorf("init crawler: %w", err)
			}

			paths := a.paths()
			for _, kind := range kinds {
				var records []jsonl.Record
				switch kind {
				case dataset.Populaires:
					records, err = c.CrawlPopulaires(cmd.Context())
				default:
					records, err = c.CrawlSeries(cmd.Context())
				}
				if err != nil {
					return fmt.Errorf("crawl %s: %w", kind, err)
				}
				out := paths.Raw(kind)
				if err := jsonl.WriteFile(out, records); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				a.logger.Info("crawl output written",
					zap.String("dataset", kind.String()),
					zap.String("file", out),
					zap.Int("records", len(records)),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetFlag, "dataset", "", "crawl a single dataset: series or populaires (default: both)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address serving /metrics while the crawl runs")

	return cmd
}

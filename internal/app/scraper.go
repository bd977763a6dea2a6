package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/georgenavi/esimdb-scraper/internal/config"
	"github.com/georgenavi/esimdb-scraper/internal/crawler"
	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/logger"
	"github.com/georgenavi/esimdb-scraper/internal/metrics"
	"github.com/georgenavi/esimdb-scraper/internal/normalizer"
	"github.com/georgenavi/esimdb-scraper/internal/storage"
	"github.com/georgenavi/esimdb-scraper/internal/writer"
	"github.com/georgenavi/esimdb-scraper/pkg/esimdb"
	"github.com/georgenavi/esimdb-scraper/pkg/httpclient"
	"github.com/georgenavi/esimdb-scraper/pkg/publishers"
)

const runDateLayout = "20060102"

// Scraper is the single-run catalog scraper. It lists countries, fans them out over the
// crawler pool and reports the run through the ledger, publishers and metrics textfile.
type Scraper struct {
	cfg        *config.Config
	runID      string
	runDate    time.Time
	runDir     string
	catalog    *esimdb.Client
	normalizer *normalizer.Normalizer
	writer     *writer.ParquetWriter
	service    *crawler.Service
	fanout     *publishers.Fanout
	store      storage.Store
	metrics    *metrics.Metrics
	log        logger.Logger
}

// NewScraper prepares the run directory and every collaborator of one run.
func NewScraper(ctx context.Context, cfg *config.Config, log logger.Logger) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	s := &Scraper{
		cfg:     cfg,
		runID:   uuid.NewString(),
		runDate: time.Now().UTC().Truncate(24 * time.Hour),
		metrics: metrics.New(),
		log:     log,
	}

	runDir, err := writer.EnsureRunDir(cfg.OutputDir, s.runDate)
	if err != nil {
		return nil, err
	}
	s.runDir = runDir
	log.InfoObj("run directory ready", "run_meta", map[string]any{
		"run_id":   s.runID,
		"run_date": s.runDate.Format(runDateLayout),
		"dir":      runDir,
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.fanout = fanout

	storeOpts := storage.Options{
		OutcomeTTL:      cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
		Logger:          log,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	s.store = store
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"outcome_ttl_seconds":      int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	s.catalog = s.newAPIClient()
	s.normalizer = normalizer.New(log, s.metrics)
	s.writer = writer.NewParquetWriter(runDir, log)

	var pub crawler.EventPublisher
	if fanout.Size() > 0 {
		pub = fanout
	}
	s.service = crawler.NewService(crawler.Options{
		Workers:     cfg.MaxWorkers,
		NewPipeline: s.newPipeline,
		Recorder:    store,
		Publisher:   pub,
		Metrics:     s.metrics,
		Logger:      log,
		RunID:       s.runID,
		RunDate:     s.runDate,
	})
	return s, nil
}

// buildFanout loads the optional publishers file. No file means no publishers.
func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if cfg.PublishersFile == "" {
		return publishers.NewFanout(nil), nil
	}
	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}

	enabledPublishers := publisherReg.Enabled()
	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	publisherSummaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		publisherSummaries = append(publisherSummaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(publisherSummaries),
		"publishers": publisherSummaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// newAPIClient builds a client with its own HTTP session.
func (s *Scraper) newAPIClient() *esimdb.Client {
	transport := httpclient.NewRestyClient(httpclient.Options{
		Timeout:   s.cfg.HTTPTimeout,
		UserAgent: s.cfg.UserAgent,
	})
	fetcher := esimdb.NewFetcher(transport, esimdb.FetcherOptions{
		Attempts:  s.cfg.RetryAttempts,
		BaseDelay: s.cfg.RetryBaseDelay,
		Logger:    s.log,
		Metrics:   s.metrics,
	})
	return esimdb.NewClient(fetcher, esimdb.ClientOptions{
		BaseURL:   s.cfg.BaseURL,
		PageDelay: s.cfg.PageDelay,
		Logger:    s.log,
		Metrics:   s.metrics,
	})
}

// newPipeline is the per-worker factory handed to the crawler pool.
func (s *Scraper) newPipeline() (crawler.Pipeline, error) {
	return crawler.NewCountryPipeline(s.newAPIClient(), s.normalizer, s.writer, s.cfg.Locale, s.runDate), nil
}

// RunDir returns the directory this run writes into.
func (s *Scraper) RunDir() string { return s.runDir }

// Run executes one scrape. Only a catalog failure is returned as an error; per-country
// failures are reported in the summary.
func (s *Scraper) Run(ctx context.Context) (domain.RunSummary, error) {
	if s == nil || s.service == nil {
		return domain.RunSummary{}, fmt.Errorf("scraper is not initialized")
	}
	defer s.close()

	start := time.Now()
	summary := domain.RunSummary{RunID: s.runID, RunDate: s.runDate}

	countries, err := s.catalog.ListCountries(ctx, s.cfg.Locale)
	if err != nil {
		summary.Cancelled = ctx.Err() != nil
		return summary, fmt.Errorf("list countries: %w", err)
	}
	kept, missing := esimdb.FilterCountries(countries, s.cfg.CountrySlugs())
	if len(missing) > 0 {
		s.log.WarnObj("requested countries not in catalog", "countries_missing", map[string]any{
			"slugs": missing,
		})
	}
	s.log.InfoObj("countries found", "catalog_meta", map[string]any{
		"catalog":  len(countries),
		"selected": len(kept),
	})

	summary = s.service.Run(ctx, kept)
	s.log.InfoObj("run completed", "run_summary", map[string]any{
		"run_id":        summary.RunID,
		"attempted":     summary.Attempted,
		"succeeded":     summary.Succeeded,
		"failed":        summary.Failed,
		"skipped":       summary.Skipped,
		"total_records": summary.TotalRecords,
		"cancelled":     summary.Cancelled,
		"output_dir":    s.runDir,
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})

	s.publishRun(context.WithoutCancel(ctx), summary)
	if err := s.metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
		s.log.WarnObj("metrics textfile not written", "metrics_error", map[string]any{
			"path":  s.cfg.MetricsFile,
			"error": err.Error(),
		})
	}
	return summary, nil
}

func (s *Scraper) publishRun(ctx context.Context, summary domain.RunSummary) {
	if s.fanout.Size() == 0 {
		return
	}
	delivered, err := s.fanout.Publish(ctx, publishers.NewRunEvent(s.runDate.Format(runDateLayout), summary))
	if err != nil {
		s.log.WarnObj("run event publish failed", "publish_error", map[string]any{
			"delivered": delivered,
			"error":     err.Error(),
		})
	}
}

// close releases the store and publisher connections, logging any errors encountered.
func (s *Scraper) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if err := s.fanout.Close(); err != nil {
		s.log.ErrorObj("publisher close failed", "error", err)
	}
}

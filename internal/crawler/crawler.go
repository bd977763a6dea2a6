package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/logger"
	"github.com/georgenavi/esimdb-scraper/internal/metrics"
	"github.com/georgenavi/esimdb-scraper/internal/storage"
	"github.com/georgenavi/esimdb-scraper/pkg/publishers"
)

// DefaultWorkers bounds the pool when no size is configured.
const DefaultWorkers = 5

// Options wires a Service.
type Options struct {
	Workers     int
	NewPipeline PipelineFactory
	Recorder    OutcomeRecorder
	Publisher   EventPublisher
	Metrics     *metrics.Metrics
	Logger      logger.Logger
	RunID       string
	RunDate     time.Time
}

// Service coordinates country pipelines across a bounded worker pool.
type Service struct {
	workers     int
	newPipeline PipelineFactory
	recorder    OutcomeRecorder
	publisher   EventPublisher
	metrics     *metrics.Metrics
	log         logger.Logger
	runID       string
	runDate     time.Time
}

// NewService wires a crawler with the per-worker pipeline factory.
func NewService(opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Service{
		workers:     opts.Workers,
		newPipeline: opts.NewPipeline,
		recorder:    opts.Recorder,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		log:         logger.Ensure(opts.Logger),
		runID:       opts.RunID,
		runDate:     opts.RunDate,
	}
}

// Run processes countries with min(workers, len(countries)) workers and returns once every
// dispatched unit has finished. After ctx is cancelled no further country is started; units
// already running complete normally and the rest are counted as skipped.
func (s *Service) Run(ctx context.Context, countries []domain.Country) domain.RunSummary {
	if s == nil {
		return domain.RunSummary{}
	}
	summary := domain.RunSummary{RunID: s.runID, RunDate: s.runDate}
	if len(countries) == 0 {
		return summary
	}

	poolSize := min(s.workers, len(countries))
	s.log.InfoObj("starting country pool", "pool_started", map[string]any{
		"countries": len(countries),
		"workers":   poolSize,
	})

	q := &queue{countries: countries}
	results := make(chan domain.EntityOutcome, len(countries))
	unitCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(poolSize)
	for w := 0; w < poolSize; w++ {
		g.Go(func() error {
			s.work(ctx, unitCtx, w, q, results)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for outcome := range results {
		s.handleOutcome(unitCtx, outcome)
		summary.Add(outcome)
	}

	summary.Skipped = q.remaining()
	summary.Cancelled = ctx.Err() != nil
	return summary
}

// work pulls countries while dispatchCtx is live and runs them on unitCtx.
func (s *Service) work(dispatchCtx, unitCtx context.Context, id int, q *queue, results chan<- domain.EntityOutcome) {
	pipeline, buildErr := s.buildPipeline()
	if buildErr != nil {
		s.log.ErrorObj("worker pipeline setup failed", "worker_error", map[string]any{
			"worker": id,
			"error":  buildErr.Error(),
		})
	}

	for {
		country, ok := q.next(dispatchCtx)
		if !ok {
			return
		}
		if buildErr != nil {
			results <- domain.EntityOutcome{Slug: country.Slug, Name: country.Name, Err: buildErr}
			continue
		}
		results <- s.runUnit(unitCtx, pipeline, country)
	}
}

func (s *Service) buildPipeline() (Pipeline, error) {
	if s.newPipeline == nil {
		return nil, fmt.Errorf("crawler service has no pipeline factory")
	}
	p, err := s.newPipeline()
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

// runUnit turns a panic inside the pipeline into a failed outcome.
func (s *Service) runUnit(ctx context.Context, p Pipeline, country domain.Country) (outcome domain.EntityOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.EntityOutcome{
				Slug:     country.Slug,
				Name:     country.Name,
				Err:      fmt.Errorf("pipeline panic: %v", r),
				Duration: time.Since(start),
			}
		}
	}()

	s.log.InfoObj("processing country", "country_started", map[string]any{
		"country": country.Name,
		"slug":    country.Slug,
	})
	outcome = p.Process(ctx, country)
	if outcome.Slug == "" {
		outcome.Slug = country.Slug
	}
	if outcome.Name == "" {
		outcome.Name = country.Name
	}
	if outcome.Err != nil {
		outcome.Success = false
	}
	return outcome
}

// handleOutcome records, publishes and logs one outcome. Side-channel failures are logged only.
func (s *Service) handleOutcome(ctx context.Context, o domain.EntityOutcome) {
	s.metrics.ObserveCountry(o.Success, o.RecordCount, o.Duration.Seconds())

	fields := map[string]any{
		"country":     o.Name,
		"slug":        o.Slug,
		"records":     o.RecordCount,
		"duration_ms": o.Duration.Milliseconds(),
	}
	if o.Success {
		s.log.InfoObj("country completed", "country_result", fields)
	} else {
		fields["error"] = o.ErrorString()
		s.log.ErrorObj("country failed", "country_result", fields)
	}

	runDate := s.runDate.Format("20060102")
	if s.recorder != nil {
		rec := storage.OutcomeRecord{
			RunID:       s.runID,
			RunDate:     runDate,
			Slug:        o.Slug,
			Name:        o.Name,
			Success:     o.Success,
			RecordCount: o.RecordCount,
			Artifact:    o.Artifact,
			Error:       o.ErrorString(),
			FinishedAt:  time.Now().UTC(),
		}
		if err := s.recorder.RecordOutcome(rec); err != nil {
			s.log.WarnObj("run ledger write failed", "ledger_error", map[string]any{
				"slug":  o.Slug,
				"error": err.Error(),
			})
		}
	}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, publishers.NewCountryEvent(s.runID, runDate, o)); err != nil {
			s.log.WarnObj("country event publish failed", "publish_error", map[string]any{
				"slug":  o.Slug,
				"error": err.Error(),
			})
		}
	}
}

// queue hands out countries in input order.
type queue struct {
	mu        sync.Mutex
	countries []domain.Country
	pos       int
}

// next returns the following country unless ctx is already cancelled or the queue is drained.
func (q *queue) next(ctx context.Context) (domain.Country, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ctx.Err() != nil || q.pos >= len(q.countries) {
		return domain.Country{}, false
	}
	c := q.countries[q.pos]
	q.pos++
	return c, true
}

func (q *queue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.countries) - q.pos
}

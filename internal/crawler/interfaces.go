package crawler

import (
	"context"
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/storage"
	"github.com/georgenavi/esimdb-scraper/pkg/publishers"
)

// Pipeline processes one country end to end and always reports an outcome.
type Pipeline interface {
	Process(ctx context.Context, country domain.Country) domain.EntityOutcome
}

// PipelineFactory builds the pipeline owned by a single worker, including its HTTP session.
type PipelineFactory func() (Pipeline, error)

// PlanCollector streams the unique raw plans of a country.
type PlanCollector interface {
	CollectPlans(ctx context.Context, slug, locale string, fn func(domain.RawPlan) error) error
}

// RecordNormalizer maps raw plans to output records.
type RecordNormalizer interface {
	Normalize(country domain.Country, raw domain.RawPlan) domain.NormalizedRecord
}

// RecordWriter persists the records of one country.
type RecordWriter interface {
	Write(country domain.Country, records []domain.NormalizedRecord, runDate time.Time) domain.EntityOutcome
}

// OutcomeRecorder keeps the run ledger.
type OutcomeRecorder interface {
	RecordOutcome(rec storage.OutcomeRecord) error
}

// EventPublisher publishes country and run events downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

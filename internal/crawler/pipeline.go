package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
)

// CountryPipeline collects, normalizes and writes the plans of one country.
type CountryPipeline struct {
	collector  PlanCollector
	normalizer RecordNormalizer
	writer     RecordWriter
	locale     string
	runDate    time.Time
}

// NewCountryPipeline wires the three stages of a country unit.
func NewCountryPipeline(c PlanCollector, n RecordNormalizer, w RecordWriter, locale string, runDate time.Time) *CountryPipeline {
	return &CountryPipeline{collector: c, normalizer: n, writer: w, locale: locale, runDate: runDate}
}

// Process never returns a partial file: a collection failure aborts before anything is written.
func (p *CountryPipeline) Process(ctx context.Context, country domain.Country) domain.EntityOutcome {
	start := time.Now()

	var records []domain.NormalizedRecord
	err := p.collector.CollectPlans(ctx, country.Slug, p.locale, func(raw domain.RawPlan) error {
		records = append(records, p.normalizer.Normalize(country, raw))
		return nil
	})
	if err != nil {
		return domain.EntityOutcome{
			Slug:     country.Slug,
			Name:     country.Name,
			Err:      fmt.Errorf("collect plans: %w", err),
			Duration: time.Since(start),
		}
	}

	outcome := p.writer.Write(country, records, p.runDate)
	outcome.Duration = time.Since(start)
	return outcome
}

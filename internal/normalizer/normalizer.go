package normalizer

import (
	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/logger"
	"github.com/georgenavi/esimdb-scraper/internal/metrics"
)

// Normalizer maps raw plan objects to NormalizedRecord. Each field is validated on its own;
// a bad field becomes nil (or "" for the plan name) and never affects the others.
type Normalizer struct {
	log     logger.Logger
	metrics *metrics.Metrics
}

// New returns a Normalizer that reports anomalies to log and m. Both may be nil.
func New(log logger.Logger, m *metrics.Metrics) *Normalizer {
	return &Normalizer{log: logger.Ensure(log), metrics: m}
}

// Normalize builds the canonical record for raw within country.
func (n *Normalizer) Normalize(country domain.Country, raw domain.RawPlan) domain.NormalizedRecord {
	fields := raw.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	price, priceNote, priceErr := parsePrice(fields)
	n.report(country, fields, priceErr)
	n.debug(country, FieldPrice, priceNote)

	data, dataNote, dataWarns := parseCapacity(fields)
	n.report(country, fields, dataWarns...)
	n.debug(country, FieldData, dataNote)

	validity, validityErr := parseValidity(fields)
	n.report(country, fields, validityErr)

	name, nameErr := parsePlanName(fields)
	n.report(country, fields, nameErr)

	return domain.NormalizedRecord{
		Country:      country.Name,
		Region:       country.Region,
		Provider:     raw.ProviderName,
		PlanName:     name,
		PriceUSD:     price,
		DataGB:       data,
		ValidityDays: validity,
	}
}

func (n *Normalizer) report(country domain.Country, fields map[string]any, errs ...*FieldValidationError) {
	for _, e := range errs {
		if e == nil {
			continue
		}
		n.metrics.IncFieldAnomaly(e.Field)
		n.log.WarnObj("plan field anomaly", "field_anomaly", map[string]any{
			"country": country.Name,
			"slug":    country.Slug,
			"plan_id": fields["id"],
			"field":   e.Field,
			"value":   e.Value,
			"reason":  e.Reason,
		})
	}
}

func (n *Normalizer) debug(country domain.Country, field string, msg note) {
	if msg == "" {
		return
	}
	n.log.DebugObj("plan field note", "field_note", map[string]any{
		"country": country.Name,
		"field":   field,
		"note":    string(msg),
	})
}

package domain

import "time"

// Domain contains the catalog models shared by the collector, normalizer, writer and orchestrator.

// SchemaVersion tags every persisted record.
const SchemaVersion = "1.0"

// Country is one catalog entity. Slug is the API identifier, Name the display name.
type Country struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// RawPlan is one provider-supplied plan object plus the provider name resolved from its page.
// Numeric values in Fields are json.Number.
type RawPlan struct {
	Fields       map[string]any
	ProviderName string
}

// NormalizedRecord is the canonical output row for one plan offer.
// Strings are never nil; the numeric fields are nil when the source value was missing or invalid.
type NormalizedRecord struct {
	Country      string   `json:"country"`
	Region       string   `json:"region"`
	Provider     string   `json:"provider"`
	PlanName     string   `json:"plan_name"`
	PriceUSD     *float64 `json:"price_usd"`
	DataGB       *float64 `json:"data_gb"`
	ValidityDays *int     `json:"validity_days"`
}

// EntityOutcome reports the result of one country pipeline.
type EntityOutcome struct {
	Slug        string
	Name        string
	Success     bool
	RecordCount int
	Artifact    string
	Err         error
	Duration    time.Duration
}

// ErrorString returns the outcome error message or "".
func (o EntityOutcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// RunSummary aggregates the outcomes of one run.
type RunSummary struct {
	RunID        string
	RunDate      time.Time
	Attempted    int
	Succeeded    int
	Failed       int
	Skipped      int
	TotalRecords int
	Cancelled    bool
	Outcomes     []EntityOutcome
}

// Add folds one outcome into the summary.
func (s *RunSummary) Add(o EntityOutcome) {
	s.Attempted++
	if o.Success {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.TotalRecords += o.RecordCount
	s.Outcomes = append(s.Outcomes, o)
}

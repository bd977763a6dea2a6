package publishers

import (
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
)

const (
	EventCountryCompleted = "country.completed"
	EventRunCompleted     = "run.completed"
)

// Event represents the payload published downstream.
type Event struct {
	Type        string         `json:"type"`
	RunID       string         `json:"run_id"`
	RunDate     string         `json:"run_date"`
	Country     *CountryResult `json:"country,omitempty"`
	Summary     *RunResult     `json:"summary,omitempty"`
	CollectedAt time.Time      `json:"collected_at"`
}

// CountryResult is the outcome of one country pipeline.
type CountryResult struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Success     bool   `json:"success"`
	RecordCount int    `json:"record_count"`
	Artifact    string `json:"artifact,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunResult carries the run-level counters.
type RunResult struct {
	Attempted    int  `json:"attempted"`
	Succeeded    int  `json:"succeeded"`
	Failed       int  `json:"failed"`
	Skipped      int  `json:"skipped"`
	TotalRecords int  `json:"total_records"`
	Cancelled    bool `json:"cancelled"`
}

// NewCountryEvent constructs the event emitted after a country finishes.
func NewCountryEvent(runID, runDate string, o domain.EntityOutcome) Event {
	return Event{
		Type:    EventCountryCompleted,
		RunID:   runID,
		RunDate: runDate,
		Country: &CountryResult{
			Slug:        o.Slug,
			Name:        o.Name,
			Success:     o.Success,
			RecordCount: o.RecordCount,
			Artifact:    o.Artifact,
			Error:       o.ErrorString(),
		},
		CollectedAt: time.Now().UTC(),
	}
}

// NewRunEvent constructs the event emitted once per run.
func NewRunEvent(runDate string, s domain.RunSummary) Event {
	return Event{
		Type:    EventRunCompleted,
		RunID:   s.RunID,
		RunDate: runDate,
		Summary: &RunResult{
			Attempted:    s.Attempted,
			Succeeded:    s.Succeeded,
			Failed:       s.Failed,
			Skipped:      s.Skipped,
			TotalRecords: s.TotalRecords,
			Cancelled:    s.Cancelled,
		},
		CollectedAt: time.Now().UTC(),
	}
}

// attributes returns the routing attributes shared by queue/topic publishers.
func (e Event) attributes() map[string]string {
	attrs := map[string]string{
		"event_type": e.Type,
		"run_id":     e.RunID,
	}
	if e.Country != nil {
		attrs["country"] = e.Country.Slug
	}
	return attrs
}

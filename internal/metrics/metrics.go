package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scraper counters on a dedicated registry. All methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts   prometheus.Counter
	fetchRetries    prometheus.Counter
	fetchFailures   *prometheus.CounterVec
	pagesFetched    prometheus.Counter
	plansCollected  prometheus.Counter
	duplicatePlans  prometheus.Counter
	fieldAnomalies  *prometheus.CounterVec
	countries       *prometheus.CounterVec
	recordsWritten  prometheus.Counter
	countryDuration prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esimdb_fetch_attempts_total",
			Help: "HTTP GET attempts issued against the catalog API.",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esimdb_fetch_retries_total",
			Help: "Attempts that failed and were scheduled for retry.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esimdb_fetch_failures_total",
			Help: "Requests that failed after exhausting retries, by error kind.",
		}, []string{"kind"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esimdb_pages_fetched_total",
			Help: "Data-plan pages fetched.",
		}),
		plansCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esimdb_plans_collected_total",
			Help: "Unique plans yielded by the paginated collector.",
		}),
		duplicatePlans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esimdb_duplicate_plans_total",
			Help: "Plans dropped because their id was already seen for the country.",
		}),
		fieldAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esimdb_field_anomalies_total",
			Help: "Plan fields that were nulled or defaulted during normalization.",
		}, []string{"field"}),
		countries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esimdb_countries_total",
			Help: "Country pipelines finished, by result.",
		}, []string{"result"}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esimdb_records_written_total",
			Help: "Normalized records persisted.",
		}),
		countryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "esimdb_country_duration_seconds",
			Help:    "Wall time of one country pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	reg.MustRegister(
		m.fetchAttempts,
		m.fetchRetries,
		m.fetchFailures,
		m.pagesFetched,
		m.plansCollected,
		m.duplicatePlans,
		m.fieldAnomalies,
		m.countries,
		m.recordsWritten,
		m.countryDuration,
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncFetchAttempt() {
	if m != nil {
		m.fetchAttempts.Inc()
	}
}

func (m *Metrics) IncFetchRetry() {
	if m != nil {
		m.fetchRetries.Inc()
	}
}

func (m *Metrics) IncFetchFailure(kind string) {
	if m != nil {
		m.fetchFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncPage() {
	if m != nil {
		m.pagesFetched.Inc()
	}
}

func (m *Metrics) IncPlan() {
	if m != nil {
		m.plansCollected.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.duplicatePlans.Inc()
	}
}

func (m *Metrics) IncFieldAnomaly(field string) {
	if m != nil {
		m.fieldAnomalies.WithLabelValues(field).Inc()
	}
}

// ObserveCountry records one finished country pipeline.
func (m *Metrics) ObserveCountry(success bool, records int, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.countries.WithLabelValues(result).Inc()
	m.recordsWritten.Add(float64(records))
	m.countryDuration.Observe(seconds)
}

// WriteTextfile writes the registry in the Prometheus text format, for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncFetchAttempt()
	m.IncFetchRetry()
	m.IncFetchFailure("permanent")
	m.IncPage()
	m.IncPlan()
	m.IncDuplicate()
	m.IncFieldAnomaly("price_usd")
	m.ObserveCountry(true, 3, 1)
	if err := m.WriteTextfile("ignored"); err != nil {
		t.Fatalf("nil WriteTextfile: %v", err)
	}
}

func TestCountersAndTextfile(t *testing.T) {
	m := New()
	m.IncFetchAttempt()
	m.IncFetchAttempt()
	m.IncFieldAnomaly("data_gb")
	m.ObserveCountry(true, 4, 0.5)
	m.ObserveCountry(false, 0, 0.1)

	if got := testutil.ToFloat64(m.fetchAttempts); got != 2 {
		t.Fatalf("fetch attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.countries.WithLabelValues("failure")); got != 1 {
		t.Fatalf("failed countries = %v", got)
	}
	if got := testutil.ToFloat64(m.recordsWritten); got != 4 {
		t.Fatalf("records written = %v", got)
	}

	path := filepath.Join(t.TempDir(), "nested", "scraper.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(raw), `esimdb_field_anomalies_total{field="data_gb"} 1`) {
		t.Fatalf("textfile missing anomaly counter:\n%s", raw)
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/georgenavi/esimdb-scraper/internal/config"
	"github.com/georgenavi/esimdb-scraper/internal/storage"
	"github.com/georgenavi/esimdb-scraper/internal/writer"
	"github.com/georgenavi/esimdb-scraper/pkg/esimdb"
	"github.com/georgenavi/esimdb-scraper/pkg/publishers"
)

func newCatalogServer(t *testing.T, countries string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/countries", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(countries))
	})
	mux.HandleFunc("/countries/france/data-plans", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"numberOfPages": 1,
			"plans": [{"id": 1, "capacity": 5, "period": 30, "usdPrice": 4.99, "provider": "p1", "enName": "5GB/30d"}],
			"providers": {"p1": {"name": "Acme"}}}`))
	})
	mux.HandleFunc("/countries/chad/data-plans", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppName:                "esimdb-scraper",
		BaseURL:                baseURL,
		Locale:                 "en",
		UserAgent:              config.DefaultUserAgent,
		OutputDir:              filepath.Join(dir, "out"),
		MaxWorkers:             5,
		HTTPTimeout:            5 * time.Second,
		RetryAttempts:          2,
		RetryBaseDelay:         0,
		PageDelay:              0,
		StorageType:            "bbolt",
		BBoltPath:              filepath.Join(dir, "runs.db"),
		StorageTTL:             time.Hour,
		StorageCleanupInterval: time.Hour,
		MetricsFile:            filepath.Join(dir, "scraper.prom"),
	}
}

func TestScraperRunWritesArtifactsAndLedger(t *testing.T) {
	srv := newCatalogServer(t, `[
		{"slug": "france", "name": "France", "region": "europe"},
		{"slug": "chad", "name": "Chad", "region": "africa"},
		{"name": "No Slug"}]`)
	cfg := testConfig(t, srv.URL)

	var (
		mu     sync.Mutex
		events []publishers.Event
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt publishers.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode event: %v", err)
		}
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()
	cfg.PublishersFile = filepath.Join(t.TempDir(), "publishers.yaml")
	raw := "publishers:\n  - id: hook\n    type: http\n    http:\n      url: " + hook.URL + "\n"
	if err := os.WriteFile(cfg.PublishersFile, []byte(raw), 0o644); err != nil {
		t.Fatalf("write publishers file: %v", err)
	}

	s, err := NewScraper(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewScraper: %v", err)
	}
	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Attempted != 2 || summary.Succeeded != 1 || summary.Failed != 1 || summary.TotalRecords != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := uuid.Parse(summary.RunID); err != nil {
		t.Fatalf("run id %q: %v", summary.RunID, err)
	}

	wantDir := filepath.Join(cfg.OutputDir, time.Now().UTC().Format(runDateLayout))
	if s.RunDir() != wantDir {
		t.Fatalf("run dir = %q, want %q", s.RunDir(), wantDir)
	}
	if _, err := os.Stat(filepath.Join(wantDir, "france.parquet")); err != nil {
		t.Fatalf("france artifact missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wantDir, "chad.parquet")); !os.IsNotExist(err) {
		t.Fatalf("failed country must not leave a file, stat err = %v", err)
	}
	entries, err := os.ReadDir(wantDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != writer.SanitizeFilename("France")+".parquet" {
		t.Fatalf("expected only the france artifact, got %v", entries)
	}

	store, err := storage.NewStore("bbolt", cfg.BBoltPath, storage.Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	recs, err := store.RunOutcomes(summary.RunID)
	if err != nil {
		t.Fatalf("RunOutcomes: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 ledger records, got %d", len(recs))
	}

	metricsText, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	if !strings.Contains(string(metricsText), `esimdb_countries_total{result="failure"} 1`) {
		t.Fatalf("metrics textfile missing country counters:\n%s", metricsText)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("expected 2 country events and 1 run event, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != publishers.EventRunCompleted || last.Summary == nil || last.Summary.Failed != 1 {
		t.Fatalf("unexpected run event %+v", last)
	}
}

func TestScraperRunHonoursCountryFilter(t *testing.T) {
	srv := newCatalogServer(t, `[
		{"slug": "france", "name": "France", "region": "europe"},
		{"slug": "chad", "name": "Chad", "region": "africa"}]`)
	cfg := testConfig(t, srv.URL)
	cfg.Countries = "France, atlantis"
	cfg.StorageType = "none"

	s, err := NewScraper(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewScraper: %v", err)
	}
	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Attempted != 1 || summary.Succeeded != 1 {
		t.Fatalf("expected only france, got %+v", summary)
	}
}

func TestScraperRunFailsOnCatalogSchema(t *testing.T) {
	srv := newCatalogServer(t, `{"countries": []}`)
	cfg := testConfig(t, srv.URL)
	cfg.StorageType = "none"

	s, err := NewScraper(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewScraper: %v", err)
	}
	_, err = s.Run(context.Background())
	var schemaErr *esimdb.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestNewScraperRejectsBadPublishersFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.StorageType = "none"
	cfg.PublishersFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewScraper(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for missing publishers file")
	}
}

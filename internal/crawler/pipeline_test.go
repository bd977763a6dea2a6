package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/normalizer"
	"github.com/georgenavi/esimdb-scraper/internal/writer"
	"github.com/georgenavi/esimdb-scraper/pkg/esimdb"
)

// routeFetcher serves canned JSON bodies keyed by endpoint suffix and page.
type routeFetcher struct {
	routes map[string]string
	err    error
}

func (f *routeFetcher) FetchJSON(_ context.Context, url string, query map[string]string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	for suffix, body := range f.routes {
		key := suffix
		if p, ok := query["page"]; ok {
			if !strings.HasSuffix(suffix, "?page="+p) {
				continue
			}
			key = strings.TrimSuffix(suffix, "?page="+p)
		}
		if strings.HasSuffix(url, key) {
			return json.RawMessage(body), nil
		}
	}
	return nil, fmt.Errorf("no route for %s %v", url, query)
}

func TestCountryPipelineFranceEndToEnd(t *testing.T) {
	fetcher := &routeFetcher{routes: map[string]string{
		"/countries": `[{"slug": "france", "name": "France", "region": "europe"}]`,
		"/countries/france/data-plans?page=1": `{
			"numberOfPages": 1,
			"plans": [{"id": 1, "capacity": 5, "period": 30, "usdPrice": 4.99, "provider": "p1", "enName": "5GB/30d"}],
			"providers": {"p1": {"name": "Acme"}}}`,
	}}
	client := esimdb.NewClient(fetcher, esimdb.ClientOptions{})

	countries, err := client.ListCountries(context.Background(), "en")
	if err != nil {
		t.Fatalf("ListCountries: %v", err)
	}
	if len(countries) != 1 {
		t.Fatalf("expected 1 country, got %d", len(countries))
	}

	dir := t.TempDir()
	runDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	pipeline := NewCountryPipeline(client, normalizer.New(nil, nil), writer.NewParquetWriter(dir, nil), "en", runDate)

	outcome := pipeline.Process(context.Background(), countries[0])
	if !outcome.Success || outcome.Err != nil {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.RecordCount != 1 {
		t.Fatalf("record count = %d", outcome.RecordCount)
	}
	if outcome.Artifact != filepath.Join(dir, "france.parquet") {
		t.Fatalf("artifact = %q", outcome.Artifact)
	}

	rows, err := parquet.ReadFile[writer.Row](outcome.Artifact)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Country != "France" || row.Region != "Europe" || row.Provider != "Acme" || row.PlanName != "5GB/30d" {
		t.Fatalf("unexpected strings: %+v", row)
	}
	if row.PriceUSD == nil || *row.PriceUSD != float32(4.99) {
		t.Fatalf("price = %v", row.PriceUSD)
	}
	if row.DataGB == nil || *row.DataGB != 5 {
		t.Fatalf("data = %v", row.DataGB)
	}
	if row.ValidityDays == nil || *row.ValidityDays != 30 {
		t.Fatalf("validity = %v", row.ValidityDays)
	}
	if row.SchemaVersion != domain.SchemaVersion {
		t.Fatalf("schema version = %q", row.SchemaVersion)
	}
}

func TestCountryPipelineCollectFailureWritesNothing(t *testing.T) {
	boom := errors.New("retries exhausted")
	client := esimdb.NewClient(&routeFetcher{err: boom}, esimdb.ClientOptions{})
	dir := t.TempDir()
	pipeline := NewCountryPipeline(client, normalizer.New(nil, nil), writer.NewParquetWriter(dir, nil), "en", time.Now())

	outcome := pipeline.Process(context.Background(), domain.Country{Slug: "chad", Name: "Chad"})
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if !errors.Is(outcome.Err, boom) {
		t.Fatalf("expected wrapped fetch error, got %v", outcome.Err)
	}
	if outcome.Slug != "chad" || outcome.Name != "Chad" {
		t.Fatalf("outcome identity lost: %+v", outcome)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d", len(entries))
	}
}

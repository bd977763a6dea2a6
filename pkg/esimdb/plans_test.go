package esimdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
)

// pageFetcher serves canned bodies keyed by the page query parameter.
type pageFetcher struct {
	pages map[int]string
	calls []int
}

func (f *pageFetcher) FetchJSON(_ context.Context, _ string, query map[string]string) (json.RawMessage, error) {
	n, _ := strconv.Atoi(query["page"])
	f.calls = append(f.calls, n)
	body, ok := f.pages[n]
	if !ok {
		return nil, fmt.Errorf("unexpected page %d", n)
	}
	return json.RawMessage(body), nil
}

func collectAll(t *testing.T, c *Client, slug string) []domain.RawPlan {
	t.Helper()
	var out []domain.RawPlan
	if err := c.CollectPlans(context.Background(), slug, "en", func(p domain.RawPlan) error {
		out = append(out, p)
		return nil
	}); err != nil {
		t.Fatalf("CollectPlans: %v", err)
	}
	return out
}

func planIDs(plans []domain.RawPlan) []string {
	ids := make([]string, len(plans))
	for i, p := range plans {
		ids[i] = fmt.Sprint(p.Fields["id"])
	}
	return ids
}

func TestCollectPlansDeduplicatesAcrossPages(t *testing.T) {
	fetcher := &pageFetcher{pages: map[int]string{
		1: `{"numberOfPages": 2,
			"providers": {"p1": {"name": "Acme"}},
			"plans": [{"id": 1, "provider": "p1"}, {"id": 2, "provider": "zz"}],
			"featured": [{"id": 1, "provider": "p1"}, {"provider": "p1"}]}`,
		2: `{"numberOfPages": 9,
			"providers": {"p2": {"name": "Globex"}},
			"plans": [{"id": 2}, {"id": 3, "provider": "p2"}, {"provider": "p1"}],
			"featured": null}`,
	}}
	client := NewClient(fetcher, ClientOptions{BaseURL: testBaseURL})

	plans := collectAll(t, client, "france")

	got := planIDs(plans)
	want := []string{"1", "2", "<nil>", "3", "<nil>"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if plans[0].ProviderName != "Acme" || plans[1].ProviderName != "" {
		t.Fatalf("unexpected provider resolution: %q %q", plans[0].ProviderName, plans[1].ProviderName)
	}
	if plans[3].ProviderName != "Globex" {
		t.Fatalf("expected page-2 lookup, got %q", plans[3].ProviderName)
	}
	// page 2 has no p1 entry: lookups are per page
	if plans[4].ProviderName != "" {
		t.Fatalf("provider lookup leaked across pages: %q", plans[4].ProviderName)
	}
	if fmt.Sprint(fetcher.calls) != "[1 2]" {
		t.Fatalf("page count must come from page 1, calls=%v", fetcher.calls)
	}
}

func TestCollectPlansRestartsFromFirstPage(t *testing.T) {
	fetcher := &pageFetcher{pages: map[int]string{
		1: `{"numberOfPages": 2, "providers": {"p1": {"name": "Acme"}}, "plans": [{"id": 1, "provider": "p1"}]}`,
		2: `{"plans": [{"id": 2}, {"id": 1}]}`,
	}}
	client := NewClient(fetcher, ClientOptions{BaseURL: testBaseURL})

	first := planIDs(collectAll(t, client, "japan"))
	second := planIDs(collectAll(t, client, "japan"))

	want := []string{"1", "2"}
	for _, got := range [][]string{first, second} {
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("expected plans %v on every walk, got %v", want, got)
		}
	}
	if calls := fmt.Sprint(fetcher.calls); calls != "[1 2 1 2]" {
		t.Fatalf("expected both walks to start at page 1, got page calls %s", calls)
	}
}

func TestCollectPlansDefaultsPageCount(t *testing.T) {
	fetcher := &pageFetcher{pages: map[int]string{
		1: `{"numberOfPages": "lots", "plans": [{"id": "a"}]}`,
	}}
	client := NewClient(fetcher, ClientOptions{BaseURL: testBaseURL})

	plans := collectAll(t, client, "spain")
	if len(plans) != 1 || len(fetcher.calls) != 1 {
		t.Fatalf("expected a single page, got plans=%d calls=%v", len(plans), fetcher.calls)
	}
}

func TestCollectPlansSkipsNonObjectPlans(t *testing.T) {
	fetcher := &pageFetcher{pages: map[int]string{
		1: `{"numberOfPages": 1, "plans": [{"id": 1}, 42, "x"], "featured": [{"id": 2}]}`,
	}}
	client := NewClient(fetcher, ClientOptions{BaseURL: testBaseURL})

	if got := planIDs(collectAll(t, client, "peru")); fmt.Sprint(got) != "[1 2]" {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestCollectPlansSchemaErrors(t *testing.T) {
	bodies := map[string]string{
		"array page":   `[]`,
		"plans object": `{"numberOfPages": 1, "plans": {"id": 1}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := NewClient(&pageFetcher{pages: map[int]string{1: body}}, ClientOptions{BaseURL: testBaseURL})
			err := client.CollectPlans(context.Background(), "chile", "en", func(domain.RawPlan) error { return nil })
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected *SchemaError, got %v", err)
			}
		})
	}
}

func TestCollectPlansStopsOnCallbackError(t *testing.T) {
	fetcher := &pageFetcher{pages: map[int]string{
		1: `{"numberOfPages": 3, "plans": [{"id": 1}, {"id": 2}]}`,
	}}
	client := NewClient(fetcher, ClientOptions{BaseURL: testBaseURL})
	stop := errors.New("stop")

	err := client.CollectPlans(context.Background(), "italy", "en", func(domain.RawPlan) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("expected traversal to stop after page 1, calls=%v", fetcher.calls)
	}
}

func TestCollectPlansOverHTTP(t *testing.T) {
	client, transport := newMockedClient(t)
	url := testBaseURL + "/countries/france/data-plans"
	transport.RegisterResponderWithQuery(http.MethodGet, url, map[string]string{"page": "1", "locale": "en"},
		httpmock.NewStringResponder(http.StatusOK, `{"numberOfPages": 2, "plans": [{"id": 1}]}`))
	transport.RegisterResponderWithQuery(http.MethodGet, url, map[string]string{"page": "2", "locale": "en"},
		httpmock.NewStringResponder(http.StatusOK, `{"plans": [{"id": 1}, {"id": 5}]}`))

	plans := collectAll(t, client, "france")
	if got := planIDs(plans); fmt.Sprint(got) != "[1 5]" {
		t.Fatalf("unexpected ids %v", got)
	}
	if transport.GetTotalCallCount() != 2 {
		t.Fatalf("expected 2 requests, got %d", transport.GetTotalCallCount())
	}
}

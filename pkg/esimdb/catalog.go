package esimdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
)

// ListCountries fetches the catalog for locale and returns the usable entries in API order.
// Entries without a slug or name are skipped; a non-array response is a *SchemaError.
func (c *Client) ListCountries(ctx context.Context, locale string) ([]domain.Country, error) {
	endpoint := c.baseURL + "/countries"
	raw, err := c.fetcher.FetchJSON(ctx, endpoint, map[string]string{"locale": locale})
	if err != nil {
		return nil, fmt.Errorf("fetch countries: %w", err)
	}

	doc, err := decodeValue(raw)
	if err != nil {
		return nil, &SchemaError{Endpoint: "/countries", Reason: err.Error()}
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, &SchemaError{Endpoint: "/countries", Reason: fmt.Sprintf("expected array, got %s", jsonKind(doc))}
	}

	countries := make([]domain.Country, 0, len(items))
	skipped := 0
	for _, item := range items {
		country, ok := parseCountry(item)
		if !ok {
			skipped++
			continue
		}
		countries = append(countries, country)
	}

	if skipped > 0 {
		c.log.DebugObj("catalog entries skipped", "catalog_skipped", map[string]any{
			"skipped": skipped,
			"total":   len(items),
		})
	}
	return countries, nil
}

func parseCountry(item any) (domain.Country, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return domain.Country{}, false
	}
	slug, ok := nonEmptyString(obj["slug"])
	if !ok {
		return domain.Country{}, false
	}
	name, ok := nonEmptyString(obj["name"])
	if !ok {
		return domain.Country{}, false
	}

	region := ""
	if s, ok := obj["region"].(string); ok {
		region = titleCase(strings.TrimSpace(s))
	}
	return domain.Country{Slug: slug, Name: name, Region: region}, true
}

// FilterCountries keeps the countries whose slug is in allow (case-insensitive), in catalog order.
// An empty allow-list keeps everything. Slugs that matched nothing are returned as missing.
func FilterCountries(countries []domain.Country, allow []string) (kept []domain.Country, missing []string) {
	if len(allow) == 0 {
		return countries, nil
	}
	want := make(map[string]bool, len(allow))
	for _, s := range allow {
		want[strings.ToLower(strings.TrimSpace(s))] = false
	}
	for _, c := range countries {
		key := strings.ToLower(c.Slug)
		if _, ok := want[key]; ok {
			want[key] = true
			kept = append(kept, c)
		}
	}
	for _, s := range allow {
		key := strings.ToLower(strings.TrimSpace(s))
		if matched, ok := want[key]; ok && !matched {
			missing = append(missing, key)
			delete(want, key)
		}
	}
	return kept, missing
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "number"
	}
}

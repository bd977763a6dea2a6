package esimdb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
)

// page is the parsed form of one data-plans response.
type page struct {
	numberOfPages int
	hasPageCount  bool
	providers     map[string]string
	plans         []map[string]any
	invalidPlans  int
}

// CollectPlans walks every data-plans page for slug and calls fn once per unique plan, in page order with
// primary plans before featured ones. Plans are deduplicated by id across the whole traversal; plans without
// an id are always passed through. The page count is fixed by the first response. Returning an error from
// fn stops the walk. Each call starts again from page 1.
func (c *Client) CollectPlans(ctx context.Context, slug, locale string, fn func(domain.RawPlan) error) error {
	endpoint := c.baseURL + "/countries/" + url.PathEscape(slug) + "/data-plans"
	seen := make(map[string]struct{})
	totalPages := 1

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		if pageNum > 1 {
			if err := sleepContext(ctx, c.pageDelay); err != nil {
				return err
			}
		}

		raw, err := c.fetcher.FetchJSON(ctx, endpoint, map[string]string{
			"page":   strconv.Itoa(pageNum),
			"locale": locale,
		})
		if err != nil {
			return fmt.Errorf("fetch %s page %d: %w", slug, pageNum, err)
		}
		c.metrics.IncPage()

		pg, err := parsePage(raw, slug)
		if err != nil {
			return err
		}

		if pageNum == 1 {
			if pg.hasPageCount {
				totalPages = pg.numberOfPages
			} else {
				c.log.WarnObj("unexpected numberOfPages value, defaulting to 1", "page_count_warning", map[string]any{
					"country": slug,
				})
			}
		}
		if pg.invalidPlans > 0 {
			c.log.WarnObj("non-object plan entries skipped", "plan_shape_warning", map[string]any{
				"country": slug,
				"page":    pageNum,
				"skipped": pg.invalidPlans,
			})
		}

		for _, plan := range pg.plans {
			if key, ok := planKey(plan["id"]); ok {
				if _, dup := seen[key]; dup {
					c.metrics.IncDuplicate()
					continue
				}
				seen[key] = struct{}{}
			}

			providerName := ""
			if id, ok := plan["provider"].(string); ok && id != "" {
				providerName = pg.providers[id]
			}

			c.metrics.IncPlan()
			if err := fn(domain.RawPlan{Fields: plan, ProviderName: providerName}); err != nil {
				return err
			}
		}
	}
	return nil
}

func parsePage(raw []byte, slug string) (page, error) {
	endpoint := "/countries/" + slug + "/data-plans"

	doc, err := decodeValue(raw)
	if err != nil {
		return page{}, &SchemaError{Endpoint: endpoint, Reason: err.Error()}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return page{}, &SchemaError{Endpoint: endpoint, Reason: fmt.Sprintf("expected object, got %s", jsonKind(doc))}
	}

	var pg page
	pg.numberOfPages, pg.hasPageCount = intValue(obj["numberOfPages"])
	pg.providers = parseProviders(obj["providers"])

	for _, key := range []string{"plans", "featured"} {
		items, err := planList(obj[key])
		if err != nil {
			return page{}, &SchemaError{Endpoint: endpoint, Reason: fmt.Sprintf("%s: %v", key, err)}
		}
		for _, item := range items {
			plan, ok := item.(map[string]any)
			if !ok {
				pg.invalidPlans++
				continue
			}
			pg.plans = append(pg.plans, plan)
		}
	}
	return pg, nil
}

// planList accepts an array, or null/absent for an empty subset.
func planList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	default:
		return nil, fmt.Errorf("expected array, got %s", jsonKind(v))
	}
}

// parseProviders builds the page's provider id -> name lookup. Malformed entries resolve to "".
func parseProviders(v any) map[string]string {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for id, entry := range obj {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fields["name"].(string); ok {
			out[id] = name
		}
	}
	return out
}

package esimdb

import (
	"strings"
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/logger"
	"github.com/georgenavi/esimdb-scraper/internal/metrics"
)

const (
	DefaultBaseURL   = "https://esimdb.com/api/client"
	DefaultPageDelay = 200 * time.Millisecond
)

// ClientOptions configures a Client. An empty BaseURL and a negative PageDelay fall back to the defaults;
// a zero PageDelay fetches pages back to back.
type ClientOptions struct {
	BaseURL   string
	PageDelay time.Duration
	Logger    logger.Logger
	Metrics   *metrics.Metrics
}

// Client reads the country catalog and per-country data-plan pages.
type Client struct {
	baseURL   string
	fetcher   JSONFetcher
	pageDelay time.Duration
	log       logger.Logger
	metrics   *metrics.Metrics
}

// NewClient builds an API client on top of fetcher.
func NewClient(fetcher JSONFetcher, opts ClientOptions) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = DefaultPageDelay
	}
	return &Client{
		baseURL:   base,
		fetcher:   fetcher,
		pageDelay: opts.PageDelay,
		log:       logger.Ensure(opts.Logger),
		metrics:   opts.Metrics,
	}
}

package esimdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/logger"
	"github.com/georgenavi/esimdb-scraper/internal/metrics"
	"github.com/georgenavi/esimdb-scraper/pkg/httpclient"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// JSONFetcher retrieves one JSON document.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string, query map[string]string) (json.RawMessage, error)
}

// FetcherOptions tunes retry behaviour. Attempts <= 0 and a negative BaseDelay fall back to the defaults;
// a zero BaseDelay retries without waiting.
type FetcherOptions struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    logger.Logger
	Metrics   *metrics.Metrics
}

// Fetcher issues GET requests and retries every failure with exponential backoff plus jitter.
// A Fetcher owns its transport client and belongs to a single worker.
type Fetcher struct {
	client    httpclient.Client
	attempts  int
	baseDelay time.Duration
	log       logger.Logger
	metrics   *metrics.Metrics

	jitter func(max time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher wraps client with the retry policy from opts.
func NewFetcher(client httpclient.Client, opts FetcherOptions) *Fetcher {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Fetcher{
		client:    client,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		log:       logger.Ensure(opts.Logger),
		metrics:   opts.Metrics,
		jitter:    uniformJitter,
		sleep:     sleepContext,
	}
}

// FetchJSON returns the body of the first attempt that answers 2xx with valid JSON.
// After the last failed attempt it returns a permanent *FetchError wrapping ErrRetryExhausted and the last cause.
func (f *Fetcher) FetchJSON(ctx context.Context, url string, query map[string]string) (json.RawMessage, error) {
	if f == nil || f.client == nil {
		return nil, errors.New("fetcher is not initialized")
	}

	var last *FetchError
	for attempt := 0; attempt < f.attempts; attempt++ {
		f.metrics.IncFetchAttempt()
		body, err := f.fetchOnce(ctx, url, query, attempt+1)
		if err == nil {
			return body, nil
		}
		last = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			f.metrics.IncFetchFailure(string(KindPermanent))
			return nil, &FetchError{Kind: KindPermanent, URL: url, Attempt: attempt + 1, Err: ctxErr}
		}
		if attempt == f.attempts-1 {
			break
		}

		wait := f.backoff(attempt)
		f.metrics.IncFetchRetry()
		f.log.WarnObj("request failed, retrying", "fetch_retry", map[string]any{
			"url":      url,
			"attempt":  attempt + 1,
			"attempts": f.attempts,
			"wait_ms":  wait.Milliseconds(),
			"error":    err.Error(),
		})
		if err := f.sleep(ctx, wait); err != nil {
			f.metrics.IncFetchFailure(string(KindPermanent))
			return nil, &FetchError{Kind: KindPermanent, URL: url, Attempt: attempt + 1, Err: err}
		}
	}

	f.metrics.IncFetchFailure(string(KindPermanent))
	f.log.ErrorObj("request failed permanently", "fetch_error", map[string]any{
		"url":      url,
		"attempts": f.attempts,
		"error":    last.Err.Error(),
	})
	return nil, &FetchError{
		Kind:    KindPermanent,
		URL:     url,
		Attempt: last.Attempt,
		Status:  last.Status,
		Err:     fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, f.attempts, last.Err),
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, query map[string]string, attempt int) (json.RawMessage, *FetchError) {
	resp, err := f.client.Get(ctx, url, query)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: url, Attempt: attempt, Err: err}
	}

	status := resp.StatusCode()
	body := resp.Body()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &FetchError{
			Kind:    KindTransient,
			URL:     url,
			Attempt: attempt,
			Status:  status,
			Err:     fmt.Errorf("unexpected status: %s", responseSnippet(body, resp.ContentType())),
		}
	}
	if !json.Valid(body) {
		return nil, &FetchError{
			Kind:    KindTransient,
			URL:     url,
			Attempt: attempt,
			Status:  status,
			Err:     fmt.Errorf("invalid json body: %s", responseSnippet(body, resp.ContentType())),
		}
	}
	return json.RawMessage(body), nil
}

// backoff returns base*2^attempt + U(0, base) for a 0-indexed attempt.
func (f *Fetcher) backoff(attempt int) time.Duration {
	return f.baseDelay*time.Duration(1<<attempt) + f.jitter(f.baseDelay)
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

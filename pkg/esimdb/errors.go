package esimdb

import (
	"errors"
	"fmt"
)

// ErrRetryExhausted marks a FetchError produced after the last attempt failed.
var ErrRetryExhausted = errors.New("retries exhausted")

// Kind classifies fetch failures.
type Kind string

const (
	// KindTransient failures are retried until attempts run out.
	KindTransient Kind = "transient"
	// KindPermanent failures are terminal for the request.
	KindPermanent Kind = "permanent"
)

// FetchError is returned by Fetcher.FetchJSON.
type FetchError struct {
	Kind    Kind
	URL     string
	Attempt int
	Status  int
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s fetch %s (attempt %d, status %d): %v", e.Kind, e.URL, e.Attempt, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch %s (attempt %d): %v", e.Kind, e.URL, e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the error may succeed on retry.
func (e *FetchError) Transient() bool { return e.Kind == KindTransient }

// SchemaError reports a response whose shape cannot be interpreted.
type SchemaError struct {
	Endpoint string
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unexpected response shape from %s: %s", e.Endpoint, e.Reason)
}

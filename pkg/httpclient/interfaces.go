package httpclient

import "context"

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
	ContentType() string
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
// Implementations are not required to be safe for use by more than one worker.
type Client interface {
	Get(ctx context.Context, url string, query map[string]string) (Response, error)
}

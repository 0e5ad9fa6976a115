package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is a completed HTTP exchange as seen by subscribers.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FetchedAt  time.Time
}

// Transport performs the requests of an agent. Get returns a Response for
// every status code; an error means no response was received.
type Transport interface {
	Get(ctx context.Context, url string, header http.Header) (*Response, error)
	Head(ctx context.Context, url string, header http.Header) (http.Header, error)
}

// DefaultTimeout bounds a single request of HTTPTransport.
const DefaultTimeout = 2 * time.Minute

// HTTPTransport is the net/http Transport.
type HTTPTransport struct {
	httpClient *http.Client
}

// NewHTTPTransport creates a transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	resp, err := t.do(ctx, http.MethodGet, url, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FetchedAt:  time.Now(),
	}, nil
}

func (t *HTTPTransport) Head(ctx context.Context, url string, header http.Header) (http.Header, error) {
	resp, err := t.do(ctx, http.MethodHead, url, header)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return resp.Header, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return t.httpClient.Do(req)
}

package githost

import (
	"context"
	"io"
	stdlog "log"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const userAgent = "apidelta/2"

// Header is one request header.
type Header struct {
	Name  string
	Value string
}

// Request describes one REST call against a hosting API.
type Request struct {
	Method  string
	URL     string
	Headers []Header
}

// Response carries the pieces of an HTTP response the host clients consume.
type Response struct {
	StatusCode int
	Body       string
	Header     http.Header
}

// NewHTTPClient builds the retryable HTTP client the REST hosts share:
// bounded retries for transient failures and optional proxy support.
// Rate-limited responses are never retried by the client; they surface to
// the caller as *RateLimitError so it can decide to wait or abort.
func NewHTTPClient(proxy string) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = stdlog.New(io.Discard, "", 0)
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			client.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return client
}

// Do executes one request and drains the response body. Transport failures
// come back wrapped by the retry client; non-2xx statuses are returned as
// responses for the caller to interpret.
func Do(ctx context.Context, client *retryablehttp.Client, req *Request) (*Response, error) {
	r, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, err
	}

	r.Header.Set("User-Agent", userAgent)
	r.Header.Set("Accept", "application/json")
	for _, h := range req.Headers {
		r.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Header:     resp.Header,
	}, nil
}

package geodb

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient is a subset of http.Client used by sources to download their
// databases. Tests substitute it with a mocked transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpClient struct {
	userAgent   string
	client      *http.Client
	rateLimiter *rate.Limiter
}

func (h httpClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", h.userAgent)

	if err := h.rateLimiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter was cancelled: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if resp != nil {
			io.Copy(ioutil.Discard, resp.Body) // nolint: errcheck
			resp.Body.Close()
		}

		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		io.Copy(ioutil.Discard, resp.Body) // nolint: errcheck
		resp.Body.Close()

		return nil, fmt.Errorf("netloc has responded with %s", resp.Status)
	}

	return resp, nil
}

// NewHTTPClient wraps a http.Client with a user agent and a rate limiter.
// Please see https://pkg.go.dev/golang.org/x/time/rate to get a meaning of
// rate limiter parameters.
func NewHTTPClient(client *http.Client,
	userAgent string,
	rateLimiterInterval time.Duration,
	rateLimitBurst int) HTTPClient {
	return httpClient{
		userAgent:   userAgent,
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Every(rateLimiterInterval), rateLimitBurst),
	}
}

package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/osint-cli/internal/resilience"
)

// StatusError reports a non-2xx response that carried no rate-limit
// signal. Sources map the code onto their own semantics (404 vs 403).
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// APIClient is the shared HTTP client for source APIs: per-host rate
// limiting, transient retry, and uniform rate-limit classification.
type APIClient struct {
	client    *http.Client
	userAgent string
	retry     resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// APIOptions configures the shared client.
type APIOptions struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimits maps hosts to requests-per-second overrides.
	RateLimits map[string]float64
}

// NewAPIClient creates the shared client used by all sources.
func NewAPIClient(opts APIOptions) *APIClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "osint-cli/1.0"
	}
	limiters := make(map[string]*rate.Limiter)
	for host, rps := range opts.RateLimits {
		limiters[strings.ToLower(host)] = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &APIClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: ua,
		retry:     resilience.DefaultRetryConfig(),
		limiters:  limiters,
	}
}

// GetJSON fetches rawURL, decodes the JSON body into out, and retries
// transient failures. Rate-limit responses are classified into a
// RateLimitError carrying the provider's reset time; other non-2xx
// responses come back as StatusError for the source to interpret.
func (c *APIClient) GetJSON(ctx context.Context, provider, rawURL string, headers map[string]string, out any) error {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger(provider, "api get")
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.getJSONOnce(ctx, provider, rawURL, headers, out)
	})
}

func (c *APIClient) getJSONOnce(ctx context.Context, provider, rawURL string, headers map[string]string, out any) error {
	if err := c.limiter(rawURL).Wait(ctx); err != nil {
		return eris.Wrapf(err, "%s: rate limiter wait", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: build request", provider)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrapf(err, "%s: get %s", provider, rawURL), 0)
	}
	defer resp.Body.Close()

	if rlErr := resilience.ClassifyResponse(provider, resp); rlErr != nil {
		return rlErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Code: resp.StatusCode, URL: rawURL}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "%s: decode %s", provider, rawURL)
	}
	return nil
}

// limiter returns the per-host limiter, creating a default (1 rps,
// burst 2) for hosts without an explicit override.
func (c *APIClient) limiter(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limiters == nil {
		c.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(1, 2)
		c.limiters[host] = l
	}
	return l
}

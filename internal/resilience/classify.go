package resilience

import (
	"net/http"
	"strconv"
	"time"
)

// DefaultBackoff is the estimated wait reported when a provider signals a
// rate limit without a usable reset header.
const DefaultBackoff = 15 * time.Minute

// ClassifyResponse inspects an HTTP response and converts provider
// rate-limit signaling into a RateLimitError. It understands the common
// header conventions:
//
//   - X-RateLimit-Remaining: 0 with X-RateLimit-Reset as a unix timestamp
//     (GitHub, Algolia)
//   - HTTP 429 with Retry-After in seconds (Reddit and most CDNs)
//
// Returns nil when the response carries no rate-limit signal.
func ClassifyResponse(provider string, resp *http.Response) error {
	if resp == nil {
		return nil
	}

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil && n == 0 {
			return &RateLimitError{Provider: provider, ResetAt: resetFromHeaders(resp.Header)}
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Provider: provider, ResetAt: resetFromHeaders(resp.Header)}
	}

	return nil
}

// resetFromHeaders derives a concrete reset time from X-RateLimit-Reset
// (unix seconds) or Retry-After (delta seconds), falling back to
// now+DefaultBackoff so callers always get an actionable estimate.
func resetFromHeaders(h http.Header) time.Time {
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil && ts > 0 {
			return time.Unix(ts, 0).UTC()
		}
	}
	if retryAfter := h.Get("Retry-After"); retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return time.Now().UTC().Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Now().UTC().Add(DefaultBackoff)
}

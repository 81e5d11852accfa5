package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// RateLimitError signals that a provider refused the request because of
// rate limiting. ResetAt is the provider-reported reset time when one
// could be derived, otherwise zero; Provider names the API that pushed
// back. A rate-limited target is reported and skipped, never retried
// within the same run.
type RateLimitError struct {
	Provider string
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("%s: rate limit exceeded", e.Provider)
	}
	return fmt.Sprintf("%s: rate limit exceeded, resets at %s", e.Provider, e.ResetAt.UTC().Format(time.RFC3339))
}

// NotFoundError signals that the target handle does not exist on the source.
type NotFoundError struct {
	Source string
	Handle string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: user %q not found", e.Source, e.Handle)
}

// AuthError signals rejected or missing credentials, including access to
// private or suspended accounts.
type AuthError struct {
	Source string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: access denied: %s", e.Source, e.Reason)
}

// ContentTypeError signals that a downloaded media response carried a
// content type outside the allowed set. This is a hard rejection: the
// bytes are discarded, never stored under a fallback extension.
type ContentTypeError struct {
	URL         string
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("media %s: disallowed content type %q", e.URL, e.ContentType)
}

// TransientError wraps an error that is safe to retry (e.g., 5xx,
// network timeout). Rate limits are not transient here: they carry a
// reset time and abort the target instead.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsRateLimited reports whether the error chain contains a RateLimitError
// and returns it.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns
// (network timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Rate limits, missing users and auth failures are terminal per target.
	var rle *RateLimitError
	var nfe *NotFoundError
	var ae *AuthError
	if errors.As(err, &rle) || errors.As(err, &nfe) || errors.As(err, &ae) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry. 429 is excluded:
// it is classified as a rate limit, not a retryable fault.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

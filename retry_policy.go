package muatan

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/muatan/internal/backoff"
)

// RetryPolicy decides whether a failed attempt is retried and after how long.
type RetryPolicy interface {
	// ShouldRetry inspects the dispatched request, the response (nil on
	// transport failure), the transport error (nil on HTTP failure) and the
	// zero-based attempt counter. It returns the delay before the next
	// attempt and whether to retry at all.
	ShouldRetry(req *http.Request, resp *http.Response, err error, attempt int) (time.Duration, bool)
}

// BackoffStrategy selects the delay algorithm for DefaultRetryPolicy.
type BackoffStrategy int

const (
	// ExponentialJitter is exponential growth plus uniform jitter (default).
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter is AWS-style decorrelated jitter.
	DecorrelatedJitter
)

// DefaultRetryableStatuses is the retryable HTTP status set.
func DefaultRetryableStatuses() map[int]bool {
	return map[int]bool{
		http.StatusTooManyRequests:    true,
		http.StatusBadGateway:         true,
		http.StatusServiceUnavailable: true,
		http.StatusGatewayTimeout:     true,
	}
}

// DefaultRetryPolicy retries transport failures and retryable HTTP statuses on
// idempotent methods, honoring Retry-After when present.
type DefaultRetryPolicy struct {
	maxRetries   int
	statuses     map[int]bool
	isIdempotent func(method string) bool
	calc         *backoff.Calculator
}

// NewDefaultRetryPolicy creates the standard retry policy.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy with a specific
// backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	var s backoff.Strategy
	switch strategy {
	case DecorrelatedJitter:
		s = backoff.DecorrelatedJitter{}
	default:
		s = backoff.ExponentialJitter{}
	}
	return &DefaultRetryPolicy{
		maxRetries:   maxRetries,
		statuses:     DefaultRetryableStatuses(),
		isIdempotent: DefaultIsIdempotent,
		calc:         backoff.NewCalculator(s, initialBackoff, maxBackoff, multiplier, jitter),
	}
}

// SetRetryableStatuses replaces the retryable status set.
func (p *DefaultRetryPolicy) SetRetryableStatuses(statuses map[int]bool) {
	p.statuses = statuses
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(req *http.Request, resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	// Retries re-dispatch the identical request, so only idempotent methods
	// are eligible. Transport failures carry no response, which is exactly
	// when the gate matters most: a POST that died mid-flight may already
	// have been applied server-side.
	method := ""
	if req != nil {
		method = req.Method
	} else if resp != nil && resp.Request != nil {
		method = resp.Request.Method
	}
	if method != "" && !p.isIdempotent(method) {
		return 0, false
	}

	shouldRetry := false
	var delay time.Duration

	if err != nil {
		// No response received at all.
		shouldRetry = true
	} else if resp != nil && p.statuses[resp.StatusCode] {
		shouldRetry = true
		delay = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	if !shouldRetry {
		return 0, false
	}

	if delay == 0 {
		delay = p.calc.Delay(attempt)
	}
	return delay, true
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// parseRetryAfter parses the Retry-After header value. It supports both
// delay-seconds and HTTP-date formats, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

package muatan

import (
	"io"
	"net/http"
	"net/url"
	"time"
)

// RequestSpec describes one outbound call. It is treated as immutable once
// handed to the pipeline; retries re-dispatch the same spec.
type RequestSpec struct {
	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE). Required.
	Method string
	// Path is the endpoint path below the API prefix, e.g. "/price-movements".
	// Required.
	Path string
	// Query holds optional query parameters merged into the final URL.
	Query url.Values
	// Body is JSON-encoded for mutating methods. Ignored when Raw is set.
	Body any
	// Raw bypasses JSON encoding for binary/multipart payloads.
	Raw io.Reader
	// ContentType is the Content-Type sent with Raw. Defaults to
	// application/json for JSON bodies.
	ContentType string
	// Header holds per-call header overrides applied after defaults and auth.
	Header http.Header
	// Timeout bounds this call only. Zero means the client timeout applies.
	Timeout time.Duration
}

// Interceptor wraps the transport call for cross-cutting concerns
// (tracing, extra headers, request rewriting).
type Interceptor func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport interface interceptors delegate to.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option configures a Client.
type Option func(*Client)

// CacheCondition reports whether a request's envelope may be cached.
type CacheCondition func(req *http.Request) bool

// DedupCondition reports whether a request may be coalesced with an
// identical in-flight one.
type DedupCondition func(req *http.Request) bool

// DedupKeyFunc derives the coalescing key for a request.
type DedupKeyFunc func(req *http.Request) string

// CircuitBreakerConfig holds circuit breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitState is the current state of a circuit breaker.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

type contextKey string

// CacheControlKey carries per-request cache overrides in a context.
const CacheControlKey contextKey = "muatan_cache_control"

// CacheControl overrides caching for a single request.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

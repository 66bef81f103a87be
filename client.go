package muatan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the outbound request pipeline: it turns a RequestSpec into a
// normalized Envelope, injecting default and auth headers, retrying
// transiently-failed idempotent calls with exponential backoff + jitter, and
// mapping every failure into an ErrorDescriptor. It is safe for concurrent
// use; create one per backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiPrefix  string

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	timeout           time.Duration
	retryableStatuses map[int]bool
	retryPolicy       RetryPolicy

	session       *Session
	defaultHeader http.Header
	interceptors  []Interceptor

	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter

	cache          Cache
	cacheTTL       time.Duration
	cacheKeyFunc   func(*http.Request) string
	cacheCondition CacheCondition

	dedup          *DedupTracker
	dedupKeyFunc   DedupKeyFunc
	dedupCondition DedupCondition

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiPrefix:         "/api/v1",
		maxRetries:        3,
		initialBackoff:    300 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.3,
		backoffStrategy:   ExponentialJitter,
		timeout:           30 * time.Second,
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		defaultHeader:     http.Header{},
		cacheTTL:          5 * time.Minute,
		cacheKeyFunc:      DefaultCacheKeyFunc,
		cacheCondition:    DefaultCacheCondition,
		dedupKeyFunc:      DefaultDedupKeyFunc,
		dedupCondition:    DefaultDedupCondition,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.retryPolicy == nil {
		policy := NewDefaultRetryPolicyWithStrategy(
			client.maxRetries, client.initialBackoff, client.maxBackoff,
			client.backoffMultiplier, client.jitter, client.backoffStrategy)
		if client.retryableStatuses != nil {
			policy.SetRetryableStatuses(client.retryableStatuses)
		}
		client.retryPolicy = policy
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs a GET against path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Envelope, error) {
	return c.Send(ctx, RequestSpec{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.Send(ctx, RequestSpec{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.Send(ctx, RequestSpec{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.Send(ctx, RequestSpec{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) (*Envelope, error) {
	return c.Send(ctx, RequestSpec{Method: http.MethodDelete, Path: path})
}

// Upload performs a POST with a raw payload, bypassing JSON encoding.
func (c *Client) Upload(ctx context.Context, path, contentType string, payload io.Reader) (*Envelope, error) {
	return c.Send(ctx, RequestSpec{Method: http.MethodPost, Path: path, Raw: payload, ContentType: contentType})
}

// Send executes a RequestSpec applying all pipeline policy. The returned
// error, when non-nil, is always an *APIError; expected failures additionally
// return a Success:false envelope carrying the same descriptor.
func (c *Client) Send(ctx context.Context, spec RequestSpec) (*Envelope, error) {
	start := time.Now()

	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	body, contentType, err := encodeBody(spec)
	if err != nil {
		return nil, &APIError{
			Type:       ErrorTypeValidation,
			Descriptor: &ErrorDescriptor{Code: CodeString("ENCODING_ERROR"), Message: "request body could not be encoded"},
			Cause:      err,
			Method:     spec.Method,
			URL:        spec.Path,
			Timestamp:  time.Now(),
		}
	}

	req, err := c.buildRequest(ctx, spec, body, contentType)
	if err != nil {
		return nil, &APIError{
			Type:       ErrorTypeValidation,
			Descriptor: &ErrorDescriptor{Code: CodeString("BAD_REQUEST_SPEC"), Message: err.Error()},
			Cause:      err,
			Method:     spec.Method,
			URL:        spec.Path,
			Timestamp:  time.Now(),
		}
	}
	endpoint := endpointFromRequest(req)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	dedupEnabled := c.dedup != nil && c.dedupCondition(req)
	var dedupKey string
	if dedupEnabled {
		dedupKey = c.dedupKeyFunc(req)
		entry, owner := c.dedup.GetOrCreate(dedupKey)
		if !owner {
			env, werr := entry.Wait(ctx)
			c.metrics.RecordDedupHit(req.Method, endpoint)
			if c.debug != nil && c.debug.Enabled && c.logger != nil {
				c.logger.Debug("Coalesced with in-flight request", "requestID", requestID, "dedupKey", dedupKey)
			}
			if werr != nil && (errors.Is(werr, context.Canceled) || errors.Is(werr, context.DeadlineExceeded)) {
				errType := ErrorTypeNetwork
				if errors.Is(werr, context.DeadlineExceeded) {
					errType = ErrorTypeTimeout
				}
				c.metrics.RecordRequest(req.Method, endpoint, 0, time.Since(start))
				return nil, c.newAPIError(errType, networkErrorDescriptor(), 0, werr, req, 0, start)
			}
			// Coalesced calls count as requests of their own, even though only
			// the owner dispatched.
			c.metrics.RecordRequest(req.Method, endpoint, envelopeStatusCode(env), time.Since(start))
			return env, werr
		}
	}

	cacheEnabled := c.cache != nil && c.cacheCondition(req)
	cacheTTL := c.cacheTTL
	if cc, ok := cacheControlFromContext(ctx); ok {
		cacheEnabled = cacheEnabled && cc.Enabled
		if cc.TTL > 0 {
			cacheTTL = cc.TTL
		}
	}

	if cacheEnabled {
		cacheKey := c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(cacheKey); found {
			c.metrics.RecordCacheHit(req.Method, endpoint)
			c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, time.Since(start))
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}
			if dedupEnabled {
				c.dedup.Complete(dedupKey, entry.Envelope, nil)
			}
			return entry.Envelope, nil
		}
		c.metrics.RecordCacheMiss(req.Method, endpoint)
	}

	env, sendErr := c.doWithRetry(ctx, spec, body, contentType, 0, requestID, start)

	c.metrics.RecordRequest(req.Method, endpoint, envelopeStatusCode(env), time.Since(start))

	if cacheEnabled && sendErr == nil && env != nil && env.Success {
		cacheKey := c.cacheKeyFunc(req)
		c.cache.Set(cacheKey, &CacheEntry{Envelope: env, StatusCode: http.StatusOK}, cacheTTL)
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Envelope cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", cacheTTL)
		}
	}

	if dedupEnabled {
		c.dedup.Complete(dedupKey, env, sendErr)
	}

	return env, sendErr
}

func (c *Client) doWithRetry(ctx context.Context, spec RequestSpec, body []byte, contentType string, attempt int, requestID string, start time.Time) (*Envelope, error) {
	// Each attempt re-dispatches the identical spec with a fresh body reader.
	req, err := c.buildRequest(ctx, spec, body, contentType)
	if err != nil {
		return nil, &APIError{Type: ErrorTypeUnknown, Descriptor: &ErrorDescriptor{Code: CodeString("BAD_REQUEST_SPEC"), Message: err.Error()}, Cause: err, Timestamp: time.Now()}
	}
	endpoint := endpointFromRequest(req)

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		if c.debug != nil && c.debug.Enabled && c.logger != nil {
			c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
		}
		c.metrics.RecordError(ErrorTypeRateLimit, req.Method, endpoint)
		desc := &ErrorDescriptor{Code: CodeString("RATE_LIMITED"), Message: "client-side rate limit exceeded"}
		return nil, c.newAPIError(ErrorTypeRateLimit, desc, 0, ErrRateLimited, req, attempt, start)
	}
	if c.rateLimiter != nil {
		c.metrics.RecordRateLimiterTokens("default", c.rateLimiter.Tokens())
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		if c.debug != nil && c.debug.Enabled && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint)
		}
		c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
		desc := &ErrorDescriptor{Code: CodeString("CIRCUIT_OPEN"), Message: "circuit breaker is open"}
		return nil, c.newAPIError(ErrorTypeCircuitOpen, desc, 0, ErrCircuitOpen, req, attempt, start)
	}

	if attempt > 0 {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
		}
		c.metrics.RecordRetry(req.Method, endpoint, attempt)
	}

	resp, err := c.dispatch(req)

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
			c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
		}
	} else if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
	}

	if err != nil {
		return c.handleTransportError(ctx, spec, body, contentType, req, err, attempt, requestID, start)
	}

	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return c.handleTransportError(ctx, spec, body, contentType, req, readErr, attempt, requestID, start)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		env := normalizeSuccess(resp, payload)
		if !env.Success {
			// Backends occasionally report failure inside a 2xx body; the
			// envelope verdict wins over the transport status.
			errType := ErrorTypeUnknown
			if status, ok := env.Error.Code.Status(); ok {
				errType = classifyStatus(status)
			}
			c.metrics.RecordError(errType, req.Method, endpoint)
			return env, c.newAPIError(errType, env.Error, resp.StatusCode, nil, req, attempt, start)
		}
		return env, nil
	}

	// Clear shared auth state before the error surfaces so observers of the
	// session see the logout regardless of how this call's error is handled.
	if resp.StatusCode == http.StatusUnauthorized && c.session != nil {
		c.session.Clear()
		c.metrics.RecordAuthClear()
		if c.debug != nil && c.debug.Enabled && c.debug.LogAuth && c.logger != nil {
			c.logger.Warn("Session cleared after 401", "requestID", requestID, "endpoint", endpoint)
		}
	}

	if delay, retry := c.retryPolicy.ShouldRetry(req, resp, nil, attempt); retry {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}
		if serr := sleepCtx(ctx, delay); serr != nil {
			return nil, c.newAPIError(ErrorTypeTimeout, networkErrorDescriptor(), 0, serr, req, attempt, start)
		}
		return c.doWithRetry(ctx, spec, body, contentType, attempt+1, requestID, start)
	}

	env, desc := normalizeErrorEnvelope(resp, payload)
	errType := classifyStatus(resp.StatusCode)
	c.metrics.RecordError(errType, req.Method, endpoint)
	return env, c.newAPIError(errType, desc, resp.StatusCode, nil, req, attempt, start)
}

func (c *Client) handleTransportError(ctx context.Context, spec RequestSpec, body []byte, contentType string, req *http.Request, cause error, attempt int, requestID string, start time.Time) (*Envelope, error) {
	endpoint := endpointFromRequest(req)

	// Cancellation and deadline expiry are caller decisions, never retried.
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		errType := ErrorTypeNetwork
		if errors.Is(cause, context.DeadlineExceeded) {
			errType = ErrorTypeTimeout
		}
		c.metrics.RecordError(errType, req.Method, endpoint)
		return nil, c.newAPIError(errType, networkErrorDescriptor(), 0, cause, req, attempt, start)
	}

	if delay, retry := c.retryPolicy.ShouldRetry(req, nil, cause, attempt); retry {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry after network error", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "error", cause.Error())
		}
		if serr := sleepCtx(ctx, delay); serr != nil {
			return nil, c.newAPIError(ErrorTypeTimeout, networkErrorDescriptor(), 0, serr, req, attempt, start)
		}
		return c.doWithRetry(ctx, spec, body, contentType, attempt+1, requestID, start)
	}

	c.metrics.RecordError(ErrorTypeNetwork, req.Method, endpoint)
	desc := networkErrorDescriptor()
	env := &Envelope{Success: false, Error: desc, Meta: synthesizeMeta(nil)}
	return env, c.newAPIError(ErrorTypeNetwork, desc, 0, cause, req, attempt, start)
}

// normalizeErrorEnvelope passes envelope-shaped error bodies through,
// synthesizing the descriptor and meta only where the backend omitted them.
func normalizeErrorEnvelope(resp *http.Response, body []byte) (*Envelope, *ErrorDescriptor) {
	var probe envelopeProbe
	if len(body) > 0 && json.Unmarshal(body, &probe) == nil && probe.Success != nil {
		env := &Envelope{Success: false, Data: probe.Data, Error: probe.Error, Meta: probe.Meta}
		if env.Error == nil {
			env.Error = normalizeFailure(resp.StatusCode, body)
		}
		if env.Meta == nil {
			env.Meta = synthesizeMeta(resp)
		}
		return env, env.Error
	}
	desc := normalizeFailure(resp.StatusCode, body)
	return &Envelope{Success: false, Error: desc, Meta: synthesizeMeta(resp)}, desc
}

func (c *Client) dispatch(req *http.Request) (*http.Response, error) {
	if len(c.interceptors) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return interceptor(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) buildRequest(ctx context.Context, spec RequestSpec, body []byte, contentType string) (*http.Request, error) {
	target, err := c.resolveURL(spec)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, reader)
	if err != nil {
		return nil, err
	}

	for k, vs := range c.defaultHeader {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.session != nil {
		if auth, ok := c.session.Authorization(); ok {
			req.Header.Set("Authorization", auth)
		}
	}

	// Per-call overrides win over defaults and auth.
	for k, vs := range spec.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return req, nil
}

func (c *Client) resolveURL(spec RequestSpec) (string, error) {
	path := spec.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := strings.TrimRight(c.baseURL, "/") + c.apiPrefix + path

	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", spec.Path, err)
	}
	if len(spec.Query) > 0 {
		q := u.Query()
		for k, vs := range spec.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func validateSpec(spec RequestSpec) error {
	var problems []string
	switch spec.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	case "":
		problems = append(problems, "method is required")
	default:
		problems = append(problems, fmt.Sprintf("unsupported method %q", spec.Method))
	}
	if spec.Path == "" {
		problems = append(problems, "path is required")
	}
	if spec.Raw != nil && spec.Body != nil {
		problems = append(problems, "Body and Raw are mutually exclusive")
	}

	if len(problems) == 0 {
		return nil
	}
	return &APIError{
		Type:       ErrorTypeValidation,
		Descriptor: &ErrorDescriptor{Code: CodeString("BAD_REQUEST_SPEC"), Message: strings.Join(problems, "; ")},
		Method:     spec.Method,
		URL:        spec.Path,
		Timestamp:  time.Now(),
	}
}

func encodeBody(spec RequestSpec) ([]byte, string, error) {
	if spec.Raw != nil {
		payload, err := io.ReadAll(spec.Raw)
		if err != nil {
			return nil, "", err
		}
		contentType := spec.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return payload, contentType, nil
	}
	if spec.Body == nil {
		return nil, "", nil
	}
	payload, err := json.Marshal(spec.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := spec.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	return payload, contentType, nil
}

func (c *Client) newAPIError(errType string, desc *ErrorDescriptor, statusCode int, cause error, req *http.Request, attempt int, start time.Time) *APIError {
	return &APIError{
		Type:       errType,
		Descriptor: desc,
		StatusCode: statusCode,
		Cause:      cause,
		Method:     req.Method,
		URL:        req.URL.String(),
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// envelopeStatusCode recovers the status recorded for metrics from a settled
// envelope. Descriptors with string codes and missing envelopes report zero.
func envelopeStatusCode(env *Envelope) int {
	if env == nil {
		return 0
	}
	if env.Error != nil {
		if s, ok := env.Error.Code.Status(); ok {
			return s
		}
		return 0
	}
	return http.StatusOK
}

func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}

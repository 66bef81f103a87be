package muatan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serverURL string, extra ...Option) *Client {
	options := []Option{
		WithBaseURL(serverURL),
		WithAPIPrefix("/api/v1"),
		WithInitialBackoff(time.Millisecond),
		WithMaxBackoff(5 * time.Millisecond),
		WithJitter(0),
	}
	options = append(options, extra...)
	return New(options...)
}

func TestNewDefaults(t *testing.T) {
	client := New()

	if client == nil {
		t.Fatal("New() returned nil")
	}
	if client.maxRetries != 3 {
		t.Errorf("Expected maxRetries=3, got %d", client.maxRetries)
	}
	if client.initialBackoff != 300*time.Millisecond {
		t.Errorf("Expected initialBackoff=300ms, got %v", client.initialBackoff)
	}
	if client.apiPrefix != "/api/v1" {
		t.Errorf("Expected apiPrefix=/api/v1, got %s", client.apiPrefix)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", client.httpClient.Timeout)
	}
	if !client.IsValid() {
		t.Errorf("Expected valid default configuration, got %v", client.ValidationError())
	}
}

func TestSendRequiresMethodAndPath(t *testing.T) {
	client := New(WithBaseURL("http://localhost:1"))

	_, err := client.Send(context.Background(), RequestSpec{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Type != ErrorTypeValidation {
		t.Errorf("Expected validation error, got %s", apiErr.Type)
	}
}

func TestSendWrapsRawPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/price-movements" {
			t.Errorf("Expected path /api/v1/price-movements, got %s", r.URL.Path)
		}
		w.Header().Set("X-Request-Id", "req-42")
		w.Header().Set("X-Processing-Time", "12.5")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": 7, "route": "SHA-RTM"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	env, err := client.Get(context.Background(), "/price-movements", nil)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}

	if !env.Success {
		t.Error("Expected success envelope")
	}
	if env.Error != nil {
		t.Errorf("Expected nil error, got %+v", env.Error)
	}
	var payload struct {
		ID    int    `json:"id"`
		Route string `json:"route"`
	}
	if err := env.DecodeData(&payload); err != nil {
		t.Fatalf("DecodeData returned error: %v", err)
	}
	if payload.ID != 7 || payload.Route != "SHA-RTM" {
		t.Errorf("Unexpected payload %+v", payload)
	}
	if env.Meta == nil {
		t.Fatal("Expected synthesized meta")
	}
	if env.Meta.RequestID != "req-42" {
		t.Errorf("Expected requestId req-42, got %s", env.Meta.RequestID)
	}
	if env.Meta.ProcessingTime == nil || *env.Meta.ProcessingTime != 12.5 {
		t.Errorf("Expected processingTime 12.5, got %v", env.Meta.ProcessingTime)
	}
	if env.Meta.Timestamp.IsZero() {
		t.Error("Expected non-zero timestamp")
	}
}

func TestSendPassesEnvelopeThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"data": [{"id":1}],
			"error": null,
			"meta": {
				"timestamp": "2026-08-30T10:00:00Z",
				"requestId": "be-1",
				"pagination": {"page":1,"pageSize":20,"totalPages":3,"totalItems":44,"hasNext":true,"hasPrevious":false}
			}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	env, err := client.Get(context.Background(), "/price-movements", url.Values{"page": {"1"}})
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}

	if !env.Success {
		t.Error("Expected success envelope")
	}
	if env.Meta == nil || env.Meta.RequestID != "be-1" {
		t.Fatalf("Expected backend meta to pass through, got %+v", env.Meta)
	}
	if env.Meta.Pagination == nil || env.Meta.Pagination.TotalItems != 44 || !env.Meta.Pagination.HasNext {
		t.Errorf("Expected pagination to pass through, got %+v", env.Meta.Pagination)
	}
}

func TestSendEnvelopeInvariant(t *testing.T) {
	// Whatever the backend does, exactly one of data/error is meaningful.
	responses := []struct {
		status int
		body   string
	}{
		{200, `{"rates": []}`},
		{200, `{"success":true,"data":{"ok":1},"error":null,"meta":null}`},
		{400, `{"message":"bad filter"}`},
		{500, `boom`},
	}
	for _, tc := range responses {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		client := newTestClient(server.URL, WithMaxRetries(0))
		env, err := client.Get(context.Background(), "/x", nil)
		if env == nil {
			t.Fatalf("status %d: expected envelope, got nil (err=%v)", tc.status, err)
		}
		if env.Success && env.Error != nil {
			t.Errorf("status %d: success envelope carries error", tc.status)
		}
		if !env.Success && env.Error == nil {
			t.Errorf("status %d: failure envelope missing error", tc.status)
		}
		if !env.Success {
			if _, ok := err.(*APIError); !ok {
				t.Errorf("status %d: expected *APIError, got %T", tc.status, err)
			}
		}
		server.Close()
	}
}

func TestSendRetriesRetryableStatuses(t *testing.T) {
	var dispatches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&dispatches, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithMaxRetries(3))
	env, err := client.Get(context.Background(), "/items", nil)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}

	if !env.Success {
		t.Error("Expected success after retries")
	}
	if got := atomic.LoadInt64(&dispatches); got != 3 {
		t.Errorf("Expected 3 dispatches, got %d", got)
	}
}

func TestSendRetryBound(t *testing.T) {
	var dispatches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatches, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithMaxRetries(2), WithoutCircuitBreaker())
	env, err := client.Get(context.Background(), "/items", nil)

	if got := atomic.LoadInt64(&dispatches); got != 3 {
		t.Errorf("Expected maxRetries+1=3 dispatches, got %d", got)
	}
	if env == nil || env.Success {
		t.Error("Expected failure envelope after retry exhaustion")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Type != ErrorTypeServer {
		t.Errorf("Expected server_error, got %s", apiErr.Type)
	}
}

func TestSendDoesNotRetryNonIdempotent(t *testing.T) {
	var dispatches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatches, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithMaxRetries(3), WithoutCircuitBreaker())
	_, err := client.Post(context.Background(), "/reports", map[string]any{"name": "Q3"})
	if err == nil {
		t.Fatal("Expected error")
	}

	if got := atomic.LoadInt64(&dispatches); got != 1 {
		t.Errorf("Expected 1 dispatch for POST, got %d", got)
	}
}

func TestSendDoesNotRetryNonIdempotentTransportError(t *testing.T) {
	var dispatches int64
	fail := func(req *http.Request, next RoundTripper) (*http.Response, error) {
		atomic.AddInt64(&dispatches, 1)
		return nil, errors.New("connection reset by peer")
	}

	client := newTestClient("https://muatan.test", WithMaxRetries(3), WithoutCircuitBreaker(), WithInterceptors(fail))
	_, err := client.Post(context.Background(), "/reports", map[string]any{"name": "Q3"})

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Type != ErrorTypeNetwork {
		t.Errorf("Expected network error type, got %v", apiErr.Type)
	}
	if got := atomic.LoadInt64(&dispatches); got != 1 {
		t.Errorf("Expected 1 dispatch for POST on transport failure, got %d", got)
	}
}

func TestSendDoesNotRetryNonRetryableStatus(t *testing.T) {
	var dispatches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatches, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithMaxRetries(3))
	_, err := client.Get(context.Background(), "/nope", nil)

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Type != ErrorTypeNotFound {
		t.Errorf("Expected not_found, got %s", apiErr.Type)
	}
	if got := atomic.LoadInt64(&dispatches); got != 1 {
		t.Errorf("Expected 1 dispatch, got %d", got)
	}
}

func TestSendInjectsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	session := NewSession()
	session.SetToken("tok-123")
	client := newTestClient(server.URL, WithSession(session))

	if _, err := client.Get(context.Background(), "/sources", nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Expected 'Bearer tok-123', got %q", gotAuth)
	}
}

func TestSendSkipsAuthHeaderWhenUnauthenticated(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithSession(NewSession()))
	if _, err := client.Get(context.Background(), "/sources", nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Expected no Authorization header, got %q", gotAuth)
	}
}

func TestSendClearsSessionOn401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer server.Close()

	session := NewSession()
	session.SetToken("stale")
	var observedClear bool
	session.OnClear(func() { observedClear = true })

	client := newTestClient(server.URL, WithSession(session))
	env, err := client.Get(context.Background(), "/dashboards", nil)

	if session.Authenticated() {
		t.Error("Expected session cleared after 401")
	}
	if !observedClear {
		t.Error("Expected OnClear hook to fire")
	}
	if env == nil || env.Success {
		t.Fatal("Expected failure envelope")
	}
	if status, ok := env.Error.Code.Status(); !ok || status != 401 {
		t.Errorf("Expected numeric code 401, got %v", env.Error.Code)
	}
	if env.Error.Message != "token expired" {
		t.Errorf("Expected bare message wrapped, got %q", env.Error.Message)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Type != ErrorTypeAuthentication {
		t.Errorf("Expected authentication error, got %v", err)
	}
}

func TestSendUsesStructuredErrorVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{
			"success": false,
			"data": null,
			"error": {"code": "DUPLICATE_SOURCE", "message": "source already exists", "details": {"name": "maersk-feed"}, "path": "/data-sources"},
			"meta": null
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	env, err := client.Post(context.Background(), "/data-sources", map[string]any{"name": "maersk-feed"})

	if env == nil || env.Error == nil {
		t.Fatalf("Expected failure envelope, got %+v (err=%v)", env, err)
	}
	if env.Error.Code.String() != "DUPLICATE_SOURCE" {
		t.Errorf("Expected backend code verbatim, got %s", env.Error.Code.String())
	}
	if env.Error.Path != "/data-sources" {
		t.Errorf("Expected backend path verbatim, got %s", env.Error.Path)
	}
	if env.Error.Details["name"] != "maersk-feed" {
		t.Errorf("Expected backend details verbatim, got %+v", env.Error.Details)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Type != ErrorTypeConflict {
		t.Errorf("Expected conflict error, got %v", err)
	}
}

func TestSendSynthesizesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	env, err := client.Get(context.Background(), "/admin", nil)

	if env == nil || env.Error == nil {
		t.Fatal("Expected failure envelope")
	}
	if status, ok := env.Error.Code.Status(); !ok || status != 403 {
		t.Errorf("Expected code 403, got %v", env.Error.Code)
	}
	if env.Error.Message != http.StatusText(http.StatusForbidden) {
		t.Errorf("Expected status text message, got %q", env.Error.Message)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Type != ErrorTypeAuthorization {
		t.Errorf("Expected authorization error, got %v", err)
	}
}

func TestSendNetworkErrorDescriptor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening

	client := newTestClient(server.URL, WithMaxRetries(0))
	env, err := client.Get(context.Background(), "/anything", nil)

	if env == nil || env.Error == nil {
		t.Fatal("Expected synthesized failure envelope")
	}
	if env.Error.Code.String() != "NETWORK_ERROR" {
		t.Errorf("Expected NETWORK_ERROR code, got %s", env.Error.Code.String())
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Type != ErrorTypeNetwork {
		t.Errorf("Expected network_error, got %s", apiErr.Type)
	}
	if apiErr.Unwrap() == nil {
		t.Error("Expected transport cause preserved")
	}
}

func TestSendRetriesNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(server.URL, WithMaxRetries(2), WithoutCircuitBreaker())
	start := time.Now()
	_, err := client.Get(context.Background(), "/anything", nil)
	if err == nil {
		t.Fatal("Expected error")
	}

	apiErr := err.(*APIError)
	if apiErr.Attempt != 2 {
		t.Errorf("Expected failure surfaced on attempt 2, got %d", apiErr.Attempt)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Retries took too long: %v", elapsed)
	}
}

func TestSendCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Get(ctx, "/slow", nil)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T (%v)", err, err)
	}
	if apiErr.Type != ErrorTypeNetwork && apiErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected network/timeout classification for canceled call, got %s", apiErr.Type)
	}
}

func TestSendPerCallHeadersAndBody(t *testing.T) {
	var gotHeader, gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Tenant")
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 9}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithDefaultHeader("X-Tenant", "default"))
	env, err := client.Send(context.Background(), RequestSpec{
		Method: http.MethodPost,
		Path:   "/reports",
		Body:   map[string]any{"name": "Weekly rates"},
		Header: http.Header{"X-Tenant": {"acme"}},
	})
	if err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}

	if !env.Success {
		t.Error("Expected success for 201")
	}
	if gotHeader != "acme" {
		t.Errorf("Expected per-call header override, got %q", gotHeader)
	}
	if gotContentType != "application/json" {
		t.Errorf("Expected JSON content type, got %q", gotContentType)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(gotBody), &decoded); err != nil || decoded["name"] != "Weekly rates" {
		t.Errorf("Expected JSON body, got %q", gotBody)
	}
}

func TestUploadBypassesJSONEncoding(t *testing.T) {
	var gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"stored": true}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Upload(context.Background(), "/data-sources/7/files", "text/csv", strings.NewReader("route,rate\nSHA-RTM,1450\n"))
	if err != nil {
		t.Fatalf("Upload() returned error: %v", err)
	}

	if gotContentType != "text/csv" {
		t.Errorf("Expected text/csv, got %q", gotContentType)
	}
	if !strings.HasPrefix(gotBody, "route,rate") {
		t.Errorf("Expected raw CSV body, got %q", gotBody)
	}
}

func TestSendCachesGetEnvelopes(t *testing.T) {
	var dispatches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatches, 1)
		_, _ = w.Write([]byte(`{"rates":[1450]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithCache(time.Minute))
	for i := 0; i < 3; i++ {
		env, err := client.Get(context.Background(), "/price-movements", nil)
		if err != nil || !env.Success {
			t.Fatalf("Get() %d failed: %v", i, err)
		}
	}

	if got := atomic.LoadInt64(&dispatches); got != 1 {
		t.Errorf("Expected 1 upstream dispatch with cache, got %d", got)
	}
}

func TestSendCacheControlDisablesCaching(t *testing.T) {
	var dispatches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatches, 1)
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithCache(time.Minute))
	ctx := WithCacheControl(context.Background(), CacheControl{Enabled: false})
	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, "/volatile", nil); err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
	}

	if got := atomic.LoadInt64(&dispatches); got != 2 {
		t.Errorf("Expected cache bypass, got %d dispatches", got)
	}
}

func TestSendDeduplicatesConcurrentGets(t *testing.T) {
	var dispatches int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatches, 1)
		<-release
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithDeduplication())

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			env, err := client.Get(context.Background(), "/quotes", nil)
			if err == nil && !env.Success {
				err = errEnvelopeNotSuccess
			}
			results <- err
		}()
	}

	// Let all three goroutines reach the pipeline before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		if err := <-results; err != nil {
			t.Errorf("concurrent Get() failed: %v", err)
		}
	}
	if got := atomic.LoadInt64(&dispatches); got != 1 {
		t.Errorf("Expected 1 dispatch for coalesced GETs, got %d", got)
	}
}

var errEnvelopeNotSuccess = &APIError{Type: ErrorTypeUnknown, Descriptor: &ErrorDescriptor{Message: "envelope not success"}}

func TestSendFailureEnvelopeOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"data":null,"error":null,"meta":null}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	env, err := client.Get(context.Background(), "/quotes/77", nil)

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError for failure envelope on 200, got %T", err)
	}
	if apiErr.Descriptor == nil {
		t.Error("Expected descriptor on the error")
	}
	if env == nil {
		t.Fatal("Expected envelope alongside the error")
	}
	if env.Success {
		t.Error("Expected failure envelope")
	}
	if env.Error == nil {
		t.Error("Expected synthesized error descriptor")
	}
	if apiErr.StatusCode != http.StatusOK {
		t.Errorf("Expected transport status 200 on the error, got %d", apiErr.StatusCode)
	}
}

func TestSendCircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL,
		WithMaxRetries(0),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour, SuccessThreshold: 1}),
	)

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "/flaky", nil); err == nil {
			t.Fatal("Expected error from 500")
		}
	}

	_, err := client.Get(context.Background(), "/flaky", nil)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Type != ErrorTypeCircuitOpen {
		t.Fatalf("Expected circuit_open, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("Expected circuit_open to be transient")
	}
}

func TestSendRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithRateLimiter(1, time.Hour))

	if _, err := client.Get(context.Background(), "/a", nil); err != nil {
		t.Fatalf("First call should pass: %v", err)
	}
	_, err := client.Get(context.Background(), "/a", nil)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Type != ErrorTypeRateLimit {
		t.Fatalf("Expected rate_limited, got %v", err)
	}
}

func TestSendInterceptorChainOrder(t *testing.T) {
	var order []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	first := func(req *http.Request, next RoundTripper) (*http.Response, error) {
		order = append(order, "first")
		return next.RoundTrip(req)
	}
	second := func(req *http.Request, next RoundTripper) (*http.Response, error) {
		order = append(order, "second")
		return next.RoundTrip(req)
	}

	client := newTestClient(server.URL, WithInterceptors(first, second))
	if _, err := client.Get(context.Background(), "/x", nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected interceptors in registration order, got %v", order)
	}
}

func TestValidateConfiguration(t *testing.T) {
	client := New(WithMaxRetries(-1), WithBaseURL("http://x"))
	if client.IsValid() {
		t.Error("Expected invalid configuration for negative maxRetries")
	}

	client = New(WithBaseURL("http://x"), WithDebug())
	if client.IsValid() {
		t.Error("Expected invalid configuration for debug without logger")
	}

	client = New(WithBaseURL("http://x"), WithSimpleLogger())
	if !client.IsValid() {
		t.Errorf("Expected valid configuration, got %v", client.ValidationError())
	}
}

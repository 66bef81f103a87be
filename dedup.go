package muatan

import (
	"context"
	"hash/fnv"
	"net/http"
	"strconv"
	"sync"
)

// DedupEntry is an in-flight call whose outcome is shared between the owner
// and any callers that arrived while it was pending.
type DedupEntry struct {
	env  *Envelope
	err  error
	done chan struct{}
}

// Wait blocks until the owning call completes or the caller's context is
// canceled.
func (e *DedupEntry) Wait(ctx context.Context) (*Envelope, error) {
	select {
	case <-e.done:
		return e.env, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DedupTracker coalesces identical concurrent read calls: the first caller
// dispatches, the rest wait for its outcome.
type DedupTracker struct {
	mu      sync.Mutex
	entries map[string]*DedupEntry
}

// NewDedupTracker returns an empty tracker.
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{entries: make(map[string]*DedupEntry)}
}

// GetOrCreate returns the entry for key. The second return is true when the
// caller created the entry and therefore owns the dispatch.
func (dt *DedupTracker) GetOrCreate(key string) (*DedupEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		return entry, false
	}
	entry := &DedupEntry{done: make(chan struct{})}
	dt.entries[key] = entry
	return entry, true
}

// Complete publishes the outcome and releases waiters. The entry is removed
// so later identical calls dispatch fresh.
func (dt *DedupTracker) Complete(key string, env *Envelope, err error) {
	dt.mu.Lock()
	entry, exists := dt.entries[key]
	delete(dt.entries, key)
	dt.mu.Unlock()

	if !exists {
		return
	}
	entry.env = env
	entry.err = err
	close(entry.done)
}

// DefaultDedupKeyFunc hashes method and URL.
func DefaultDedupKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	if req.URL != nil {
		h.Write([]byte(req.URL.String()))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// DefaultDedupCondition coalesces GET calls only.
func DefaultDedupCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

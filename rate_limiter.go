package muatan

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket used to throttle outbound calls
// client-side (search-as-you-type surfaces can hammer listing endpoints).
type RateLimiter struct {
	tokens     int64
	maxTokens  int64
	refillRate time.Duration
	lastRefill int64
}

// NewRateLimiter creates a bucket holding maxTokens, refilling one token per
// refillRate interval.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		maxTokens:  int64(maxTokens),
		tokens:     int64(maxTokens),
		refillRate: refillRate,
		lastRefill: time.Now().UnixNano(),
	}
}

// Allow consumes a token, refilling first. Returns false when the bucket is
// empty.
func (rl *RateLimiter) Allow() bool {
	rl.refill()
	return rl.consume()
}

// Tokens reports the currently available tokens.
func (rl *RateLimiter) Tokens() int {
	return int(atomic.LoadInt64(&rl.tokens))
}

func (rl *RateLimiter) refill() {
	now := time.Now().UnixNano()

	for {
		current := atomic.LoadInt64(&rl.tokens)
		lastRefill := atomic.LoadInt64(&rl.lastRefill)

		elapsed := now - lastRefill
		var toAdd int64
		if rl.refillRate > 0 {
			toAdd = elapsed / int64(rl.refillRate)
		}
		if toAdd == 0 {
			return
		}

		next := current + toAdd
		if next > rl.maxTokens {
			next = rl.maxTokens
		}
		newLastRefill := lastRefill + toAdd*int64(rl.refillRate)

		if !atomic.CompareAndSwapInt64(&rl.lastRefill, lastRefill, newLastRefill) {
			continue
		}
		atomic.StoreInt64(&rl.tokens, next)
		return
	}
}

func (rl *RateLimiter) consume() bool {
	for {
		current := atomic.LoadInt64(&rl.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&rl.tokens, current, current-1) {
			return true
		}
	}
}

// ratelimit.go implements token-bucket rate limiting for the Kraken Spot API.
//
// Kraken meters private endpoints with a decaying call counter rather than
// a fixed per-window quota, but a continuously-refilling token bucket is an
// simpler approximation: every call takes one token, whatever the endpoint,
// and the bucket refills at Kraken's published decay rate for the Starter
// tier (-0.33/sec private, public endpoints unmetered per-key).
//
// Two buckets are maintained:
//   - Private: 15 burst / 0.33 per sec — trading + account endpoints
//   - Ticker:  20 burst / 1 per sec    — public ticker/orderbook reads, used
//     by the Price Provider's REST fallback and batch warm
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by Kraken API endpoint category. Each
// call must invoke the appropriate bucket's Wait() before the HTTP request.
type RateLimiter struct {
	Private *TokenBucket // AddOrder, CancelOrder, Balance, (Open|Closed|Query)Orders
	Ticker  *TokenBucket // public Ticker reads
}

// NewRateLimiter creates rate limiters tuned to Kraken's published Starter
// tier limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Private: NewTokenBucket(15, 0.33),
		Ticker:  NewTokenBucket(20, 1),
	}
}

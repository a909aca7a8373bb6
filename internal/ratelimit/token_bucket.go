// Package ratelimit bounds how fast a single client may drive the gateway.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at fillRate tokens/sec up to capacityTokens. Time is
// read from the provided Clock so tests can drive it deterministically.
//
// A bucket with zero capacity or zero rate never admits anything; callers
// that want no limit should not construct one.
type TokenBucket struct {
	clock   Clock
	limiter *rate.Limiter
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	lim := rate.NewLimiter(rate.Limit(fillRate), int(capacityTokens))
	// rate.Limiter starts full; anchor it at the clock's notion of now.
	lim.SetBurstAt(clock.Now(), int(capacityTokens))
	return &TokenBucket{clock: clock, limiter: lim}
}

// PerSecond is a bucket admitting n events per second with a burst of n.
func PerSecond(clock Clock, n int) *TokenBucket {
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	return b.limiter.AllowN(b.clock.Now(), int(tokens))
}

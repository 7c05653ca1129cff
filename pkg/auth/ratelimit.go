package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// keyLimiters tracks one read and one write token bucket per API key,
// refilled at the key's configured per-minute rate. Buckets are created
// lazily and never expire; a process restart resets everybody's
// allowance, which spec §4.6 treats as acceptable since limits are a
// cooperative guard against runaway clients, not a security boundary.
type keyLimiters struct {
	mu     sync.Mutex
	read   map[int64]*rate.Limiter
	write  map[int64]*rate.Limiter
}

func newKeyLimiters() *keyLimiters {
	return &keyLimiters{
		read:  make(map[int64]*rate.Limiter),
		write: make(map[int64]*rate.Limiter),
	}
}

func perMinuteLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		rpm = 60
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
}

// AllowRead reports whether apiKeyID's read bucket has a token to spend,
// creating the bucket from readRPM on first use.
func (k *keyLimiters) AllowRead(apiKeyID int64, readRPM int) bool {
	k.mu.Lock()
	l, ok := k.read[apiKeyID]
	if !ok {
		l = perMinuteLimiter(readRPM)
		k.read[apiKeyID] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// AllowWrite reports whether apiKeyID's write bucket has a token to
// spend, creating the bucket from writeRPM on first use.
func (k *keyLimiters) AllowWrite(apiKeyID int64, writeRPM int) bool {
	k.mu.Lock()
	l, ok := k.write[apiKeyID]
	if !ok {
		l = perMinuteLimiter(writeRPM)
		k.write[apiKeyID] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// Forget drops both buckets for apiKeyID, used when a key is revoked or
// rotated so a future reuse of the id (there isn't one, ids are never
// recycled) or a stale goroutine can't hold state past the key's life.
func (k *keyLimiters) Forget(apiKeyID int64) {
	k.mu.Lock()
	delete(k.read, apiKeyID)
	delete(k.write, apiKeyID)
	k.mu.Unlock()
}

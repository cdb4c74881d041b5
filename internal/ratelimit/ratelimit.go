// Package ratelimit throttles mutating requests per client identity.
package ratelimit

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrThrottled = errors.New("too many requests")

const (
	DefaultBurst  = 20
	DefaultRefill = time.Second
)

// Limiter decides whether identity may perform one more operation now.
type Limiter interface {
	Allow(identity string) bool
}

// TokenBucket keeps one bucket per identity. Buckets start full. A bucket idle
// for burst*refill has refilled completely and is dropped on the next sweep.
type TokenBucket struct {
	burst     int
	every     rate.Limit
	idle      time.Duration
	now       func() time.Time
	mu        sync.Mutex
	bucket    map[string]*entry
	lastSweep time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewTokenBucket refills one token per refill interval up to burst tokens.
func NewTokenBucket(burst int, refill time.Duration) *TokenBucket {
	if burst <= 0 {
		burst = DefaultBurst
	}
	if refill <= 0 {
		refill = DefaultRefill
	}
	return &TokenBucket{
		burst:  burst,
		every:  rate.Every(refill),
		idle:   time.Duration(burst) * refill,
		now:    time.Now,
		bucket: map[string]*entry{},
	}
}

func (b *TokenBucket) Allow(identity string) bool {
	if identity == "" {
		identity = "unknown"
	}
	b.mu.Lock()
	now := b.now()
	if now.Sub(b.lastSweep) >= b.idle {
		b.sweep(now)
	}
	ent, ok := b.bucket[identity]
	if !ok {
		ent = &entry{lim: rate.NewLimiter(b.every, b.burst)}
		b.bucket[identity] = ent
	}
	ent.seen = now
	b.mu.Unlock()
	return ent.lim.AllowN(now, 1)
}

// Len reports how many identities currently hold a bucket.
func (b *TokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bucket)
}

// sweep must be called with b.mu held.
func (b *TokenBucket) sweep(now time.Time) {
	for id, ent := range b.bucket {
		if now.Sub(ent.seen) >= b.idle {
			delete(b.bucket, id)
		}
	}
	b.lastSweep = now
}

// Unlimited allows everything; used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(string) bool { return true }

// Identity returns the first X-Forwarded-For entry, else the remote host, else "unknown".
func Identity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

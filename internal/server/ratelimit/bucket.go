package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// bucketLimiter is a token bucket per key. Buckets live in an LRU so the
// tracked set stays bounded without a sweeper goroutine; an evicted client
// simply starts again with a full bucket.
type bucketLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *tokenBucket]
	config  Config
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewBucketLimiter creates an in-memory token bucket limiter.
func NewBucketLimiter(cfg Config) Limiter {
	size := cfg.MaxClients
	if size <= 0 {
		size = DefaultConfig().MaxClients
	}
	cache, _ := lru.New[string, *tokenBucket](size)
	return &bucketLimiter{
		buckets: cache,
		config:  cfg,
		now:     time.Now,
	}
}

func (l *bucketLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.config.Requests)

	b, ok := l.buckets.Get(key)
	if !ok {
		l.buckets.Add(key, &tokenBucket{tokens: capacity - 1, lastUpdate: now})
		return true
	}

	fillRate := capacity / l.config.Window.Seconds()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = min(capacity, b.tokens+elapsed*fillRate)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (l *bucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
}

// tracked returns the number of buckets currently held.
func (l *bucketLimiter) tracked() int {
	return l.buckets.Len()
}

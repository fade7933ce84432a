package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// Decision is the outcome of a consumption attempt. Exhaustion is a normal
// result, not an error; callers branch on Allowed.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Config tunes a Limiter. The bucket refills its full capacity once per
// RefillInterval, accruing continuously.
type Config struct {
	Capacity       int64
	RefillInterval time.Duration
	Shards         int
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is a sharded in-process token-bucket registry keyed by arbitrary
// strings. Buckets are created lazily on first use and pruned via Prune.
type Limiter struct {
	capacity       float64
	refillInterval time.Duration
	shards         []*shard

	now func() time.Time
}

// New constructs a Limiter from config, applying defaults for zero values.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 60
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Minute
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[string]*bucket)}
	}

	return &Limiter{
		capacity:       float64(cfg.Capacity),
		refillInterval: cfg.RefillInterval,
		shards:         shards,
		now:            time.Now,
	}
}

// TryConsume atomically takes cost tokens from the bucket for key, creating a
// full bucket on first use. Unrelated keys never contend: only the owning
// shard is locked, and only for the duration of the bucket update.
func (l *Limiter) TryConsume(key string, cost int64) Decision {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		s.buckets[key] = b
	}
	b.lastSeen = now

	l.refill(b, now)

	c := float64(cost)
	if b.tokens >= c {
		b.tokens -= c
		return Decision{Allowed: true, Remaining: int64(b.tokens)}
	}

	deficit := c - b.tokens
	wait := time.Duration(deficit / l.capacity * float64(l.refillInterval))
	if wait <= 0 {
		wait = time.Nanosecond
	}
	return Decision{Allowed: false, Remaining: int64(b.tokens), RetryAfter: wait}
}

// Prune drops buckets idle for longer than maxIdle and returns how many were
// removed. Bounds the registry; intended to run from a background sweep.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(s.buckets, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live buckets across all shards.
func (l *Limiter) Len() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.buckets)
		s.mu.Unlock()
	}
	return total
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / l.refillInterval.Seconds() * l.capacity
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.lastRefill = now
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[int(h.Sum32())%len(l.shards)]
}

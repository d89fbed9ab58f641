package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Store persists token bucket state per key.
type Store interface {
	// ConsumeTokens refills the bucket for the elapsed time, then removes
	// the requested tokens if the bucket holds enough. A denied request
	// leaves the bucket untouched and reports a negative remaining count,
	// so hammering a drained key cannot extend its own lockout.
	ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config) (remaining int, resetAt time.Time, err error)

	// Reset clears the state for the given key.
	Reset(ctx context.Context, key string) error
}

type bucketState struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

// MemoryStore keeps bucket state in process memory. Stale buckets are swept
// by a background goroutine until Close is called.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketState

	sweepInterval time.Duration
	stopSweep     chan struct{}
	closeOnce     sync.Once
}

// NewMemoryStore creates an in-memory store. A sweepInterval of 0 disables
// the background sweep.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	ms := &MemoryStore{
		buckets:       make(map[string]*bucketState),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
	}
	if ms.sweepInterval > 0 {
		go ms.sweep()
	}
	return ms
}

func (ms *MemoryStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config) (int, time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	b, ok := ms.buckets[key]
	if !ok {
		b = &bucketState{tokens: cfg.Capacity, lastRefill: now}
		ms.buckets[key] = b
	}

	// Cap the interval count so a bucket untouched for a long time cannot
	// overflow the token arithmetic.
	elapsed := now.Sub(b.lastRefill)
	maxIntervals := int64(cfg.Capacity/cfg.RefillRate + 1)
	intervals := int(min(int64(elapsed/cfg.RefillInterval), maxIntervals))
	if intervals > 0 {
		b.tokens = min(b.tokens+intervals*cfg.RefillRate, cfg.Capacity)
		b.lastRefill = now
	}

	b.lastAccess = now
	if b.tokens < tokens {
		return -1, b.lastRefill.Add(cfg.RefillInterval), nil
	}
	b.tokens -= tokens

	return b.tokens, b.lastRefill.Add(cfg.RefillInterval), nil
}

func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.buckets, key)
	return nil
}

func (ms *MemoryStore) sweep() {
	ticker := time.NewTicker(ms.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ms.removeStale(time.Hour)
		case <-ms.stopSweep:
			return
		}
	}
}

func (ms *MemoryStore) removeStale(threshold time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	now := time.Now()
	for key, b := range ms.buckets {
		if now.Sub(b.lastAccess) > threshold {
			delete(ms.buckets, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (ms *MemoryStore) Close() {
	ms.closeOnce.Do(func() { close(ms.stopSweep) })
}

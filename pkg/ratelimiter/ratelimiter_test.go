package ratelimiter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingd/pkg/ratelimiter"
)

func newBucket(t *testing.T, cfg ratelimiter.Config) *ratelimiter.Bucket {
	t.Helper()
	store := ratelimiter.NewMemoryStore(0)
	t.Cleanup(store.Close)
	b, err := ratelimiter.NewBucket(store, cfg)
	require.NoError(t, err)
	return b
}

func TestBucketConfigValidation(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(0)
	t.Cleanup(store.Close)

	tests := []struct {
		name string
		cfg  ratelimiter.Config
	}{
		{"zero capacity", ratelimiter.Config{RefillRate: 1, RefillInterval: time.Second}},
		{"zero refill rate", ratelimiter.Config{Capacity: 5, RefillInterval: time.Second}},
		{"zero refill interval", ratelimiter.Config{Capacity: 5, RefillRate: 1}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ratelimiter.NewBucket(store, tc.cfg)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}
}

func TestBucketAllow(t *testing.T) {
	t.Parallel()

	t.Run("denies once capacity is exhausted", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Hour})

		for i := 0; i < 3; i++ {
			res, err := b.Allow(context.Background(), "key")
			require.NoError(t, err)
			assert.True(t, res.Allowed())
		}

		res, err := b.Allow(context.Background(), "key")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Positive(t, res.RetryAfter())
	})

	t.Run("keys are isolated", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})

		res, err := b.Allow(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed())

		res, err = b.Allow(context.Background(), "alice")
		require.NoError(t, err)
		assert.False(t, res.Allowed())

		res, err = b.Allow(context.Background(), "bob")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("refills over time", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: 20 * time.Millisecond})

		res, err := b.Allow(context.Background(), "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed())

		res, err = b.Allow(context.Background(), "key")
		require.NoError(t, err)
		assert.False(t, res.Allowed())

		time.Sleep(30 * time.Millisecond)

		res, err = b.Allow(context.Background(), "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("denied requests do not drain the bucket further", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 2, RefillRate: 2, RefillInterval: 25 * time.Millisecond})

		for i := 0; i < 2; i++ {
			res, err := b.Allow(context.Background(), "key")
			require.NoError(t, err)
			require.True(t, res.Allowed())
		}

		// Hammering the drained bucket must leave it untouched, so one
		// refill interval is enough to let the next request through.
		for i := 0; i < 10; i++ {
			res, err := b.Allow(context.Background(), "key")
			require.NoError(t, err)
			require.False(t, res.Allowed())
		}

		time.Sleep(35 * time.Millisecond)

		res, err := b.Allow(context.Background(), "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("reset restores capacity", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})

		_, err := b.Allow(context.Background(), "key")
		require.NoError(t, err)
		require.NoError(t, b.Reset(context.Background(), "key"))

		res, err := b.Allow(context.Background(), "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("rejects non-positive token counts", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
		_, err := b.AllowN(context.Background(), "key", 0)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	byHeader := func(r *http.Request) string { return r.Header.Get("X-User") }

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("limits per key and sets headers", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
		h := ratelimiter.Middleware(b, byHeader)(okHandler)

		for i := 0; i < 2; i++ {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("X-User", "u1")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		}

		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-User", "u1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("empty key bypasses the limiter", func(t *testing.T) {
		t.Parallel()

		b := newBucket(t, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
		h := ratelimiter.Middleware(b, byHeader)(okHandler)

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}

package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := New(NewMemoryStore(), limit, window, WithClock(func() time.Time { return now }))
	return limiter, &now
}

func TestLimiterAllowsWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiterIsolatesClients(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestLimiterResetsOnNewWindow(t *testing.T) {
	limiter, now := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	blocked, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	*now = now.Add(time.Minute)
	fresh, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Increment(ctx, "stale", base)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "fresh", base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	require.NoError(t, store.Cleanup(ctx, base.Add(time.Minute)))
	assert.Equal(t, 1, store.Len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "remote addr host", remoteAddr: "10.1.2.3:5432", want: "10.1.2.3"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9", want: "203.0.113.9"},
		{name: "forwarded chain keeps first hop", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9, 10.0.0.2", want: "203.0.113.9"},
		{name: "unparseable remote addr", remoteAddr: "bogus", want: "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

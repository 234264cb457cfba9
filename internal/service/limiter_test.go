package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
	"admission-control/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLimiter(store domain.KeyValueStore, clock *testClock, policy domain.RateLimitPolicy) *SlidingWindowService {
	security := testSecurityConfig()
	security.RateLimits[domain.CategoryAPI] = policy
	return NewSlidingWindowService(store, security, newMockLogger(), nil, clock.Now)
}

func TestSlidingWindow_ConcreteScenario(t *testing.T) {
	// Arrange
	ctx := context.Background()
	clock := newTestClock(epoch)
	limiter := newLimiter(newTestStore(), clock, domain.RateLimitPolicy{WindowMs: 60000, Max: 10})
	t0 := epoch.UnixMilli()

	// Act + Assert: dez chamadas em t=0
	for i := 0; i < 10; i++ {
		result, err := limiter.CheckAndRecord(ctx, "10.0.0.1", domain.CategoryAPI)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "call %d", i+1)
		assert.Equal(t, 9-i, result.Remaining)
		assert.Equal(t, t0+60000, result.ResetTime.UnixMilli())
	}

	// 11ª chamada em t=500
	clock.Set(epoch.Add(500 * time.Millisecond))
	result, err := limiter.CheckAndRecord(ctx, "10.0.0.1", domain.CategoryAPI)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, t0+60000, result.ResetTime.UnixMilli())

	// t=60001: todas as entradas de t=0 expiraram
	clock.Set(epoch.Add(60001 * time.Millisecond))
	result, err = limiter.CheckAndRecord(ctx, "10.0.0.1", domain.CategoryAPI)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 9, result.Remaining)
}

func TestSlidingWindow_FirstMAllowedThenDenied(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		windowMs int64
	}{
		{name: "Single slot", max: 1, windowMs: 1000},
		{name: "Small window", max: 3, windowMs: 250},
		{name: "Large window", max: 25, windowMs: 3600000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock(epoch)
			limiter := newLimiter(newTestStore(), clock, domain.RateLimitPolicy{WindowMs: tt.windowMs, Max: tt.max})

			var first time.Time
			for i := 0; i < tt.max; i++ {
				result, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
				require.NoError(t, err)
				require.True(t, result.Allowed)
				if i == 0 {
					first = clock.Now()
				}
				clock.Advance(time.Duration(tt.windowMs/int64(tt.max*2)) * time.Millisecond)
			}

			denied, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
			require.NoError(t, err)
			assert.False(t, denied.Allowed)
			assert.Equal(t, first.UnixMilli()+tt.windowMs, denied.ResetTime.UnixMilli())

			clock.Set(denied.ResetTime)
			result, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
		})
	}
}

func TestSlidingWindow_BoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(epoch)
	limiter := newLimiter(newTestStore(), clock, domain.RateLimitPolicy{WindowMs: 1000, Max: 1})

	result, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	// timestamp == now - windowMs conta como expirado
	clock.Advance(time.Second)
	result, err = limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestSlidingWindow_DenialPersistsPrunedSequence(t *testing.T) {
	// Arrange
	ctx := context.Background()
	clock := newTestClock(epoch)
	store := newTestStore()
	limiter := newLimiter(store, clock, domain.RateLimitPolicy{WindowMs: 60000, Max: 2})
	now := epoch.UnixMilli()
	path := storage.RateLimitPath("caller", domain.CategoryAPI)

	stale := fmt.Sprintf(`{"timestamps":[%d,%d,%d,%d]}`, now-600000, now-60000, now-10, now-5)
	require.NoError(t, store.Set(ctx, path, []byte(stale)))

	// Act
	result, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)

	// Assert
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, now-10+60000, result.ResetTime.UnixMilli())

	raw, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"timestamps":[%d,%d]}`, now-10, now-5), string(raw))
}

func TestSlidingWindow_ConcurrentCallersNeverExceedMax(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(epoch)
	limiter := newLimiter(newTestStore(), clock, domain.RateLimitPolicy{WindowMs: 60000, Max: 10})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.CheckAndRecord(ctx, "burst", domain.CategoryAPI)
			if assert.NoError(t, err) && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
}

func TestSlidingWindow_IdentifiersAndCategoriesAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(epoch)
	security := testSecurityConfig()
	security.RateLimits[domain.CategoryAPI] = domain.RateLimitPolicy{WindowMs: 60000, Max: 1}
	security.RateLimits[domain.CategoryMessages] = domain.RateLimitPolicy{WindowMs: 60000, Max: 1}
	limiter := NewSlidingWindowService(newTestStore(), security, newMockLogger(), nil, clock.Now)

	for _, call := range []struct {
		identifier string
		category   domain.Category
	}{
		{"a", domain.CategoryAPI},
		{"b", domain.CategoryAPI},
		{"a", domain.CategoryMessages},
		{"a/b", domain.CategoryAPI},
	} {
		result, err := limiter.CheckAndRecord(ctx, call.identifier, call.category)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "%s/%s", call.identifier, call.category)
	}
}

func TestSlidingWindow_InvalidRequests(t *testing.T) {
	limiter := newLimiter(newTestStore(), newTestClock(epoch), domain.RateLimitPolicy{WindowMs: 1000, Max: 1})

	_, err := limiter.CheckAndRecord(context.Background(), "", domain.CategoryAPI)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = limiter.CheckAndRecord(context.Background(), "caller", domain.Category("uploads"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSlidingWindow_StoreFailure(t *testing.T) {
	store := new(MockStore)
	outage := fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	store.On("Update", mock.Anything, "rateLimits/caller/api", mock.Anything).Return(nil, outage)

	limiter := newLimiter(store, newTestClock(epoch), domain.RateLimitPolicy{WindowMs: 1000, Max: 1})

	result, err := limiter.CheckAndRecord(context.Background(), "caller", domain.CategoryAPI)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	store.AssertExpectations(t)
}

func TestSlidingWindow_StatusAndReset(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(epoch)
	m := metrics.New()
	security := testSecurityConfig()
	security.RateLimits[domain.CategoryAPI] = domain.RateLimitPolicy{WindowMs: 60000, Max: 3}
	limiter := NewSlidingWindowService(newTestStore(), security, newMockLogger(), m, clock.Now)

	status, err := limiter.Status(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Count)
	assert.Equal(t, 3, status.Limit)

	for i := 0; i < 4; i++ {
		_, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	status, err = limiter.Status(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Count)
	assert.Equal(t, epoch.UnixMilli()+60000, status.ResetTime.UnixMilli())

	// Status é somente leitura
	again, err := limiter.Status(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	assert.Equal(t, status, again)

	require.NoError(t, limiter.Reset(ctx, "caller", domain.CategoryAPI))
	result, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 2, result.Remaining)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.RateDecisions.WithLabelValues("api", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateDecisions.WithLabelValues("api", "denied")))
}

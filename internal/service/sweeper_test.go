package service

import (
	"context"
	"fmt"
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

func TestRetentionSweeper_RemovesOnlyExpiredEntries(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStore()
	clock := newTestClock(epoch)
	now := epoch.UnixMilli()
	day := RetentionWindow.Milliseconds()

	mixed := storage.RateLimitPath("mixed", domain.CategoryAPI)
	expired := storage.RateLimitPath("gone", domain.CategoryAgents)
	fresh := storage.RateLimitPath("fresh", domain.CategoryMessages)
	require.NoError(t, store.Set(ctx, mixed, []byte(fmt.Sprintf(`{"timestamps":[%d,%d,%d]}`, now-day-1, now-day, now-day+1))))
	require.NoError(t, store.Set(ctx, expired, []byte(fmt.Sprintf(`{"timestamps":[%d]}`, now-2*day))))
	freshValue := []byte(fmt.Sprintf(`{"timestamps":[%d,%d]}`, now-1000, now))
	require.NoError(t, store.Set(ctx, fresh, freshValue))

	monitor := newMonitor(store, new(MockDispatcher), clock, 100)
	clock.Set(epoch.Add(-25 * time.Hour))
	_, err := monitor.RecordSuspiciousActivity(ctx, "old", "probe", reportMetadata())
	require.NoError(t, err)
	clock.Set(epoch.Add(-time.Hour))
	_, err = monitor.RecordSuspiciousActivity(ctx, "old", "probe", reportMetadata())
	require.NoError(t, err)
	clock.Set(epoch)

	monitoring := NewMonitoringService(store, newMockLogger(), func() time.Time { return epoch.Add(-48 * time.Hour) })
	require.NoError(t, monitoring.EnableMonitoring(ctx, "expired-marker", MonitoringDuration))
	active := NewMonitoringService(store, newMockLogger(), clock.Now)
	require.NoError(t, active.EnableMonitoring(ctx, "active-marker", MonitoringDuration))

	m := metrics.New()
	sweeper := NewRetentionSweeper(store, newMockLogger(), m, clock.Now)

	// Act
	report, err := sweeper.Sweep(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, &domain.SweepReport{
		RateEntriesScanned: 3,
		TimestampsRemoved:  3,
		RateEntriesDeleted: 1,
		ActivitiesRemoved:  1,
		MonitoringRemoved:  1,
	}, report)

	raw, err := store.Get(ctx, mixed)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"timestamps":[%d]}`, now-day+1), string(raw))

	raw, err = store.Get(ctx, expired)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = store.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, freshValue, raw)

	recent, err := store.Scan(ctx, storage.SuspiciousPath("old")+"/")
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	monitored, err := active.IsMonitored(ctx, "active-marker")
	require.NoError(t, err)
	assert.True(t, monitored)
	gone, err := store.Get(ctx, storage.MonitoringPath("expired-marker"))
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepRemoved.WithLabelValues("rate_timestamps")))
}

func TestRetentionSweeper_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	clock := newTestClock(epoch)
	limiter := newLimiter(store, clock, domain.RateLimitPolicy{WindowMs: 60000, Max: 5})

	for i := 0; i < 3; i++ {
		_, err := limiter.CheckAndRecord(ctx, "caller", domain.CategoryAPI)
		require.NoError(t, err)
	}

	sweeper := NewRetentionSweeper(store, newMockLogger(), nil, clock.Now)
	for i := 0; i < 3; i++ {
		report, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.TimestampsRemoved)
	}

	status, err := limiter.Status(ctx, "caller", domain.CategoryAPI)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Count)
}

func TestRetentionSweeper_ScanFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Scan", mock.Anything, storage.RateLimitsPrefix).Return(nil, domain.ErrStoreUnavailable)

	sweeper := NewRetentionSweeper(store, newMockLogger(), nil, newTestClock(epoch).Now)

	report, err := sweeper.Sweep(context.Background())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRetentionSweeper_SweepQuotaBuckets(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	clock := newTestClock(epoch)

	oldHour := storage.QuotaBucketPath("agent", domain.PeriodHourly, HourStart(epoch.Add(-72*time.Hour)))
	recentHour := storage.QuotaBucketPath("agent", domain.PeriodHourly, HourStart(epoch.Add(-time.Hour)))
	oldDay := storage.QuotaBucketPath("agent", domain.PeriodDaily, DayStart(epoch.Add(-96*time.Hour)))
	today := storage.QuotaBucketPath("agent", domain.PeriodDaily, DayStart(epoch))
	for _, path := range []string{oldHour, recentHour, oldDay, today} {
		require.NoError(t, store.Set(ctx, path, []byte(`{"cost":1}`)))
	}

	sweeper := NewRetentionSweeper(store, newMockLogger(), nil, clock.Now)

	removed, err := sweeper.SweepQuotaBuckets(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = sweeper.SweepQuotaBuckets(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	remaining, err := store.Scan(ctx, storage.TokenUsagePrefix)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	assert.Contains(t, remaining, recentHour)
	assert.Contains(t, remaining, today)
}

func TestRetentionSweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewRetentionSweeper(newTestStore(), newMockLogger(), nil, nil)

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, 5*time.Millisecond, 0)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestRetentionSweeper_LongestWindowSurvivesSweep(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStore()
	clock := newTestClock(epoch)
	security := testSecurityConfig()
	security.RateLimits[domain.CategoryAPI] = domain.RateLimitPolicy{WindowMs: domain.MaxRateWindow.Milliseconds(), Max: 1}
	limiter := NewSlidingWindowService(store, security, newMockLogger(), nil, clock.Now)
	sweeper := NewRetentionSweeper(store, newMockLogger(), nil, clock.Now)

	first, err := limiter.CheckAndRecord(ctx, "10.0.0.1", domain.CategoryAPI)
	require.NoError(t, err)
	require.True(t, first.Allowed)

	// Act
	clock.Advance(23 * time.Hour)
	_, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	second, err := limiter.CheckAndRecord(ctx, "10.0.0.1", domain.CategoryAPI)

	// Assert
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}

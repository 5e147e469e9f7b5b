package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/apperror"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg, slog.Default()), mr
}

func TestFirstRequestDoesNotSleep(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		DelayMin:   time.Hour,
		DelayMax:   2 * time.Hour,
		DailyLimit: 10,
	})

	start := time.Now()
	err := l.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDailyLimitEnforced(t *testing.T) {
	l, _ := newTestLimiter(t, Config{DailyLimit: 2})

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "d.com"))
	require.NoError(t, l.Acquire(ctx, "d.com"))

	err := l.Acquire(ctx, "d.com")
	require.Error(t, err)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.CodeRateLimitExceeded, appErr.Code)
	assert.Equal(t, "d.com", appErr.Details["domain"])
	assert.Equal(t, 2, appErr.Details["limit"])
	assert.GreaterOrEqual(t, appErr.Details["reset_in_seconds"], 0)
}

func TestLimitsAreScopedPerDomain(t *testing.T) {
	l, _ := newTestLimiter(t, Config{DailyLimit: 1})

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "a.com"))
	require.Error(t, l.Acquire(ctx, "a.com"))
	require.NoError(t, l.Acquire(ctx, "b.com"))
}

func TestDailyCounterHasExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, Config{DailyLimit: 5})

	require.NoError(t, l.Acquire(context.Background(), "e.com"))

	key := dailyCountKey("e.com", time.Now())
	require.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))
	assert.LessOrEqual(t, mr.TTL(key), 24*time.Hour)
}

func TestLastRequestRecorded(t *testing.T) {
	l, mr := newTestLimiter(t, Config{DailyLimit: 5})

	require.NoError(t, l.Acquire(context.Background(), "e.com"))
	require.True(t, mr.Exists(lastRequestKey("e.com")))
	assert.Equal(t, lastRequestTTL, mr.TTL(lastRequestKey("e.com")))
}

func TestConcurrentCallersSerialize(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		DelayMin:   20 * time.Millisecond,
		DelayMax:   30 * time.Millisecond,
		DailyLimit: 100,
	})

	ctx := context.Background()
	const callers = 4

	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Acquire(ctx, "serial.com")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	// First caller is free; the remaining three each wait at least DelayMin.
	assert.GreaterOrEqual(t, time.Since(start), 3*20*time.Millisecond)
}

func TestAcquireEmptyDomainIsNoop(t *testing.T) {
	l, mr := newTestLimiter(t, Config{DailyLimit: 1})
	require.NoError(t, l.Acquire(context.Background(), ""))
	assert.Empty(t, mr.Keys())
}

func TestContextCancellationAbortsWait(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		DelayMin:   time.Hour,
		DelayMax:   2 * time.Hour,
		DailyLimit: 10,
	})

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "slow.com"))

	cancelCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(cancelCtx, "slow.com")
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
}

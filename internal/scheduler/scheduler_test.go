package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerNotRunning(t *testing.T) {
	s := NewScheduler(slog.Default())
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.ListTasks())
}

func TestStartStopIdempotent(t *testing.T) {
	s := NewScheduler(slog.Default())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}

func TestAddIntervalTaskRuns(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int64
	err := s.AddIntervalTask("tick", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddTaskReplacesExisting(t *testing.T) {
	s := NewScheduler(slog.Default())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddIntervalTask("sweep", time.Hour, noop))
	require.NoError(t, s.AddIntervalTask("sweep", 30*time.Minute, noop))
	assert.Equal(t, []string{"sweep"}, s.ListTasks())
}

func TestAddCronTaskInvalidSchedule(t *testing.T) {
	s := NewScheduler(slog.Default())

	err := s.AddCronTask("bad", "not a schedule", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestRemoveTask(t *testing.T) {
	s := NewScheduler(slog.Default())
	require.NoError(t, s.AddIntervalTask("gc", time.Hour, func(context.Context) error { return nil }))

	s.RemoveTask("gc")
	assert.Empty(t, s.ListTasks())

	// Removing an unknown task is a no-op.
	s.RemoveTask("missing")
}

func TestTaskErrorDoesNotStopScheduler(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int64
	err := s.AddIntervalTask("flaky", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return assert.AnError
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

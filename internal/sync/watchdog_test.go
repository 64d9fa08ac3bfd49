package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthbeam/kpi-sync-server/internal/results"
)

func putRunningStatus(t *testing.T, store *memResults, runDate string, startedAt time.Time) {
	t.Helper()
	require.NoError(t, store.PutRunStatus(context.Background(), &results.RunStatus{
		RunDate:   runDate,
		Phase:     results.RunPhaseRunning,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}))
}

func TestWatchdogSweepMarksExpiredRunStalled(t *testing.T) {
	t.Parallel()

	store := newMemResults()
	runDate := time.Now().UTC().Format(DateLayout)
	putRunningStatus(t, store, runDate, time.Now().UTC().Add(-7*time.Hour))

	w := NewWatchdog(store, WithStaleAfter(6*time.Hour))
	w.Sweep(context.Background())

	status, err := store.GetRunStatus(context.Background(), runDate)
	require.NoError(t, err)
	assert.Equal(t, results.RunPhaseStalled, status.Phase)
	assert.Contains(t, status.Message, "exceeded deadline")
}

func TestWatchdogSweepLeavesFreshRunAlone(t *testing.T) {
	t.Parallel()

	store := newMemResults()
	runDate := time.Now().UTC().Format(DateLayout)
	putRunningStatus(t, store, runDate, time.Now().UTC().Add(-time.Hour))

	w := NewWatchdog(store, WithStaleAfter(6*time.Hour))
	w.Sweep(context.Background())

	status, err := store.GetRunStatus(context.Background(), runDate)
	require.NoError(t, err)
	assert.Equal(t, results.RunPhaseRunning, status.Phase)
}

func TestWatchdogSweepIgnoresCompletedRun(t *testing.T) {
	t.Parallel()

	store := newMemResults()
	runDate := time.Now().UTC().Format(DateLayout)
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.PutRunStatus(context.Background(), &results.RunStatus{
		RunDate:   runDate,
		Phase:     results.RunPhaseCompleted,
		StartedAt: old,
		UpdatedAt: old,
	}))

	w := NewWatchdog(store, WithStaleAfter(6*time.Hour))
	w.Sweep(context.Background())

	status, err := store.GetRunStatus(context.Background(), runDate)
	require.NoError(t, err)
	assert.Equal(t, results.RunPhaseCompleted, status.Phase)
}

func TestWatchdogSweepCoversLookbackWindow(t *testing.T) {
	t.Parallel()

	store := newMemResults()
	now := time.Now().UTC()

	// An expired run two days back sits inside the default lookback; one
	// four days back does not.
	inside := now.AddDate(0, 0, -2).Format(DateLayout)
	outside := now.AddDate(0, 0, -4).Format(DateLayout)
	putRunningStatus(t, store, inside, now.Add(-72*time.Hour))
	putRunningStatus(t, store, outside, now.Add(-96*time.Hour))

	w := NewWatchdog(store, WithStaleAfter(6*time.Hour), WithLookbackDays(3))
	w.Sweep(context.Background())

	status, err := store.GetRunStatus(context.Background(), inside)
	require.NoError(t, err)
	assert.Equal(t, results.RunPhaseStalled, status.Phase)

	status, err = store.GetRunStatus(context.Background(), outside)
	require.NoError(t, err)
	assert.Equal(t, results.RunPhaseRunning, status.Phase)
}

func TestWatchdogStartStop(t *testing.T) {
	t.Parallel()

	store := newMemResults()
	runDate := time.Now().UTC().Format(DateLayout)
	putRunningStatus(t, store, runDate, time.Now().UTC().Add(-7*time.Hour))

	w := NewWatchdog(store, WithStaleAfter(6*time.Hour), WithSweepInterval(time.Hour))

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background())
	}()

	// Start performs an immediate sweep before waiting on the ticker.
	assert.Eventually(t, func() bool {
		status, err := store.GetRunStatus(context.Background(), runDate)
		return err == nil && status.Phase == results.RunPhaseStalled
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop")
	}
}

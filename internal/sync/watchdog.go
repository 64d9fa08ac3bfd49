package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/growthbeam/kpi-sync-server/internal/results"
)

const (
	// defaultSweepInterval is the base interval between stale-run sweeps
	defaultSweepInterval = 10 * time.Minute

	// defaultSweepJitter is the maximum random offset applied to the sweep
	// interval so multiple instances do not sweep simultaneously
	defaultSweepJitter = time.Minute

	// defaultStaleAfter is how long a run may stay running before the
	// watchdog marks it stalled
	defaultStaleAfter = 6 * time.Hour

	// defaultLookbackDays bounds how many recent run dates a sweep inspects
	defaultLookbackDays = 3
)

// Watchdog detects permanently stuck runs. The batch fan-out is
// fire-and-forget with no run-level deadline of its own, so a run whose
// batches are lost past the queue's retry budget would stay "running"
// forever; the watchdog sweeps recent run dates and marks such runs stalled.
type Watchdog struct {
	results      results.Store
	interval     time.Duration
	jitter       time.Duration
	staleAfter   time.Duration
	lookbackDays int
	log          *slog.Logger

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithSweepInterval overrides the base sweep interval.
func WithSweepInterval(d time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStaleAfter overrides the running-run deadline.
func WithStaleAfter(d time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if d > 0 {
			w.staleAfter = d
		}
	}
}

// WithLookbackDays overrides how many recent run dates each sweep inspects.
func WithLookbackDays(days int) WatchdogOption {
	return func(w *Watchdog) {
		if days > 0 {
			w.lookbackDays = days
		}
	}
}

// NewWatchdog creates a stale-run watchdog.
func NewWatchdog(store results.Store, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		results:      store,
		interval:     defaultSweepInterval,
		jitter:       defaultSweepJitter,
		staleAfter:   defaultStaleAfter,
		lookbackDays: defaultLookbackDays,
		log:          slog.Default(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// sweepInterval returns the base interval with a random jitter applied.
func (w *Watchdog) sweepInterval() time.Duration {
	if w.jitter <= 0 {
		return w.interval
	}
	//nolint:gosec // non-cryptographic randomness is sufficient for jitter
	offset := time.Duration(rand.Int64N(int64(2*w.jitter))) - w.jitter
	return w.interval + offset
}

// Start runs the sweep loop. Blocks until the context is cancelled.
func (w *Watchdog) Start(ctx context.Context) error {
	w.log.Info("Starting stale-run watchdog",
		"interval", w.interval,
		"stale_after", w.staleAfter,
		"lookback_days", w.lookbackDays)

	sweepCtx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel
	defer func() {
		close(w.done)
		w.log.Info("Stale-run watchdog shutting down")
	}()

	ticker := time.NewTicker(w.sweepInterval())
	defer ticker.Stop()

	w.Sweep(sweepCtx)

	for {
		select {
		case <-ticker.C:
			w.Sweep(sweepCtx)
			ticker.Reset(w.sweepInterval())
		case <-sweepCtx.Done():
			return nil
		}
	}
}

// Stop gracefully stops the watchdog.
func (w *Watchdog) Stop() error {
	if w.cancelFunc != nil {
		w.cancelFunc()
		<-w.done
	}
	return nil
}

// Sweep inspects the recent run dates and marks expired running runs as
// stalled.
func (w *Watchdog) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	for i := 0; i < w.lookbackDays; i++ {
		runDate := now.AddDate(0, 0, -i).Format(DateLayout)
		if err := w.sweepRun(ctx, runDate, now); err != nil {
			w.log.Error("Stale-run sweep failed", "run_date", runDate, "error", err)
		}
	}
}

func (w *Watchdog) sweepRun(ctx context.Context, runDate string, now time.Time) error {
	status, err := w.results.GetRunStatus(ctx, runDate)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			return nil
		}
		return err
	}
	if status.Phase != results.RunPhaseRunning {
		return nil
	}

	age := now.Sub(status.StartedAt)
	if age <= w.staleAfter {
		return nil
	}

	status.Phase = results.RunPhaseStalled
	status.Message = fmt.Sprintf("run exceeded deadline: running for %s (limit %s)",
		age.Round(time.Minute), w.staleAfter)
	status.UpdatedAt = now
	if err := w.results.PutRunStatus(ctx, status); err != nil {
		return err
	}

	w.log.Warn("Marked run as stalled",
		"run_date", runDate,
		"running_for", age.Round(time.Minute),
		"stale_after", w.staleAfter)
	return nil
}

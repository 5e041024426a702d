package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/weavehub/weave/internal/model"
	"github.com/weavehub/weave/internal/runstate"
	"github.com/weavehub/weave/internal/store"
)

// Watchdog sweeps for runs stuck in in_progress past the configured timeout
// and fails them. A zero timeout disables the sweep entirely.
type Watchdog struct {
	store    *store.Store
	engine   *Engine
	timeout  time.Duration
	interval time.Duration
}

func NewWatchdog(st *store.Store, eng *Engine, timeout, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{store: st, engine: eng, timeout: timeout, interval: interval}
}

// Start blocks until ctx is done, sweeping on every tick. Run it on its own
// goroutine.
func (w *Watchdog) Start(ctx context.Context) {
	if w.timeout <= 0 {
		log.Printf("watchdog: disabled (no run timeout configured)")
		return
	}
	log.Printf("watchdog: sweeping every %s, run timeout %s", w.interval, w.timeout)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep fails every in_progress run whose StartedAt is older than the
// timeout, and interrupts its drive goroutine so a late backend return
// cannot keep producing side effects. Runs that moved on between snapshot
// and update are skipped.
func (w *Watchdog) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-w.timeout)
	swept := 0

	for _, run := range w.store.RunsSnapshot() {
		if run.Status != runstate.StatusInProgress {
			continue
		}
		started, err := time.Parse(time.RFC3339Nano, run.StartedAt)
		if err != nil || started.After(cutoff) {
			continue
		}

		_, err = w.store.UpdateRun(ctx, run.ID, func(candidate *model.Run) error {
			if candidate.Status != runstate.StatusInProgress {
				return errRunSuperseded
			}
			candidate.Status = runstate.StatusFailed
			candidate.FailedAt = time.Now().UTC().Format(time.RFC3339Nano)
			candidate.LastError = &model.RunError{
				Code:    "execution_error",
				Message: "run exceeded the execution timeout",
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, errRunSuperseded) {
				log.Printf("watchdog: fail run %s: %v", run.ID, err)
			}
			continue
		}

		w.engine.interrupt(run.ID)

		log.Printf("watchdog: marked run %s failed after timeout", run.ID)
		w.engine.events.Publish(run.ID, run.ThreadID, runstate.StatusFailed)
		swept++
	}
	return swept
}

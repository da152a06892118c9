// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package housekeep makes the receive pipeline's idempotent-cleanup
// property (spec §8 property 6 — "no leaked INCONSISTENT datasets, no
// leaked %recv clone") self-healing: a periodic sweep that finds every
// dataset still marked INCONSISTENT past a configurable TTL and
// destroys it, instead of relying solely on the next recv_begin's
// EBUSY/ETXTBSY collision checks to surface the leak. Grounded on the
// teacher's internal/agent/scheduler.go (one robfig/cron/v3 job per
// entry, guarded against overlapping runs by a mutex + running flag)
// and internal/server/storage.go's Rotate (find the stale ones, then
// remove them).
package housekeep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snapstream/zfssend/internal/dsl"
)

// Sweeper periodically destroys INCONSISTENT datasets abandoned by a
// crashed or killed receive.
type Sweeper struct {
	ns     dsl.DatasetNamespace
	sched  dsl.SyncTaskScheduler
	logger *slog.Logger
	ttl    time.Duration

	mu      sync.Mutex
	running bool
	cron    *cron.Cron

	// LastSweep records the outcome of the most recent run, for a
	// diagnostics export or a health endpoint to report.
	lastMu   sync.RWMutex
	lastErr  error
	lastTime time.Time
	lastHits int
}

// NewSweeper wires the collaborators a sweep needs. ttl is how long a
// dataset may remain INCONSISTENT before it is considered abandoned
// rather than a receive still in flight.
func NewSweeper(ns dsl.DatasetNamespace, sched dsl.SyncTaskScheduler, logger *slog.Logger, ttl time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sweeper{ns: ns, sched: sched, logger: logger.With("component", "housekeep"), ttl: ttl}
}

// Start registers schedule (a standard 5-field cron expression) and
// begins running sweeps in the background.
func (sw *Sweeper) Start(schedule string) error {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(sw.logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, func() { sw.runOnce(context.Background()) }); err != nil {
		return fmt.Errorf("housekeep: scheduling sweep %q: %w", schedule, err)
	}
	sw.cron = c
	c.Start()
	sw.logger.Info("housekeeping sweep scheduled", "schedule", schedule, "ttl", sw.ttl)
	return nil
}

// Stop halts the scheduler. In-flight sweeps are allowed to finish.
func (sw *Sweeper) Stop() {
	if sw.cron != nil {
		<-sw.cron.Stop().Done()
	}
}

// SweepNow runs one sweep synchronously, for a CLI "housekeep --once"
// invocation or a test, returning the number of datasets destroyed.
func (sw *Sweeper) SweepNow(ctx context.Context) (int, error) {
	return sw.sweep(ctx)
}

func (sw *Sweeper) runOnce(ctx context.Context) {
	sw.mu.Lock()
	if sw.running {
		sw.mu.Unlock()
		sw.logger.Warn("sweep already running, skipping this tick")
		return
	}
	sw.running = true
	sw.mu.Unlock()
	defer func() {
		sw.mu.Lock()
		sw.running = false
		sw.mu.Unlock()
	}()

	n, err := sw.sweep(ctx)

	sw.lastMu.Lock()
	sw.lastErr, sw.lastTime, sw.lastHits = err, time.Now(), n
	sw.lastMu.Unlock()

	if err != nil {
		sw.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		sw.logger.Info("sweep destroyed abandoned datasets", "count", n)
	} else {
		sw.logger.Debug("sweep found nothing to destroy")
	}
}

func (sw *Sweeper) sweep(ctx context.Context) (int, error) {
	stale, err := sw.ns.ListInconsistent(ctx)
	if err != nil {
		return 0, fmt.Errorf("housekeep: listing inconsistent datasets: %w", err)
	}

	var destroyed int
	var firstErr error
	now := time.Now()
	for _, ds := range stale {
		if ds.MarkedAt.IsZero() || now.Sub(ds.MarkedAt) < sw.ttl {
			continue
		}
		err := sw.sched.RunSyncTask(ctx, ds.Handle.ObjsetID,
			func(context.Context) error { return nil },
			func(tx dsl.Tx) error { return sw.ns.DestroyHead(tx, ds.Handle) },
		)
		if err != nil {
			sw.logger.Warn("failed to destroy abandoned dataset", "dataset", ds.Handle.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sw.ns.Disown(ds.Handle)
		destroyed++
	}
	return destroyed, firstErr
}

// LastSweep reports when the most recent sweep ran, how many datasets
// it destroyed, and its error (if any).
func (sw *Sweeper) LastSweep() (at time.Time, hits int, err error) {
	sw.lastMu.RLock()
	defer sw.lastMu.RUnlock()
	return sw.lastTime, sw.lastHits, sw.lastErr
}

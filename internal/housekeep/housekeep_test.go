// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package housekeep_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/dsl/memstore"
	"github.com/snapstream/zfssend/internal/housekeep"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func markInconsistent(t *testing.T, store *memstore.Store, h dsl.DatasetHandle) {
	t.Helper()
	err := store.RunSyncTask(context.Background(), h.ObjsetID,
		func(context.Context) error { return nil },
		func(tx dsl.Tx) error { return store.SetInconsistent(tx, h, true) },
	)
	if err != nil {
		t.Fatalf("marking inconsistent: %v", err)
	}
}

func TestSweepLeavesFreshInconsistentDatasetAlone(t *testing.T) {
	store := memstore.New()
	h := store.CreateFilesystem("tank/recv", "tank")
	markInconsistent(t, store, h)

	sw := housekeep.NewSweeper(store, store, discardLogger(), time.Hour)
	n, err := sw.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 destroyed, got %d", n)
	}

	stale, err := store.ListInconsistent(context.Background())
	if err != nil {
		t.Fatalf("ListInconsistent: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected dataset to still be listed inconsistent, got %d entries", len(stale))
	}
}

func TestSweepDestroysDatasetPastTTL(t *testing.T) {
	store := memstore.New()
	h := store.CreateFilesystem("tank/recv", "tank")
	markInconsistent(t, store, h)

	time.Sleep(2 * time.Millisecond)

	sw := housekeep.NewSweeper(store, store, discardLogger(), time.Millisecond)
	n, err := sw.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 destroyed, got %d", n)
	}

	stale, err := store.ListInconsistent(context.Background())
	if err != nil {
		t.Fatalf("ListInconsistent: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected dataset to be gone, got %d entries", len(stale))
	}
}

func TestSweepIgnoresConsistentDatasets(t *testing.T) {
	store := memstore.New()
	store.CreateFilesystem("tank/data", "tank")

	sw := housekeep.NewSweeper(store, store, discardLogger(), time.Nanosecond)
	n, err := sw.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 destroyed, got %d", n)
	}
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/dsl/memstore"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := memstore.New()
	store.CreateFilesystem("tank/data", "tank")
	store.Snapshot("tank/data", "s1")

	path := filepath.Join(t.TempDir(), "pool.json")
	if err := store.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := memstore.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	snap, err := loaded.ResolveSnapshot(context.Background(), "tank/data@s1")
	if err != nil {
		t.Fatalf("ResolveSnapshot after reload: %v", err)
	}
	if snap.Name != "tank/data@s1" {
		t.Fatalf("got snapshot name %q", snap.Name)
	}
}

func TestLoadFromFileMissingReturnsFreshStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store, err := memstore.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile on missing path: %v", err)
	}
	if store == nil {
		t.Fatalf("expected a fresh store, got nil")
	}
	h := store.CreateFilesystem("tank/data", "tank")
	if h.Name != "tank/data" {
		t.Fatalf("fresh store unusable, got handle %+v", h)
	}
}

func TestSaveLoadRoundTripPreservesInconsistentMarker(t *testing.T) {
	store := memstore.New()
	h := store.CreateFilesystem("tank/recv", "tank")
	err := store.RunSyncTask(context.Background(), h.ObjsetID,
		func(context.Context) error { return nil },
		func(tx dsl.Tx) error { return store.SetInconsistent(tx, h, true) },
	)
	if err != nil {
		t.Fatalf("marking inconsistent: %v", err)
	}

	path := filepath.Join(t.TempDir(), "pool.json")
	if err := store.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := memstore.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	stale, err := loaded.ListInconsistent(context.Background())
	if err != nil {
		t.Fatalf("ListInconsistent: %v", err)
	}
	if len(stale) != 1 || stale[0].Handle.Name != "tank/recv" {
		t.Fatalf("expected tank/recv to still be inconsistent after reload, got %+v", stale)
	}
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/snapstream/zfssend/internal/dsl"
)

// GUIDMap is the GUID Map, C9: a guid→owned-dataset-handle map used to
// resolve WRITE_BYREF records. NewGUIDMap creates it empty and anchors
// its lifetime to a dsl.CleanupRegistry hook keyed by cleanupFD (spec
// §4.9, §9's "replace the on-exit registry with an RAII-style owner"):
// closing the returned dsl.CleanupHandle releases every long-hold/hold
// this map accumulated. Grounded on the shape of the teacher's
// *sync.Map session registries in internal/server/handler.go, here a
// mutex-guarded Go map; GUIDs reports its keys in ascending order.
type GUIDMap struct {
	mu   sync.Mutex
	ns   dsl.DatasetNamespace
	reg  dsl.CleanupRegistry
	fd   int
	hook dsl.CleanupHandle
	m    map[uint64]dsl.DatasetHandle
}

// NewGUIDMap creates an empty map anchored to cleanupFD. It returns
// ErrBadFD if cleanupFD is invalid (spec §4.9: "EBADF" when the dedup
// feature is requested with no cleanup fd).
func NewGUIDMap(reg dsl.CleanupRegistry, ns dsl.DatasetNamespace, cleanupFD int) (*GUIDMap, error) {
	if cleanupFD < 0 {
		return nil, ErrBadFD
	}
	gm := &GUIDMap{ns: ns, reg: reg, fd: cleanupFD, m: make(map[uint64]dsl.DatasetHandle)}
	hook, err := reg.Register(cleanupFD, gm.releaseAll)
	if err != nil {
		return nil, fmt.Errorf("recv: registering guid map cleanup hook: %w", err)
	}
	gm.hook = hook
	return gm, nil
}

// Insert adds guid → h to the map, long-holding h so it survives until
// the cleanup hook fires or Close is called.
func (gm *GUIDMap) Insert(ctx context.Context, guid uint64, h dsl.DatasetHandle) error {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if err := gm.ns.LongHold(ctx, h); err != nil {
		return fmt.Errorf("recv: long-holding guid map entry: %w", err)
	}
	gm.m[guid] = h
	return nil
}

// Lookup resolves guid to its owned dataset handle, reporting ok=false
// if absent (the caller maps that to EINVAL per spec §4.8 WRITE_BYREF).
func (gm *GUIDMap) Lookup(guid uint64) (dsl.DatasetHandle, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	h, ok := gm.m[guid]
	return h, ok
}

// GUIDs returns every mapped GUID in ascending order, for diagnostics
// and deterministic iteration.
func (gm *GUIDMap) GUIDs() []uint64 {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	out := make([]uint64, 0, len(gm.m))
	for g := range gm.m {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// releaseAll long-reles and reles every entry; it is the on-exit hook
// body invoked once, when the cleanup fd is closed.
func (gm *GUIDMap) releaseAll() {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	for guid, h := range gm.m {
		gm.ns.LongRele(h)
		gm.ns.Rele(h)
		delete(gm.m, guid)
	}
}

// Close releases the cleanup hook, which in turn invokes releaseAll
// exactly once (idempotent: a second Close is a no-op via the
// registry's own CleanupHandle contract).
func (gm *GUIDMap) Close() error {
	if gm.hook == nil {
		return nil
	}
	return gm.hook.Close()
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recv

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/wire"
)

// ostNumTypes bounds BeginHeader.ObjsetType the way real ZFS bounds
// drr_type against OST_NUMTYPES (spec §4.6 check phase). This repo
// only ever produces ObjsetType 0 (filesystem); the bound exists so a
// corrupted or foreign stream is still rejected rather than silently
// accepted.
const ostNumTypes = 3

// Cookie is the drc cookie spec §4.6 describes: everything Recv End
// (C10) needs to finish or abort the receive it started.
type Cookie struct {
	ByteSwap bool
	ToGUID   uint64
	FromGUID uint64
	ToFS     string
	ToSnap   string
	Origin   string // empty if none
	NewFS    bool
	DS       dsl.DatasetHandle
}

// Begin drives the Receive Begin two-phase sync-task (C6). order is
// the byte order ReadBegin already determined for this stream.
type Begin struct {
	ns    dsl.DatasetNamespace
	props dsl.PropertyStore
	sched dsl.SyncTaskScheduler
}

// NewBegin wires the external collaborators recv_begin needs.
func NewBegin(ns dsl.DatasetNamespace, props dsl.PropertyStore, sched dsl.SyncTaskScheduler) *Begin {
	return &Begin{ns: ns, props: props, sched: sched}
}

// Run implements recv_begin(tofs, tosnap, begin_hdr, force, origin,
// &drc) (spec §6, §4.6).
func (b *Begin) Run(ctx context.Context, toFS, toSnap string, hdr *wire.BeginHeader, force bool, origin string, order binary.ByteOrder) (*Cookie, error) {
	cookie := &Cookie{
		ByteSwap: order == binary.BigEndian,
		ToGUID:   hdr.ToGUID,
		FromGUID: hdr.FromGUID,
		ToFS:     toFS,
		ToSnap:   toSnap,
		Origin:   origin,
	}
	isClone := hdr.Flags&wire.FlagClone != 0

	// objsetID hint for the scheduler: the target's current objset if it
	// exists, else 0 (no existing objset context to serialize against).
	var objsetHint uint64
	if existing, err := b.ns.Exists(ctx, toFS); err == nil && existing {
		if h, err := b.ns.Hold(ctx, toFS); err == nil {
			objsetHint = h.ObjsetID
			b.ns.Rele(h)
		}
	}

	err := b.sched.RunSyncTask(ctx, objsetHint,
		func(ctx context.Context) error { return b.check(ctx, toFS, toSnap, hdr, isClone, force, origin) },
		func(tx dsl.Tx) error { return b.sync(ctx, tx, cookie, hdr, isClone) },
	)
	if err != nil {
		return nil, err
	}
	return cookie, nil
}

// check is the pure, transactional check phase (spec §4.6).
func (b *Begin) check(ctx context.Context, toFS, toSnap string, hdr *wire.BeginHeader, isClone, force bool, origin string) error {
	hdrtype := hdr.VersionInfo & 0xff
	if hdrtype == wire.HdrTypeCompound {
		return fmt.Errorf("%w: compound streams are not supported", ErrNotSupported)
	}
	if hdr.ObjsetType >= ostNumTypes {
		return fmt.Errorf("%w: objset type %d out of range", ErrInvalid, hdr.ObjsetType)
	}
	if isClone && origin == "" {
		return fmt.Errorf("%w: clone flag set with no origin", ErrInvalid)
	}
	if hdr.VersionInfo&wire.FeatureSASpill != 0 {
		ok, err := b.props.PoolSupportsSASpill(ctx)
		if err != nil {
			return fmt.Errorf("recv: checking SA_SPILL support: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: stream requires SA_SPILL, pool does not support it", ErrNotSupported)
		}
	}

	exists, err := b.ns.Exists(ctx, toFS)
	if err != nil {
		return fmt.Errorf("recv: checking %s existence: %w", toFS, err)
	}
	if exists {
		if isClone {
			return fmt.Errorf("%w: clone flag set but target fs already exists", ErrInvalid)
		}
		return b.checkExisting(ctx, toFS, toSnap, hdr.FromGUID, force)
	}

	if hdr.FromGUID != 0 && !isClone {
		return fmt.Errorf("%w: incremental stream into absent target %s", ErrNotFound, toFS)
	}
	parent := parentOf(toFS)
	parentExists, err := b.ns.Exists(ctx, parent)
	if err != nil {
		return fmt.Errorf("recv: checking parent %s existence: %w", parent, err)
	}
	if !parentExists {
		return fmt.Errorf("%w: parent filesystem %s does not exist", ErrNotFound, parent)
	}
	if origin != "" {
		snap, err := b.ns.ResolveSnapshot(ctx, origin)
		if err != nil {
			return fmt.Errorf("recv: resolving origin %s: %w", origin, err)
		}
		if snap.GUID != hdr.FromGUID {
			return fmt.Errorf("%w: origin %s guid does not match stream fromguid", ErrInvalid, origin)
		}
	}
	return nil
}

// checkExisting implements spec §4.6's existing_impl(ds, fromguid).
func (b *Begin) checkExisting(ctx context.Context, toFS, toSnap string, fromGUID uint64, force bool) error {
	h := dsl.DatasetHandle{Name: toFS}
	if !force {
		modified, err := b.ns.ModifiedSinceLastSnap(ctx, h)
		if err != nil {
			return fmt.Errorf("recv: checking modified-since-lastsnap: %w", err)
		}
		if modified {
			return ErrTxtBsy
		}
	}

	recvClone := toFS + "/%recv"
	cloneExists, err := b.ns.Exists(ctx, recvClone)
	if err != nil {
		return fmt.Errorf("recv: checking %s existence: %w", recvClone, err)
	}
	if cloneExists {
		return ErrBusy
	}

	newSnapName := toFS + "@" + toSnap
	snapExists, err := b.ns.Exists(ctx, newSnapName)
	if err != nil {
		return fmt.Errorf("recv: checking %s existence: %w", newSnapName, err)
	}
	if snapExists {
		return ErrExists
	}

	prev, err := b.ns.PrevSnapshot(ctx, h)
	if err != nil {
		return fmt.Errorf("recv: reading previous snapshot: %w", err)
	}

	if fromGUID == 0 {
		// Full send onto an existing fs: ds.prev_snap_txg must be the
		// initial txg (no prior snapshots).
		txg, err := b.ns.PrevSnapTXG(ctx, h)
		if err != nil {
			return fmt.Errorf("recv: reading prev_snap_txg: %w", err)
		}
		if txg != 0 {
			return fmt.Errorf("%w: full receive onto a non-empty filesystem", ErrLineageNotFound)
		}
		return nil
	}

	if prev == nil {
		return fmt.Errorf("%w: target has no snapshots", ErrLineageNotFound)
	}
	if prev.GUID == fromGUID {
		return nil
	}

	// Walk the prev-snap chain looking for fromguid. ds.prev's birth is
	// modeled here as prev.CreationTXG (memstore has no separate
	// block-pointer birth txg distinct from snapshot creation txg); see
	// DESIGN.md's Open Question decision: creation_txg < birth is
	// treated as "definitely not an ancestor", so the walk stops the
	// instant a snapshot's creation txg drops below that cutoff instead
	// of running off the end of the history and reporting the same
	// error for a different reason.
	history, err := b.ns.SnapshotHistory(ctx, h)
	if err != nil {
		return fmt.Errorf("recv: reading snapshot history: %w", err)
	}
	birth := prev.CreationTXG
	for i := len(history) - 1; i >= 0; i-- {
		snap := history[i]
		if snap.CreationTXG < birth {
			break
		}
		if snap.GUID == fromGUID {
			return nil
		}
	}
	return fmt.Errorf("%w: fromguid %d not found in %s's lineage", ErrLineageNotFound, fromGUID, toFS)
}

// sync is the sync phase (spec §4.6): materialize the temp clone or new
// dataset, own it, and mark it INCONSISTENT.
func (b *Begin) sync(ctx context.Context, tx dsl.Tx, cookie *Cookie, hdr *wire.BeginHeader, isClone bool) error {
	exists, err := b.ns.Exists(ctx, cookie.ToFS)
	if err != nil {
		return fmt.Errorf("recv: re-checking %s existence in sync phase: %w", cookie.ToFS, err)
	}

	var ds dsl.DatasetHandle
	if exists {
		h := dsl.DatasetHandle{Name: cookie.ToFS}
		prev, err := b.ns.PrevSnapshot(ctx, h)
		if err != nil {
			return fmt.Errorf("recv: reading previous snapshot for clone origin: %w", err)
		}
		originName := cookie.ToFS
		if prev != nil {
			originName = prev.Name
		}
		ds, err = b.ns.CreateTempClone(ctx, originName, cookie.ToFS+"/%recv")
		if err != nil {
			return fmt.Errorf("recv: creating temp clone: %w", err)
		}
		cookie.NewFS = false
	} else {
		var originSnap *dsl.SnapshotInfo
		if cookie.Origin != "" {
			snap, err := b.ns.ResolveSnapshot(ctx, cookie.Origin)
			if err != nil {
				return fmt.Errorf("recv: resolving origin for create: %w", err)
			}
			originSnap = &snap
		}
		ds, err = b.ns.CreateDataset(ctx, parentOf(cookie.ToFS), originSnap)
		if err != nil {
			return fmt.Errorf("recv: creating dataset: %w", err)
		}
		cookie.NewFS = true
	}

	owned, err := b.ns.Own(ctx, ds.Name)
	if err != nil {
		return fmt.Errorf("recv: owning %s: %w", ds.Name, err)
	}
	cookie.DS = owned

	if err := b.ns.SetInconsistent(tx, owned, true); err != nil {
		return fmt.Errorf("recv: marking %s inconsistent: %w", owned.Name, err)
	}
	return nil
}

// parentOf returns fs's parent (everything before the last '/'), or ""
// if fs has no parent component.
func parentOf(fs string) string {
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i] == '/' {
			return fs[:i]
		}
	}
	return ""
}

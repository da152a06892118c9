// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recv

import (
	"context"
	"fmt"

	"github.com/snapstream/zfssend/internal/dsl"
)

// End drives Recv End/Cleanup (C10): the sync-task that promotes the
// temp clone (or freshly-created dataset) into the final snapshot, and
// the abort path that tears it back down on any error between Begin
// and here. Grounded on the teacher's internal/server/storage.go
// AtomicWriter: Commit renames a temp file into place, Abort removes
// it; here the "file" is a whole dataset and the rename is
// clone_swap + snapshot_sync.
type End struct {
	ns    dsl.DatasetNamespace
	sched dsl.SyncTaskScheduler
	guids *GUIDMap // nil unless this stream is a dedup source
}

// NewEnd wires the external collaborators recv_end needs.
func NewEnd(ns dsl.DatasetNamespace, sched dsl.SyncTaskScheduler, guids *GUIDMap) *End {
	return &End{ns: ns, sched: sched, guids: guids}
}

// Run implements recv_end(drc) (spec §4.10): commit cookie's temp
// clone or new dataset as cookie.ToSnap, clearing INCONSISTENT on
// success. force mirrors recv_begin's force flag; it is needed again
// here because clone_swap re-validates against the same "is the head
// still clean" condition under the sync-task's serialization.
func (e *End) Run(ctx context.Context, cookie *Cookie, force bool, creationTime uint64) error {
	var newSnap dsl.SnapshotInfo

	err := e.sched.RunSyncTask(ctx, cookie.DS.ObjsetID,
		func(ctx context.Context) error { return e.check(ctx, cookie, force) },
		func(tx dsl.Tx) error {
			snap, err := e.sync(ctx, tx, cookie, creationTime)
			if err != nil {
				return err
			}
			newSnap = snap
			return nil
		},
	)
	if err != nil {
		e.abort(cookie)
		return err
	}

	if e.guids != nil {
		if err := e.guids.Insert(ctx, newSnap.GUID, dsl.DatasetHandle{Name: newSnap.Name, ObjsetID: newSnap.ObjsetID}); err != nil {
			return fmt.Errorf("recv: registering %s in guid map: %w", newSnap.Name, err)
		}
	}
	return nil
}

// check is the pure check phase (spec §4.10).
func (e *End) check(ctx context.Context, cookie *Cookie, force bool) error {
	newSnapName := cookie.ToFS + "@" + cookie.ToSnap
	exists, err := e.ns.Exists(ctx, newSnapName)
	if err != nil {
		return fmt.Errorf("recv: checking %s existence: %w", newSnapName, err)
	}
	if exists {
		return ErrExists
	}

	if cookie.NewFS {
		return nil
	}

	head := dsl.DatasetHandle{Name: cookie.ToFS}
	if err := e.ns.CloneSwapCheck(ctx, cookie.DS, head, force, ""); err != nil {
		return fmt.Errorf("recv: clone swap check for %s: %w", cookie.ToFS, err)
	}
	if err := e.ns.DestroyHeadCheck(ctx, cookie.DS); err != nil {
		return fmt.Errorf("recv: destroy-head check for temp clone %s: %w", cookie.DS.Name, err)
	}
	return nil
}

// sync is the sync phase (spec §4.10): promote the receive, return the
// new snapshot's metadata for the GUID map.
func (e *End) sync(ctx context.Context, tx dsl.Tx, cookie *Cookie, creationTime uint64) (dsl.SnapshotInfo, error) {
	head := dsl.DatasetHandle{Name: cookie.ToFS}

	if !cookie.NewFS {
		if err := e.ns.CloneSwap(tx, cookie.DS, head); err != nil {
			return dsl.SnapshotInfo{}, fmt.Errorf("recv: swapping clone into %s: %w", cookie.ToFS, err)
		}
	}

	objsetID, err := e.ns.SnapshotSync(tx, head, cookie.ToSnap, creationTime, cookie.ToGUID)
	if err != nil {
		return dsl.SnapshotInfo{}, fmt.Errorf("recv: snapshotting %s@%s: %w", cookie.ToFS, cookie.ToSnap, err)
	}

	if err := e.ns.SetInconsistent(tx, head, false); err != nil {
		return dsl.SnapshotInfo{}, fmt.Errorf("recv: clearing inconsistent on %s: %w", cookie.ToFS, err)
	}

	if !cookie.NewFS {
		if err := e.ns.DestroyHead(tx, cookie.DS); err != nil {
			return dsl.SnapshotInfo{}, fmt.Errorf("recv: destroying temp clone %s: %w", cookie.DS.Name, err)
		}
	}

	e.ns.Disown(cookie.DS)

	return dsl.SnapshotInfo{
		Name:     cookie.ToFS + "@" + cookie.ToSnap,
		GUID:     cookie.ToGUID,
		ObjsetID: objsetID,
	}, nil
}

// Abort implements the recv_cleanup_ds path (spec §4.10, §5): called
// whenever a receive fails anywhere between Begin and End (a
// dispatcher error, a cancelled context, a failed check phase). It
// destroys the temp clone or freshly-created dataset Begin made and
// disowns it, leaving no partial state behind. Safe to call more than
// once; DestroyHead on an already-destroyed handle is a no-op in this
// fake and is expected to be in any real implementation too.
func (e *End) Abort(ctx context.Context, cookie *Cookie) {
	e.abort(cookie)
}

func (e *End) abort(cookie *Cookie) {
	if cookie == nil || cookie.DS.Name == "" {
		return
	}
	_ = e.sched.RunSyncTask(context.Background(), cookie.DS.ObjsetID,
		func(context.Context) error { return nil },
		func(tx dsl.Tx) error {
			if err := e.ns.DestroyHead(tx, cookie.DS); err != nil {
				return err
			}
			return nil
		},
	)
	e.ns.Disown(cookie.DS)
}

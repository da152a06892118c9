// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dsl declares the external collaborators spec.md §1/§6 puts
// out of scope: the transactional object store, the snapshot/clone
// namespace, the traversal iterator, the block cache, the pool
// sync-task scheduler, the cleanup-hook registry, and the signal
// source. The core (internal/send, internal/recv) is written entirely
// against these interfaces, the way the teacher's internal/config
// types decouple internal/server from any one concrete storage
// backend and internal/server's observability hooks decouple it from
// any one concrete metrics sink.
//
// internal/dsl/memstore provides a complete in-memory implementation
// for tests; a real deployment would back these interfaces with an
// actual pool (out of scope here, as it is in spec.md).
package dsl

import (
	"context"
	"errors"
	"time"
)

// Dnode-type constants the traversal callback and appliers branch on
// (spec §4.4, §4.8). Values are arbitrary but stable within this repo.
const (
	ObjTypeNone uint64 = iota
	ObjTypeMetaDnode
	ObjTypeObjset
	ObjTypePlainFileContents
	ObjTypeSA // spill block owner
	ObjTypeDirectoryContents
	// NumObjTypes bounds Dnode.Type/BonusType and WriteHeader.DNType
	// (spec §3 OBJECT/WRITE invariants, §4.8 "validate type ... indices",
	// "reject if ... type invalid"). It must stay last in this block.
	NumObjTypes
)

// Bookmark locates one traversal tuple: object number, indirection
// level, and block id within that level.
type Bookmark struct {
	Object uint64
	Level  int
	BlkID  uint64
}

// BlockPointer locates one on-disk block. A nil *BlockPointer in a
// Tuple means "this block doesn't exist" (freed, or past the object's
// last block) — spec's "bp == none" case.
type BlockPointer struct {
	LogicalSize    uint64
	PhysicalSize   uint64
	CompressedSize uint64
	Checksum       [4]uint64
	Birth          uint64
}

// Dnode is the on-disk record describing one object (spec GLOSSARY).
type Dnode struct {
	Object       uint64
	Type         uint64
	BonusType    uint64
	DataBlkSz    uint64
	IndBlkShift  uint
	BlkPtrShift  uint
	MaxBlkID     uint64
	ChecksumType uint64
	Compress     uint64
	Bonus        []byte
}

// Span returns dn_datablksz·2^(level·(indblkshift−blkptrshift)), the
// byte range one block pointer at the given indirection level covers
// (spec §4.4).
func (dn Dnode) Span(level int) uint64 {
	if level <= 0 {
		return dn.DataBlkSz
	}
	shift := uint(level) * (dn.IndBlkShift - dn.BlkPtrShift)
	return dn.DataBlkSz << shift
}

// TupleKind distinguishes what a Tuple's block pointer refers to, the
// dimension the traversal callback's decision table (spec §4.4)
// branches on alongside BP == nil and Mark.Level.
type TupleKind int

const (
	KindData     TupleKind = iota // level-0 data block
	KindDnode                    // a dnode-block: DN describes one object
	KindSpill                    // type == SA: DN's object owns this spill block
	KindIndirect                 // level > 0, or an OBJSET block: ignored
)

// Tuple is one yield of the Traversal iterator (spec §1: "(blockpointer
// | none, bookmark, dnode | none)"). BP == nil means the block doesn't
// exist (freed, or past the object's last block — spec's "bp == none"
// case). DN is non-nil for KindDnode and KindSpill tuples.
type Tuple struct {
	Kind TupleKind
	BP   *BlockPointer
	Mark Bookmark
	DN   *Dnode
}

// Traversal walks every block reachable from one object set, pre-order,
// filtered by birth txg. fromTxg == 0 requests a full (non-incremental)
// walk. Implementations issue prefetch internally; callers see only
// the synchronous per-tuple callback.
type Traversal interface {
	Walk(ctx context.Context, objsetID uint64, fromTxg uint64, fn func(Tuple) error) error
}

// ArcCache reads block contents for a tuple already known to exist
// (spec: "ARC reads use priority ASYNC_READ and WAIT semantics"). The
// whole Tuple is passed, not just its BlockPointer, because a real
// cache addresses blocks by DVA embedded in the bp while this
// interface's fakes may need the tuple's Bookmark to locate the data.
type ArcCache interface {
	Read(ctx context.Context, objsetID uint64, t Tuple) ([]byte, error)
}

// ErrNotFound is returned by ObjectStore/DatasetNamespace lookups for
// an object or dataset that does not exist.
var ErrNotFound = errors.New("dsl: not found")

// Tx is one transaction against an object set. Every Applier (C8)
// opens its own; there is no stream-wide transaction (spec §4.8/§9).
type Tx interface {
	Assign(ctx context.Context) error
	Commit() error
	Abort(err error)
}

// ObjectStore is the transactional object store spec.md §1 names:
// object_claim, object_reclaim, write, free_range, bonus_hold,
// spill_hold, and the tx_assign/commit/abort discipline.
type ObjectStore interface {
	Begin(objsetID uint64) Tx

	ObjectExists(ctx context.Context, objsetID, object uint64) (bool, error)
	ClaimObject(tx Tx, objsetID uint64, dn Dnode) error
	ReclaimObject(tx Tx, objsetID uint64, dn Dnode) error
	FreeObject(tx Tx, objsetID, object uint64) error

	Write(tx Tx, objsetID, object, offset, length uint64, data []byte) error
	FreeRange(tx Tx, objsetID, object, offset, length uint64) error

	BonusHold(ctx context.Context, objsetID, object uint64) ([]byte, error)
	SpillHold(ctx context.Context, objsetID, object uint64) ([]byte, []byte, error) // (bonus, spill)
	GrowSpill(tx Tx, objsetID, object, length uint64) error
	WriteSpill(tx Tx, objsetID, object uint64, data []byte) error

	// ReadData returns object's current data block contents, the
	// read-back half of Write that WRITE_BYREF's dedup resolution needs
	// (spec §4.8): the referenced bytes already live in a previously
	// received object set and must be copied forward into the new one.
	ReadData(ctx context.Context, objsetID, object uint64) ([]byte, error)
}

// SnapshotInfo is the subset of a snapshot's metadata the receive-side
// lineage walk and the send-side eligibility check need.
type SnapshotInfo struct {
	Name        string
	GUID        uint64
	ObjsetID    uint64
	CreationTXG uint64
}

// DatasetHandle is an opaque, reference-counted handle to a dataset or
// snapshot, as returned by Hold/Own (spec §1: hold, own, rele,
// snapshot_sync, clone_swap, destroy_head).
type DatasetHandle struct {
	Name     string
	ObjsetID uint64
}

// DatasetNamespace is the snapshot/clone namespace external
// collaborator (spec §1/§6).
type DatasetNamespace interface {
	Exists(ctx context.Context, name string) (bool, error)
	ResolveSnapshot(ctx context.Context, name string) (SnapshotInfo, error)

	// IsBefore reports whether from is an ancestor of to within the
	// same filesystem lineage (spec §4.5's dsl_dataset_is_before).
	IsBefore(ctx context.Context, from, to SnapshotInfo) (bool, error)

	Hold(ctx context.Context, name string) (DatasetHandle, error)
	LongHold(ctx context.Context, h DatasetHandle) error
	LongRele(h DatasetHandle)
	Rele(h DatasetHandle)

	Own(ctx context.Context, name string) (DatasetHandle, error)
	Disown(h DatasetHandle)

	// PrevSnapshot walks one step back in h's snapshot lineage.
	PrevSnapshot(ctx context.Context, h DatasetHandle) (*SnapshotInfo, error)
	PrevSnapTXG(ctx context.Context, h DatasetHandle) (uint64, error)
	// SnapshotHistory returns h's snapshots oldest-first. The core (not
	// the namespace) performs the fromguid lineage walk over the
	// result, since the walk's edge-case semantics are spec-owned
	// (spec §9 Open Question), not namespace-owned.
	SnapshotHistory(ctx context.Context, h DatasetHandle) ([]SnapshotInfo, error)
	// ModifiedSinceLastSnap reports whether h has been written to since
	// its most recent snapshot (spec §4.6 `modified_since_lastsnap`).
	ModifiedSinceLastSnap(ctx context.Context, h DatasetHandle) (bool, error)

	CreateTempClone(ctx context.Context, originSnap string, name string) (DatasetHandle, error)
	CreateDataset(ctx context.Context, parentFS string, originSnap *SnapshotInfo) (DatasetHandle, error)

	SetInconsistent(tx Tx, h DatasetHandle, inconsistent bool) error
	IsCaseInsensitive(ctx context.Context, h DatasetHandle) (bool, error)
	ParentDir(h DatasetHandle) string

	SnapshotSync(tx Tx, h DatasetHandle, snapName string, creationTime, guid uint64) (newObjsetID uint64, err error)
	CloneSwapCheck(ctx context.Context, clone, head DatasetHandle, force bool, owner string) error
	CloneSwap(tx Tx, clone, head DatasetHandle) error
	DestroyHeadCheck(ctx context.Context, h DatasetHandle) error
	DestroyHead(tx Tx, h DatasetHandle) error

	// ListInconsistent returns every dataset currently marked
	// INCONSISTENT (spec §4.6 "mark its flags INCONSISTENT" / §4.10
	// "clear INCONSISTENT on success"), the surface a housekeeping
	// sweep walks to find abandoned %recv temp clones and partial
	// receives a crashed process left behind (spec §8 property 6,
	// made self-healing rather than relying solely on the next
	// recv_begin's EBUSY collision check).
	ListInconsistent(ctx context.Context) ([]InconsistentDataset, error)
}

// InconsistentDataset describes one dataset flagged INCONSISTENT and
// when it was marked, so a housekeeping sweep can age it against a
// TTL before destroying it.
type InconsistentDataset struct {
	Handle   DatasetHandle
	MarkedAt time.Time
}

// SyncTaskScheduler runs a two-phase (check, sync) operation atomically
// with other sync-tasks in the same txg (spec GLOSSARY: "sync-task").
type SyncTaskScheduler interface {
	RunSyncTask(ctx context.Context, objsetID uint64, check func(context.Context) error, sync func(Tx) error) error
}

// CleanupHandle releases whatever a CleanupRegistry.Register call
// retained when it is closed.
type CleanupHandle interface {
	Close() error
}

// CleanupRegistry models the on-exit hook registry the GUID Map's
// lifetime is anchored to (spec §4.9, §9: "replace the on-exit
// registry with an RAII-style owner").
type CleanupRegistry interface {
	Register(cleanupFD int, onClose func()) (CleanupHandle, error)
}

// SignalSource reports cooperative cancellation requests, checked once
// per traversal callback and once per receive loop iteration (spec
// §5).
type SignalSource interface {
	Interrupted() bool
}

// PropertyStore answers the handful of pool/dataset property questions
// the orchestrator and Begin need (spec §4.5 CI_DATA, §4.6 SA pool
// version gate).
type PropertyStore interface {
	PoolSupportsSASpill(ctx context.Context) (bool, error)
	SpaceWritten(ctx context.Context, from, to SnapshotInfo) (uint64, error)
	UncompressedBytes(ctx context.Context, snap SnapshotInfo) (uint64, error)
}

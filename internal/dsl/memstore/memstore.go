// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memstore is an in-memory reference implementation of every
// interface in internal/dsl, standing in for the real object store,
// snapshot namespace, traversal iterator, ARC cache, and sync-task
// scheduler so internal/send and internal/recv are fully testable
// without a real pool — the role the teacher's in-memory fakes play
// in internal/server's tests for its storage/observability
// interfaces. It is not a performance-minded or crash-consistent
// implementation; it exists to exercise the core's contracts.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/snapstream/zfssend/internal/dsl"
)

const lengthInf = ^uint64(0)

type object struct {
	dn    dsl.Dnode
	data  []byte
	spill []byte
}

type objset struct {
	id      uint64
	kind    uint64
	objects map[uint64]*object
	nextObj uint64
}

func (o *objset) clone() *objset {
	n := &objset{id: o.id, kind: o.kind, objects: make(map[uint64]*object, len(o.objects)), nextObj: o.nextObj}
	for k, v := range o.objects {
		cp := *v
		cp.data = append([]byte(nil), v.data...)
		cp.spill = append([]byte(nil), v.spill...)
		cp.dn.Bonus = append([]byte(nil), v.dn.Bonus...)
		n.objects[k] = &cp
	}
	return n
}

type datasetRec struct {
	name              string
	objsetID          uint64
	guid              uint64
	parentFS          string
	isSnapshot        bool
	origin            string
	snapshots         []dsl.SnapshotInfo
	inconsistent      bool
	inconsistentSince time.Time
	owner             string
	creationTXG       uint64
	modifiedSinceSnap bool
}

// Store backs every internal/dsl interface. The zero value is not
// usable; use New.
type Store struct {
	mu     sync.Mutex
	taskMu sync.Mutex

	datasets map[string]*datasetRec
	objsets  map[uint64]*objset

	nextObjset uint64
	nextGUID   uint64
	currentTXG uint64
	saSpill    bool

	cleanupHooks map[int]func()
	nextHookID   int
	interrupted  bool
}

// New returns an empty Store with SA_SPILL support enabled (pool
// version is not otherwise modeled).
func New() *Store {
	return &Store{
		datasets:     map[string]*datasetRec{},
		objsets:      map[uint64]*objset{},
		cleanupHooks: map[int]func(){},
		nextObjset:   1,
		nextGUID:     1,
		currentTXG:   1,
		saSpill:      true,
	}
}

// --- test/setup helpers (not part of the dsl interfaces) ---

// CreateFilesystem seeds an empty, live filesystem.
func (s *Store) CreateFilesystem(name, parentFS string) dsl.DatasetHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObjset
	s.nextObjset++
	s.objsets[id] = &objset{id: id, objects: map[uint64]*object{}, nextObj: 1}
	s.datasets[name] = &datasetRec{name: name, objsetID: id, parentFS: parentFS, creationTXG: s.currentTXG}
	return dsl.DatasetHandle{Name: name, ObjsetID: id}
}

// SeedObject directly installs an object into a live filesystem's
// object set, bypassing the transactional API, for building fixtures.
func (s *Store) SeedObject(fsName string, obj uint64, dn dsl.Dnode, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.datasets[fsName]
	os := s.objsets[ds.objsetID]
	dn.Object = obj
	os.objects[obj] = &object{dn: dn, data: append([]byte(nil), data...)}
	if obj >= os.nextObj {
		os.nextObj = obj + 1
	}
}

// SeedSpill attaches a spill-block payload to an already-seeded object,
// for fixtures that need to exercise the SPILL record path (Walk only
// emits a KindSpill tuple for objects whose spill buffer is non-empty).
func (s *Store) SeedSpill(fsName string, obj uint64, spill []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.datasets[fsName]
	os := s.objsets[ds.objsetID]
	os.objects[obj].spill = append([]byte(nil), spill...)
}

// Snapshot freezes fsName's current object set as a new named
// snapshot and returns its info.
func (s *Store) Snapshot(fsName, snapName string) dsl.SnapshotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.datasets[fsName]
	s.currentTXG++
	guid := s.nextGUID
	s.nextGUID++

	frozen := s.objsets[ds.objsetID].clone()
	frozen.id = s.nextObjset
	s.nextObjset++
	s.objsets[frozen.id] = frozen

	info := dsl.SnapshotInfo{
		Name:        fsName + "@" + snapName,
		GUID:        guid,
		ObjsetID:    frozen.id,
		CreationTXG: s.currentTXG,
	}
	ds.snapshots = append(ds.snapshots, info)
	s.datasets[info.Name] = &datasetRec{
		name: info.Name, objsetID: frozen.id, isSnapshot: true,
		guid: guid, creationTXG: info.CreationTXG,
	}
	return info
}

// ObjsetContents returns a snapshot of (object -> data) for assertions
// in round-trip tests.
func (s *Store) ObjsetContents(objsetID uint64) map[uint64][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	os := s.objsets[objsetID]
	out := map[uint64][]byte{}
	for k, v := range os.objects {
		out[k] = append([]byte(nil), v.data...)
	}
	return out
}

// SetInterrupted flips the SignalSource state for cancellation tests.
func (s *Store) SetInterrupted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = v
}

// --- dsl.SignalSource ---

func (s *Store) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}

// --- dsl.ArcCache ---

func (s *Store) Read(ctx context.Context, objsetID uint64, t dsl.Tuple) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.objsets[objsetID]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	obj, ok := os.objects[t.Mark.Object]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	switch t.Kind {
	case dsl.KindSpill:
		return append([]byte(nil), obj.spill...), nil
	case dsl.KindData:
		return append([]byte(nil), obj.data...), nil
	default:
		return nil, fmt.Errorf("memstore: ArcCache.Read: unsupported tuple kind %v", t.Kind)
	}
}

// --- dsl.Traversal ---

// Walk yields, for every object in ascending object order, one
// KindDnode tuple (DN set, BP non-nil), then a KindSpill tuple if the
// object has a spill block, then one KindData tuple at blkid 0 carrying
// the whole of that object's data as a single block if it has any
// data. This is a deliberate simplification of real multi-level block
// traversal: objects are not split across multiple data blocks,
// fromTxg is ignored, and no KindIndirect or bp==nil (hole) tuples are
// produced, so the end-of-object FREE comes only from
// send.Aggregator.DumpObject.
func (s *Store) Walk(ctx context.Context, objsetID uint64, fromTxg uint64, fn func(dsl.Tuple) error) error {
	s.mu.Lock()
	os, ok := s.objsets[objsetID]
	if !ok {
		s.mu.Unlock()
		return dsl.ErrNotFound
	}
	objs := make([]uint64, 0, len(os.objects))
	for o := range os.objects {
		objs = append(objs, o)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i] < objs[j] })
	snapshotObjs := make(map[uint64]*object, len(objs))
	for _, o := range objs {
		cp := *os.objects[o]
		snapshotObjs[o] = &cp
	}
	s.mu.Unlock()

	for _, o := range objs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.Interrupted() {
			return fmt.Errorf("memstore: traversal interrupted")
		}
		obj := snapshotObjs[o]
		dn := obj.dn
		if err := fn(dsl.Tuple{Kind: dsl.KindDnode, BP: &dsl.BlockPointer{}, Mark: dsl.Bookmark{Object: o}, DN: &dn}); err != nil {
			return err
		}
		if len(obj.spill) > 0 {
			if err := fn(dsl.Tuple{
				Kind: dsl.KindSpill,
				BP:   &dsl.BlockPointer{LogicalSize: uint64(len(obj.spill))},
				Mark: dsl.Bookmark{Object: o},
				DN:   &dn,
			}); err != nil {
				return err
			}
		}
		if len(obj.data) > 0 {
			if err := fn(dsl.Tuple{
				Kind: dsl.KindData,
				BP:   &dsl.BlockPointer{LogicalSize: uint64(len(obj.data))},
				Mark: dsl.Bookmark{Object: o, BlkID: 0},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// DataFor and SpillFor return an object's data or spill bytes addressed
// directly by (objset, object), since memstore never splits an object
// across multiple physical blocks; DataFor backs ReadData, and both
// serve test assertions. send.Walker reads blocks through
// ArcCache.Read (Store.Read above) instead.
func (s *Store) DataFor(objsetID, object uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.objsets[objsetID]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	obj, ok := os.objects[object]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// ReadData implements dsl.ObjectStore.ReadData; ctx is unused, matching
// the other read accessors in this fake.
func (s *Store) ReadData(ctx context.Context, objsetID, object uint64) ([]byte, error) {
	_ = ctx
	return s.DataFor(objsetID, object)
}

func (s *Store) SpillFor(objsetID, object uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.objsets[objsetID]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	obj, ok := os.objects[object]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	return append([]byte(nil), obj.spill...), nil
}

// --- dsl.ObjectStore ---

type memTx struct {
	store    *Store
	objsetID uint64
	ops      []func(*objset)
	done     bool
}

func (t *memTx) Assign(ctx context.Context) error {
	_ = ctx
	return nil
}

func (t *memTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	os := t.store.objsets[t.objsetID]
	for _, op := range t.ops {
		op(os)
	}
	t.done = true
	return nil
}

func (t *memTx) Abort(err error) {
	_ = err
	t.ops = nil
	t.done = true
}

func (s *Store) Begin(objsetID uint64) dsl.Tx {
	return &memTx{store: s, objsetID: objsetID}
}

func asMemTx(tx dsl.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok {
		return nil, fmt.Errorf("memstore: foreign Tx implementation")
	}
	return t, nil
}

func (s *Store) ObjectExists(ctx context.Context, objsetID, object uint64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.objsets[objsetID]
	if !ok {
		return false, dsl.ErrNotFound
	}
	_, exists := os.objects[object]
	return exists, nil
}

func (s *Store) ClaimObject(tx dsl.Tx, objsetID uint64, dn dsl.Dnode) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(os *objset) {
		os.objects[dn.Object] = &object{dn: dn}
		if dn.Object >= os.nextObj {
			os.nextObj = dn.Object + 1
		}
	})
	return nil
}

func (s *Store) ReclaimObject(tx dsl.Tx, objsetID uint64, dn dsl.Dnode) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(os *objset) {
		existing, ok := os.objects[dn.Object]
		if !ok {
			os.objects[dn.Object] = &object{dn: dn}
			return
		}
		existing.dn = dn
	})
	return nil
}

func (s *Store) FreeObject(tx dsl.Tx, objsetID, object uint64) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(os *objset) {
		delete(os.objects, object)
	})
	return nil
}

func (s *Store) Write(tx dsl.Tx, objsetID, objNum, offset, length uint64, data []byte) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	t.ops = append(t.ops, func(os *objset) {
		obj, ok := os.objects[objNum]
		if !ok {
			obj = &object{}
			os.objects[objNum] = obj
		}
		end := offset + length
		if uint64(len(obj.data)) < end {
			grown := make([]byte, end)
			copy(grown, obj.data)
			obj.data = grown
		}
		copy(obj.data[offset:end], payload)
	})
	return nil
}

func (s *Store) FreeRange(tx dsl.Tx, objsetID, object, offset, length uint64) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(os *objset) {
		obj, ok := os.objects[object]
		if !ok {
			return
		}
		if offset >= uint64(len(obj.data)) {
			return
		}
		if length == lengthInf || offset+length >= uint64(len(obj.data)) {
			obj.data = obj.data[:offset]
			return
		}
		for i := offset; i < offset+length; i++ {
			obj.data[i] = 0
		}
	})
	return nil
}

func (s *Store) BonusHold(ctx context.Context, objsetID, object uint64) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.objsets[objsetID]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	obj, ok := os.objects[object]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	return append([]byte(nil), obj.dn.Bonus...), nil
}

func (s *Store) SpillHold(ctx context.Context, objsetID, object uint64) ([]byte, []byte, error) {
	bonus, err := s.BonusHold(ctx, objsetID, object)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	os := s.objsets[objsetID]
	obj := os.objects[object]
	return bonus, append([]byte(nil), obj.spill...), nil
}

func (s *Store) GrowSpill(tx dsl.Tx, objsetID, objNum, length uint64) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(os *objset) {
		obj, ok := os.objects[objNum]
		if !ok {
			obj = &object{}
			os.objects[objNum] = obj
		}
		if uint64(len(obj.spill)) < length {
			grown := make([]byte, length)
			copy(grown, obj.spill)
			obj.spill = grown
		}
	})
	return nil
}

func (s *Store) WriteSpill(tx dsl.Tx, objsetID, objNum uint64, data []byte) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	t.ops = append(t.ops, func(os *objset) {
		obj, ok := os.objects[objNum]
		if !ok {
			obj = &object{}
			os.objects[objNum] = obj
		}
		if uint64(len(obj.spill)) < uint64(len(payload)) {
			obj.spill = make([]byte, len(payload))
		}
		copy(obj.spill, payload)
	})
	return nil
}

// --- dsl.SyncTaskScheduler ---

func (s *Store) RunSyncTask(ctx context.Context, objsetID uint64, check func(context.Context) error, sync func(dsl.Tx) error) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if err := check(ctx); err != nil {
		return err
	}
	tx := s.Begin(objsetID)
	if err := tx.Assign(ctx); err != nil {
		return err
	}
	if err := sync(tx); err != nil {
		tx.Abort(err)
		return err
	}
	return tx.Commit()
}

// --- dsl.CleanupRegistry ---

type memCleanupHandle struct {
	store *Store
	fd    int
}

func (h *memCleanupHandle) Close() error {
	h.store.mu.Lock()
	fn, ok := h.store.cleanupHooks[h.fd]
	delete(h.store.cleanupHooks, h.fd)
	h.store.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
	return nil
}

func (s *Store) Register(cleanupFD int, onClose func()) (dsl.CleanupHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cleanupFD < 0 {
		return nil, fmt.Errorf("memstore: invalid cleanup fd %d", cleanupFD)
	}
	s.cleanupHooks[cleanupFD] = onClose
	return &memCleanupHandle{store: s, fd: cleanupFD}, nil
}

// --- dsl.PropertyStore ---

func (s *Store) PoolSupportsSASpill(ctx context.Context) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saSpill, nil
}

func (s *Store) SpaceWritten(ctx context.Context, from, to dsl.SnapshotInfo) (uint64, error) {
	_ = ctx
	toContents := s.ObjsetContents(to.ObjsetID)
	fromContents := s.ObjsetContents(from.ObjsetID)
	var n uint64
	for obj, data := range toContents {
		if !bytesEqual(data, fromContents[obj]) {
			n += uint64(len(data))
		}
	}
	return n, nil
}

func (s *Store) UncompressedBytes(ctx context.Context, snap dsl.SnapshotInfo) (uint64, error) {
	_ = ctx
	var n uint64
	for _, data := range s.ObjsetContents(snap.ObjsetID) {
		n += uint64(len(data))
	}
	return n, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- dsl.DatasetNamespace ---

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.datasets[name]
	return ok, nil
}

func (s *Store) ResolveSnapshot(ctx context.Context, name string) (dsl.SnapshotInfo, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok || !ds.isSnapshot {
		return dsl.SnapshotInfo{}, dsl.ErrNotFound
	}
	return dsl.SnapshotInfo{Name: name, GUID: ds.guid, ObjsetID: ds.objsetID, CreationTXG: ds.creationTXG}, nil
}

func (s *Store) IsBefore(ctx context.Context, from, to dsl.SnapshotInfo) (bool, error) {
	_ = ctx
	if from.CreationTXG >= to.CreationTXG {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fsName := to.Name
	for i := len(to.Name) - 1; i >= 0; i-- {
		if to.Name[i] == '@' {
			fsName = to.Name[:i]
			break
		}
	}
	ds, ok := s.datasets[fsName]
	if !ok {
		return false, nil
	}
	for _, snap := range ds.snapshots {
		if snap.GUID == from.GUID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Hold(ctx context.Context, name string) (dsl.DatasetHandle, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return dsl.DatasetHandle{}, dsl.ErrNotFound
	}
	return dsl.DatasetHandle{Name: name, ObjsetID: ds.objsetID}, nil
}

func (s *Store) LongHold(ctx context.Context, h dsl.DatasetHandle) error { _ = ctx; _ = h; return nil }
func (s *Store) LongRele(h dsl.DatasetHandle)                           { _ = h }
func (s *Store) Rele(h dsl.DatasetHandle)                               { _ = h }

func (s *Store) Own(ctx context.Context, name string) (dsl.DatasetHandle, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return dsl.DatasetHandle{}, dsl.ErrNotFound
	}
	if ds.owner != "" {
		return dsl.DatasetHandle{}, fmt.Errorf("memstore: %s already owned", name)
	}
	ds.owner = "recv"
	return dsl.DatasetHandle{Name: name, ObjsetID: ds.objsetID}, nil
}

func (s *Store) Disown(h dsl.DatasetHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[h.Name]; ok {
		ds.owner = ""
	}
}

func (s *Store) PrevSnapshot(ctx context.Context, h dsl.DatasetHandle) (*dsl.SnapshotInfo, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[h.Name]
	if !ok || len(ds.snapshots) == 0 {
		return nil, nil
	}
	last := ds.snapshots[len(ds.snapshots)-1]
	return &last, nil
}

func (s *Store) SnapshotHistory(ctx context.Context, h dsl.DatasetHandle) ([]dsl.SnapshotInfo, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[h.Name]
	if !ok {
		return nil, dsl.ErrNotFound
	}
	out := make([]dsl.SnapshotInfo, len(ds.snapshots))
	copy(out, ds.snapshots)
	return out, nil
}

// ModifiedSinceLastSnap is false unless a test has set it: memstore
// never tracks writes to a live filesystem independent of its
// snapshots, so tests exercising the ETXTBSY path set it explicitly via
// SetModifiedSinceLastSnap.
func (s *Store) ModifiedSinceLastSnap(ctx context.Context, h dsl.DatasetHandle) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[h.Name]
	if !ok {
		return false, dsl.ErrNotFound
	}
	return ds.modifiedSinceSnap, nil
}

// SetModifiedSinceLastSnap lets tests force the ETXTBSY path.
func (s *Store) SetModifiedSinceLastSnap(fsName string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[fsName]; ok {
		ds.modifiedSinceSnap = v
	}
}

func (s *Store) PrevSnapTXG(ctx context.Context, h dsl.DatasetHandle) (uint64, error) {
	info, err := s.PrevSnapshot(ctx, h)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, nil
	}
	return info.CreationTXG, nil
}

func (s *Store) CreateTempClone(ctx context.Context, originSnap string, name string) (dsl.DatasetHandle, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	origin, ok := s.datasets[originSnap]
	if !ok {
		return dsl.DatasetHandle{}, dsl.ErrNotFound
	}
	if _, exists := s.datasets[name]; exists {
		return dsl.DatasetHandle{}, fmt.Errorf("memstore: %s already exists", name)
	}
	cloned := s.objsets[origin.objsetID].clone()
	cloned.id = s.nextObjset
	s.nextObjset++
	s.objsets[cloned.id] = cloned
	s.datasets[name] = &datasetRec{name: name, objsetID: cloned.id, origin: originSnap, creationTXG: s.currentTXG}
	return dsl.DatasetHandle{Name: name, ObjsetID: cloned.id}, nil
}

func (s *Store) CreateDataset(ctx context.Context, parentFS string, originSnap *dsl.SnapshotInfo) (dsl.DatasetHandle, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[parentFS]; !ok {
		return dsl.DatasetHandle{}, dsl.ErrNotFound
	}
	var id uint64
	if originSnap != nil {
		cloned := s.objsets[originSnap.ObjsetID].clone()
		cloned.id = s.nextObjset
		s.nextObjset++
		s.objsets[cloned.id] = cloned
		id = cloned.id
	} else {
		id = s.nextObjset
		s.nextObjset++
		s.objsets[id] = &objset{id: id, objects: map[uint64]*object{}, nextObj: 1}
	}
	origin := ""
	if originSnap != nil {
		origin = originSnap.Name
	}
	s.datasets[parentFS+"/new"] = &datasetRec{name: parentFS + "/new", objsetID: id, parentFS: parentFS, origin: origin, creationTXG: s.currentTXG}
	return dsl.DatasetHandle{Name: parentFS + "/new", ObjsetID: id}, nil
}

func (s *Store) SetInconsistent(tx dsl.Tx, h dsl.DatasetHandle, inconsistent bool) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(*objset) {
		if ds, ok := s.datasets[h.Name]; ok {
			ds.inconsistent = inconsistent
			if inconsistent {
				ds.inconsistentSince = time.Now()
			} else {
				ds.inconsistentSince = time.Time{}
			}
		}
	})
	return nil
}

// ListInconsistent implements dsl.DatasetNamespace.ListInconsistent.
func (s *Store) ListInconsistent(ctx context.Context) ([]dsl.InconsistentDataset, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dsl.InconsistentDataset
	for _, ds := range s.datasets {
		if !ds.inconsistent {
			continue
		}
		out = append(out, dsl.InconsistentDataset{
			Handle:   dsl.DatasetHandle{Name: ds.name, ObjsetID: ds.objsetID},
			MarkedAt: ds.inconsistentSince,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle.Name < out[j].Handle.Name })
	return out, nil
}

func (s *Store) IsCaseInsensitive(ctx context.Context, h dsl.DatasetHandle) (bool, error) {
	_, _ = ctx, h
	return false, nil
}

func (s *Store) ParentDir(h dsl.DatasetHandle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[h.Name]; ok {
		return ds.parentFS
	}
	return ""
}

func (s *Store) SnapshotSync(tx dsl.Tx, h dsl.DatasetHandle, snapName string, creationTime, guid uint64) (uint64, error) {
	t, err := asMemTx(tx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	newObjsetID := s.nextObjset
	s.nextObjset++
	s.mu.Unlock()
	t.ops = append(t.ops, func(os *objset) {
		frozen := os.clone()
		frozen.id = newObjsetID
		s.objsets[frozen.id] = frozen
		fullName := h.Name + "@" + snapName
		s.datasets[fullName] = &datasetRec{name: fullName, objsetID: frozen.id, isSnapshot: true, guid: guid, creationTXG: creationTime}
		if ds, ok := s.datasets[h.Name]; ok {
			ds.snapshots = append(ds.snapshots, dsl.SnapshotInfo{Name: fullName, GUID: guid, ObjsetID: frozen.id, CreationTXG: creationTime})
		}
	})
	return newObjsetID, nil
}

func (s *Store) CloneSwapCheck(ctx context.Context, clone, head dsl.DatasetHandle, force bool, owner string) error {
	_, _, _, _ = ctx, clone, head, force
	_ = owner
	return nil
}

func (s *Store) CloneSwap(tx dsl.Tx, clone, head dsl.DatasetHandle) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(*objset) {
		headDS, okH := s.datasets[head.Name]
		cloneDS, okC := s.datasets[clone.Name]
		if !okH || !okC {
			return
		}
		headDS.objsetID, cloneDS.objsetID = cloneDS.objsetID, headDS.objsetID
	})
	return nil
}

func (s *Store) DestroyHeadCheck(ctx context.Context, h dsl.DatasetHandle) error {
	_, _ = ctx, h
	return nil
}

func (s *Store) DestroyHead(tx dsl.Tx, h dsl.DatasetHandle) error {
	t, err := asMemTx(tx)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func(*objset) {
		delete(s.datasets, h.Name)
	})
	return nil
}

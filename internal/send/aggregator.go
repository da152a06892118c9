// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package send

import (
	"io"
	"sync"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/wire"
	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingFree
	pendingFreeObjects
)

// Aggregator coalesces adjacent FREE and FREEOBJECTS records, flushing
// the pending one whenever a different record type is emitted (spec
// §4.3). At most one record is ever deferred at a time; DumpData,
// DumpSpill, and DumpObject always flush first and never aggregate.
type Aggregator struct {
	mu     sync.Mutex
	w      io.Writer
	st     *fletcher.State
	toGUID uint64

	kind     pendingKind
	freeObj  uint64
	freeOff  uint64
	freeLen  uint64
	foFirst  uint64
	foNum    uint64
}

// NewAggregator returns an Aggregator that emits toGUID-stamped
// records through w, folding every byte into st.
func NewAggregator(w io.Writer, st *fletcher.State, toGUID uint64) *Aggregator {
	return &Aggregator{w: w, st: st, toGUID: toGUID}
}

// DumpFree handles a freed byte range. length == wire.LengthInf is
// always emitted immediately, never deferred (spec §4.3 tie-break).
func (a *Aggregator) DumpFree(object, offset, length uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dumpFreeLocked(object, offset, length)
}

func (a *Aggregator) dumpFreeLocked(object, offset, length uint64) error {
	if a.kind != pendingNone && a.kind != pendingFree {
		if err := a.flushLocked(); err != nil {
			return err
		}
	}
	if a.kind == pendingFree && a.freeObj == object && a.freeOff+a.freeLen == offset && length != wire.LengthInf {
		a.freeLen += length
		return nil
	}
	if a.kind == pendingFree {
		if err := a.flushLocked(); err != nil {
			return err
		}
	}
	a.kind = pendingFree
	a.freeObj, a.freeOff, a.freeLen = object, offset, length
	if length == wire.LengthInf {
		return a.flushLocked()
	}
	return nil
}

// DumpFreeObjects handles a freed run of object numbers.
func (a *Aggregator) DumpFreeObjects(firstObj, numObjs uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dumpFreeObjectsLocked(firstObj, numObjs)
}

func (a *Aggregator) dumpFreeObjectsLocked(firstObj, numObjs uint64) error {
	if a.kind != pendingNone && a.kind != pendingFreeObjects {
		if err := a.flushLocked(); err != nil {
			return err
		}
	}
	if a.kind == pendingFreeObjects && a.foFirst+a.foNum == firstObj {
		a.foNum += numObjs
		return nil
	}
	if a.kind == pendingFreeObjects {
		if err := a.flushLocked(); err != nil {
			return err
		}
	}
	a.kind = pendingFreeObjects
	a.foFirst, a.foNum = firstObj, numObjs
	return nil
}

// DumpData flushes any pending aggregation and emits a WRITE record.
func (a *Aggregator) DumpData(hdr wire.WriteHeader, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.flushLocked(); err != nil {
		return err
	}
	hdr.ToGUID = a.toGUID
	return wire.WriteWrite(a.w, a.st, hdr, data)
}

// DumpSpill flushes any pending aggregation and emits a SPILL record.
func (a *Aggregator) DumpSpill(object uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.flushLocked(); err != nil {
		return err
	}
	hdr := wire.SpillHeader{ToGUID: a.toGUID, Object: object, Length: uint64(len(data))}
	return wire.WriteSpill(a.w, a.st, hdr, data)
}

// DumpObject implements spec §4.4's dump_object: a dnode with no type
// (dn == nil or dn.Type == dsl.ObjTypeNone) is really a free, delegated
// to DumpFreeObjects(object, 1). Otherwise it flushes pending, emits
// OBJECT with the bonus buffer, then emits a terminal
// DumpFree(object, (maxblkid+1)*blksz, ∞) so the receiver truncates
// anything beyond the object's last written block.
func (a *Aggregator) DumpObject(object uint64, dn *dsl.Dnode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if dn == nil || dn.Type == dsl.ObjTypeNone {
		return a.dumpFreeObjectsLocked(object, 1)
	}
	if err := a.flushLocked(); err != nil {
		return err
	}
	hdr := wire.ObjectHeader{
		ToGUID: a.toGUID, Object: object, DNType: dn.Type, BonusType: dn.BonusType,
		BlkSZ: dn.DataBlkSz, BonusLen: uint64(len(dn.Bonus)),
		ChecksumType: dn.ChecksumType, Compress: dn.Compress,
	}
	if err := wire.WriteObject(a.w, a.st, hdr, dn.Bonus); err != nil {
		return err
	}
	span := dn.Span(0)
	return a.dumpFreeLocked(object, (dn.MaxBlkID+1)*span, wire.LengthInf)
}

// Flush emits whatever record is currently deferred, if any. The
// Orchestrator calls this once after traversal completes (spec §4.5
// step 6), just before it writes END; BEGIN and END are written
// directly with wire.WriteBegin/WriteEnd, not through the Aggregator.
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Aggregator) flushLocked() error {
	switch a.kind {
	case pendingFree:
		hdr := wire.FreeHeader{ToGUID: a.toGUID, Object: a.freeObj, Offset: a.freeOff, Length: a.freeLen}
		a.kind = pendingNone
		return wire.WriteFree(a.w, a.st, hdr)
	case pendingFreeObjects:
		hdr := wire.FreeObjectsHeader{ToGUID: a.toGUID, FirstObj: a.foFirst, NumObjs: a.foNum}
		a.kind = pendingNone
		return wire.WriteFreeObjects(a.w, a.st, hdr)
	default:
		return nil
	}
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package send_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/dsl/memstore"
	"github.com/snapstream/zfssend/internal/send"
	"github.com/snapstream/zfssend/internal/wire"
	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// S1: full send of an empty snapshot.
func TestSendObjEmptySnapshot(t *testing.T) {
	store := memstore.New()
	store.CreateFilesystem("tank/data", "tank")
	snap := store.Snapshot("tank/data", "s1")

	orch := send.NewOrchestrator(store, store, store, store, store, discardLogger(), send.Options{})
	var buf bytes.Buffer
	if err := orch.SendObj(context.Background(), &buf, snap, nil); err != nil {
		t.Fatalf("SendObj: %v", err)
	}

	var rst fletcher.State
	begin, _, order, err := wire.ReadBegin(&buf, &rst)
	if err != nil {
		t.Fatalf("ReadBegin: %v", err)
	}
	if begin.ToGUID != snap.GUID || begin.FromGUID != 0 {
		t.Fatalf("begin = %+v", *begin)
	}
	typ, err := wire.ReadType(&buf, &rst, order)
	if err != nil || typ != wire.TypeEnd {
		t.Fatalf("expected END immediately after BEGIN for an empty snapshot, got %v (%v)", typ, err)
	}
	end, err := wire.ReadEndBody(&buf, &rst, order)
	if err != nil {
		t.Fatalf("ReadEndBody: %v", err)
	}
	if end.ToGUID != snap.GUID {
		t.Fatalf("end.ToGUID = %d, want %d", end.ToGUID, snap.GUID)
	}
	if buf.Len() != 0 {
		t.Fatalf("%d trailing bytes", buf.Len())
	}
}

// S2: full send of one object with one 4 KiB write at offset 0 emits
// OBJECT, the terminal FREE, WRITE, then END, in that order.
func TestSendObjOneObjectOneWrite(t *testing.T) {
	store := memstore.New()
	store.CreateFilesystem("tank/data", "tank")
	data := bytes.Repeat([]byte{0xAB}, 4096)
	store.SeedObject("tank/data", 5, dsl.Dnode{
		Type: dsl.ObjTypePlainFileContents, DataBlkSz: 4096, MaxBlkID: 0,
	}, data)
	snap := store.Snapshot("tank/data", "s1")

	orch := send.NewOrchestrator(store, store, store, store, store, discardLogger(), send.Options{})
	var buf bytes.Buffer
	if err := orch.SendObj(context.Background(), &buf, snap, nil); err != nil {
		t.Fatalf("SendObj: %v", err)
	}

	var rst fletcher.State
	if _, _, order, err := wire.ReadBegin(&buf, &rst); err != nil {
		t.Fatalf("ReadBegin: %v", err)
	} else {
		want := []wire.Type{wire.TypeObject, wire.TypeFree, wire.TypeWrite, wire.TypeEnd}
		for _, w := range want {
			typ, err := wire.ReadType(&buf, &rst, order)
			if err != nil {
				t.Fatalf("ReadType: %v", err)
			}
			if typ != w {
				t.Fatalf("type = %v, want %v", typ, w)
			}
			switch typ {
			case wire.TypeObject:
				if _, _, err := wire.ReadObjectBody(&buf, &rst, order); err != nil {
					t.Fatalf("ReadObjectBody: %v", err)
				}
			case wire.TypeFree:
				hdr, err := wire.ReadFreeBody(&buf, &rst, order)
				if err != nil {
					t.Fatalf("ReadFreeBody: %v", err)
				}
				if hdr.Length != wire.LengthInf {
					t.Fatalf("terminal free length = %#x, want LengthInf", hdr.Length)
				}
			case wire.TypeWrite:
				hdr, gotData, err := wire.ReadWriteBody(&buf, &rst, order)
				if err != nil {
					t.Fatalf("ReadWriteBody: %v", err)
				}
				if hdr.Length != 4096 || !bytes.Equal(gotData, data) {
					t.Fatalf("write mismatch: hdr=%+v len(data)=%d", *hdr, len(gotData))
				}
			case wire.TypeEnd:
				if _, err := wire.ReadEndBody(&buf, &rst, order); err != nil {
					t.Fatalf("ReadEndBody: %v", err)
				}
			}
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("%d trailing bytes", buf.Len())
	}
}

// S3: two adjacent FREEOBJECTS calls coalesce into one record.
func TestAggregatorCoalescesFreeObjects(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	agg := send.NewAggregator(&buf, &st, 1)

	if err := agg.DumpFreeObjects(10, 10); err != nil {
		t.Fatalf("DumpFreeObjects: %v", err)
	}
	if err := agg.DumpFreeObjects(20, 6); err != nil {
		t.Fatalf("DumpFreeObjects: %v", err)
	}
	if err := agg.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var rst fletcher.State
	typ, err := wire.ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadType: %v", err)
	}
	if typ != wire.TypeFreeObjects {
		t.Fatalf("type = %v, want FREEOBJECTS", typ)
	}
	got, err := wire.ReadFreeObjectsBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadFreeObjectsBody: %v", err)
	}
	if got.FirstObj != 10 || got.NumObjs != 16 {
		t.Fatalf("got %+v, want firstobj=10 numobjs=16", *got)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected exactly one coalesced record, %d bytes remain", buf.Len())
	}
}

// Non-adjacent FREE ranges must NOT coalesce (property 4, negative case).
func TestAggregatorDoesNotCoalesceNonAdjacentFree(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	agg := send.NewAggregator(&buf, &st, 1)

	if err := agg.DumpFree(7, 0, 100); err != nil {
		t.Fatalf("DumpFree: %v", err)
	}
	if err := agg.DumpFree(7, 200, 50); err != nil { // gap between 100 and 200
		t.Fatalf("DumpFree: %v", err)
	}
	if err := agg.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var rst fletcher.State
	var records []wire.FreeHeader
	for buf.Len() > 0 {
		typ, err := wire.ReadType(&buf, &rst, binary.LittleEndian)
		if err != nil {
			t.Fatalf("ReadType: %v", err)
		}
		if typ != wire.TypeFree {
			t.Fatalf("type = %v, want FREE", typ)
		}
		hdr, err := wire.ReadFreeBody(&buf, &rst, binary.LittleEndian)
		if err != nil {
			t.Fatalf("ReadFreeBody: %v", err)
		}
		records = append(records, *hdr)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (non-adjacent ranges must not coalesce)", len(records))
	}
}

// property 8: fromguid rejection when from is not an ancestor of to.
func TestSendObjRejectsNonAncestor(t *testing.T) {
	store := memstore.New()
	store.CreateFilesystem("tank/a", "tank")
	store.CreateFilesystem("tank/b", "tank")
	snapA := store.Snapshot("tank/a", "s1")
	snapB := store.Snapshot("tank/b", "s1")

	orch := send.NewOrchestrator(store, store, store, store, store, discardLogger(), send.Options{})
	var buf bytes.Buffer
	err := orch.SendObj(context.Background(), &buf, snapB, &snapA)
	if !errors.Is(err, send.ErrNotAncestor) {
		t.Fatalf("err = %v, want ErrNotAncestor", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes emitted on rejection, got %d", buf.Len())
	}
}

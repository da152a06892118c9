// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/wire"
	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

// Dispatcher is the Record Dispatcher (C7) plus the Per-record
// Appliers (C8): the main recv_stream loop reading records off r and
// applying each one to the target object set. Grounded on the
// teacher's internal/server/handler.go receiveWithSACK loop (read,
// act, check cooperative-cancel, repeat until the terminal frame),
// generalized from a flat byte stream with periodic SACKs to a typed
// record stream with no acknowledgement framing of its own.
type Dispatcher struct {
	store dsl.ObjectStore
	sig   dsl.SignalSource
	guids *GUIDMap // nil unless a dedup stream supplied a cleanup fd
}

// NewDispatcher returns a Dispatcher applying records to store. guids
// may be nil; it is consulted only for WRITE_BYREF records whose
// refguid differs from the stream's toguid.
func NewDispatcher(store dsl.ObjectStore, sig dsl.SignalSource, guids *GUIDMap) *Dispatcher {
	return &Dispatcher{store: store, sig: sig, guids: guids}
}

// Run reads records from r until END, applying each to cookie.DS's
// object set (spec §4.7/§4.8). st must already hold the checksum
// folded over the BEGIN record that ReadBegin consumed; Run continues
// folding every subsequent byte into it and returns the number of
// bytes consumed after BEGIN (the spec's *voff out-parameter).
func (d *Dispatcher) Run(ctx context.Context, r io.Reader, st *fletcher.State, cookie *Cookie, order binary.ByteOrder) (uint64, error) {
	var voff uint64
	for {
		if d.sig != nil && d.sig.Interrupted() {
			return voff, ErrInterrupted
		}

		// Snapshot the checksum before reading the next header (spec
		// §4.7 step 1) so an END's stored value can be compared against
		// exactly the bytes preceding it.
		pcksum := st.Sum()

		typ, err := wire.ReadType(r, st, order)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, wire.ErrTruncatedRecord) {
				return voff, fmt.Errorf("%w: stream ended without an END record", ErrInvalid)
			}
			if errors.Is(err, wire.ErrUnknownType) {
				return voff, fmt.Errorf("%w: unknown record type", ErrInvalid)
			}
			return voff, err
		}
		voff += 8

		n, err := d.apply(ctx, r, st, order, typ, cookie, pcksum)
		voff += n
		if err != nil {
			return voff, err
		}
		if typ == wire.TypeEnd {
			return voff, nil
		}
	}
}

// apply dispatches one record body (spec §4.8) and returns the number
// of bytes it consumed beyond the 8-byte type tag already read.
func (d *Dispatcher) apply(ctx context.Context, r io.Reader, st *fletcher.State, order binary.ByteOrder, typ wire.Type, cookie *Cookie, pcksum fletcher.Sum) (uint64, error) {
	switch typ {
	case wire.TypeObject:
		hdr, bonus, err := wire.ReadObjectBody(r, st, order)
		if err != nil {
			return 0, err
		}
		if err := d.applyObject(ctx, cookie, hdr, bonus); err != nil {
			return objectRecordLen(hdr), err
		}
		return objectRecordLen(hdr), nil

	case wire.TypeFreeObjects:
		hdr, err := wire.ReadFreeObjectsBody(r, st, order)
		if err != nil {
			return 0, err
		}
		return 24, d.applyFreeObjects(ctx, cookie, hdr)

	case wire.TypeWrite:
		hdr, data, err := wire.ReadWriteBody(r, st, order)
		if err != nil {
			return 0, err
		}
		n := 14*8 + wire.RoundUp8(hdr.Length)
		return n, d.applyWrite(ctx, cookie, hdr, data)

	case wire.TypeWriteByRef:
		hdr, err := wire.ReadWriteByRefBody(r, st, order)
		if err != nil {
			return 0, err
		}
		return 56, d.applyWriteByRef(ctx, cookie, hdr)

	case wire.TypeFree:
		hdr, err := wire.ReadFreeBody(r, st, order)
		if err != nil {
			return 0, err
		}
		return 32, d.applyFree(ctx, cookie, hdr)

	case wire.TypeSpill:
		hdr, data, err := wire.ReadSpillBody(r, st, order)
		if err != nil {
			return 0, err
		}
		n := 3*8 + wire.RoundUp8(hdr.Length)
		return n, d.applySpill(ctx, cookie, hdr, data)

	case wire.TypeEnd:
		end, err := wire.ReadEndBody(r, st, order)
		if err != nil {
			return 0, err
		}
		return 40, d.applyEnd(cookie, end, pcksum)

	default:
		return 0, fmt.Errorf("%w: unhandled record type %v", ErrInvalid, typ)
	}
}

func objectRecordLen(hdr *wire.ObjectHeader) uint64 {
	return 8*8 + wire.RoundUp8(hdr.BonusLen)
}

// applyObject implements spec §4.8's OBJECT applier, validating
// type/bonustype/checksum/compress indices, the blksz range, and
// bonuslen before claiming or reclaiming the object (spec §3 OBJECT
// invariants, §7 EINVAL).
func (d *Dispatcher) applyObject(ctx context.Context, cookie *Cookie, hdr *wire.ObjectHeader, bonus []byte) error {
	if hdr.DNType >= dsl.NumObjTypes {
		return fmt.Errorf("%w: object type %d out of range", ErrInvalid, hdr.DNType)
	}
	if hdr.BonusType >= dsl.NumObjTypes {
		return fmt.Errorf("%w: bonus type %d out of range", ErrInvalid, hdr.BonusType)
	}
	if hdr.ChecksumType >= wire.NumChecksumTypes {
		return fmt.Errorf("%w: checksum type %d out of range", ErrInvalid, hdr.ChecksumType)
	}
	if hdr.Compress >= wire.NumCompressTypes {
		return fmt.Errorf("%w: compress type %d out of range", ErrInvalid, hdr.Compress)
	}
	if hdr.BlkSZ == 0 || hdr.BlkSZ%wire.MinBlockSize != 0 || hdr.BlkSZ > wire.MaxBlockSize {
		return fmt.Errorf("%w: block size %d out of range", ErrInvalid, hdr.BlkSZ)
	}
	if hdr.BonusLen > wire.MaxBonusLen {
		return fmt.Errorf("%w: bonus length %d exceeds maximum", ErrInvalid, hdr.BonusLen)
	}
	if hdr.BonusLen > uint64(len(bonus)) {
		return fmt.Errorf("%w: bonus length exceeds payload", ErrInvalid)
	}
	dn := dsl.Dnode{
		Object: hdr.Object, Type: hdr.DNType, BonusType: hdr.BonusType,
		DataBlkSz: hdr.BlkSZ, ChecksumType: hdr.ChecksumType, Compress: hdr.Compress,
		Bonus: bonus,
	}

	tx := d.store.Begin(cookie.DS.ObjsetID)
	if err := tx.Assign(ctx); err != nil {
		return fmt.Errorf("recv: assigning tx for object %d: %w", hdr.Object, err)
	}

	exists, err := d.store.ObjectExists(ctx, cookie.DS.ObjsetID, hdr.Object)
	if err != nil {
		tx.Abort(err)
		return err
	}
	if exists {
		err = d.store.ReclaimObject(tx, cookie.DS.ObjsetID, dn)
	} else {
		err = d.store.ClaimObject(tx, cookie.DS.ObjsetID, dn)
	}
	if err != nil {
		tx.Abort(err)
		return fmt.Errorf("recv: claiming object %d: %w", hdr.Object, err)
	}
	return tx.Commit()
}

// applyFreeObjects implements spec §4.8's FREEOBJECTS applier.
func (d *Dispatcher) applyFreeObjects(ctx context.Context, cookie *Cookie, hdr *wire.FreeObjectsHeader) error {
	tx := d.store.Begin(cookie.DS.ObjsetID)
	if err := tx.Assign(ctx); err != nil {
		return fmt.Errorf("recv: assigning tx for freeobjects: %w", err)
	}
	for obj := hdr.FirstObj; obj < hdr.FirstObj+hdr.NumObjs; obj++ {
		exists, err := d.store.ObjectExists(ctx, cookie.DS.ObjsetID, obj)
		if err != nil {
			tx.Abort(err)
			return err
		}
		if !exists {
			continue
		}
		if err := d.store.FreeObject(tx, cookie.DS.ObjsetID, obj); err != nil {
			tx.Abort(err)
			return fmt.Errorf("recv: freeing object %d: %w", obj, err)
		}
	}
	return tx.Commit()
}

// applyWrite implements spec §4.8's WRITE applier.
func (d *Dispatcher) applyWrite(ctx context.Context, cookie *Cookie, hdr *wire.WriteHeader, data []byte) error {
	if hdr.Length == 0 {
		return fmt.Errorf("%w: write length must be greater than zero", ErrInvalid)
	}
	if hdr.Offset+hdr.Length < hdr.Offset {
		return fmt.Errorf("%w: write offset+length overflow", wire.ErrOverflow)
	}
	if hdr.DNType >= dsl.NumObjTypes {
		return fmt.Errorf("%w: write object type %d out of range", ErrInvalid, hdr.DNType)
	}
	tx := d.store.Begin(cookie.DS.ObjsetID)
	if err := tx.Assign(ctx); err != nil {
		return fmt.Errorf("recv: assigning tx for write: %w", err)
	}
	if err := d.store.Write(tx, cookie.DS.ObjsetID, hdr.Object, hdr.Offset, hdr.Length, data); err != nil {
		tx.Abort(err)
		return fmt.Errorf("recv: writing object %d offset %d: %w", hdr.Object, hdr.Offset, err)
	}
	return tx.Commit()
}

// applyWriteByRef implements spec §4.8's WRITE_BYREF applier.
func (d *Dispatcher) applyWriteByRef(ctx context.Context, cookie *Cookie, hdr *wire.WriteByRefHeader) error {
	if hdr.Offset+hdr.Length < hdr.Offset {
		return fmt.Errorf("%w: write_byref offset+length overflow", wire.ErrOverflow)
	}

	srcObjsetID := cookie.DS.ObjsetID
	if hdr.RefGUID != cookie.ToGUID {
		if d.guids == nil {
			return fmt.Errorf("%w: write_byref to guid %d with no guid map", ErrInvalid, hdr.RefGUID)
		}
		src, ok := d.guids.Lookup(hdr.RefGUID)
		if !ok {
			return fmt.Errorf("%w: refguid %d not found in guid map", ErrInvalid, hdr.RefGUID)
		}
		srcObjsetID = src.ObjsetID
	}

	src, err := d.store.ReadData(ctx, srcObjsetID, hdr.RefObject)
	if err != nil {
		return fmt.Errorf("recv: resolving write_byref source object %d: %w", hdr.RefObject, err)
	}
	if hdr.RefOffset+hdr.Length > uint64(len(src)) {
		return fmt.Errorf("%w: write_byref source range out of bounds", ErrInvalid)
	}
	data := src[hdr.RefOffset : hdr.RefOffset+hdr.Length]

	tx := d.store.Begin(cookie.DS.ObjsetID)
	if err := tx.Assign(ctx); err != nil {
		return fmt.Errorf("recv: assigning tx for write_byref: %w", err)
	}
	if err := d.store.Write(tx, cookie.DS.ObjsetID, hdr.Object, hdr.Offset, hdr.Length, data); err != nil {
		tx.Abort(err)
		return fmt.Errorf("recv: applying write_byref to object %d: %w", hdr.Object, err)
	}
	return tx.Commit()
}

// applyFree implements spec §4.8's FREE applier.
func (d *Dispatcher) applyFree(ctx context.Context, cookie *Cookie, hdr *wire.FreeHeader) error {
	if hdr.Length != wire.LengthInf && hdr.Offset+hdr.Length < hdr.Offset {
		return fmt.Errorf("%w: free offset+length overflow", wire.ErrOverflow)
	}
	tx := d.store.Begin(cookie.DS.ObjsetID)
	if err := tx.Assign(ctx); err != nil {
		return fmt.Errorf("recv: assigning tx for free: %w", err)
	}
	if err := d.store.FreeRange(tx, cookie.DS.ObjsetID, hdr.Object, hdr.Offset, hdr.Length); err != nil {
		tx.Abort(err)
		return fmt.Errorf("recv: freeing range on object %d: %w", hdr.Object, err)
	}
	return tx.Commit()
}

// applySpill implements spec §4.8's SPILL applier.
func (d *Dispatcher) applySpill(ctx context.Context, cookie *Cookie, hdr *wire.SpillHeader, data []byte) error {
	_, spill, err := d.store.SpillHold(ctx, cookie.DS.ObjsetID, hdr.Object)
	if err != nil {
		return fmt.Errorf("recv: holding spill block for object %d: %w", hdr.Object, err)
	}

	tx := d.store.Begin(cookie.DS.ObjsetID)
	if err := tx.Assign(ctx); err != nil {
		return fmt.Errorf("recv: assigning tx for spill: %w", err)
	}
	if uint64(len(spill)) < hdr.Length {
		if err := d.store.GrowSpill(tx, cookie.DS.ObjsetID, hdr.Object, hdr.Length); err != nil {
			tx.Abort(err)
			return fmt.Errorf("recv: growing spill block for object %d: %w", hdr.Object, err)
		}
	}
	if err := d.store.WriteSpill(tx, cookie.DS.ObjsetID, hdr.Object, data); err != nil {
		tx.Abort(err)
		return fmt.Errorf("recv: writing spill block for object %d: %w", hdr.Object, err)
	}
	return tx.Commit()
}

// applyEnd implements spec §4.7 step 5: compare the END record's
// stored checksum against pcksum, the running digest snapshotted
// before this record's own header was read.
func (d *Dispatcher) applyEnd(cookie *Cookie, end *wire.EndHeader, pcksum fletcher.Sum) error {
	if end.Checksum != [4]uint64(pcksum) {
		return wire.ErrChecksumMismatch
	}
	if end.ToGUID != cookie.ToGUID {
		return fmt.Errorf("%w: end record toguid does not match begin", ErrInvalid)
	}
	return nil
}

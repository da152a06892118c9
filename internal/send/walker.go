// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package send

import (
	"context"
	"fmt"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/wire"
)

// metaDnodeObject is the object number the traversal uses for the
// meta-dnode itself (spec §4.4: "object == META_DNODE").
const metaDnodeObject uint64 = 0

// dnodeSize is the on-disk size of one dnode slot, used to convert a
// meta-dnode block span into an object-number range.
const dnodeSize uint64 = 512

// fallbackSpan is used when a bp==none tuple arrives with no Dnode
// attached to derive its span from (the traversal source in this
// repo's reference memstore never splits an object across multiple
// blocks, so this path is reachable only by a real traversal
// implementation that does).
const fallbackSpan uint64 = 128 * 1024

// corruptSentinelWord is repeated to fill a fabricated replacement
// buffer when a data block is unreadable and corruption-replacement is
// enabled (spec §4.4, §9 "Corruption-replacement tunable").
const corruptSentinelWord uint64 = 0xbadc0ffeebadc0de

// WalkerOptions configures the traversal callback's behavior.
type WalkerOptions struct {
	// CorruptReplacement, when true, fabricates a sentinel-filled
	// buffer for an unreadable data block instead of failing the send.
	CorruptReplacement bool
	// SpecialObject reports whether an object number is one of the
	// store's reserved system objects (other than the meta-dnode
	// itself) that the callback should silently skip. nil means none
	// are special.
	SpecialObject func(object uint64) bool
}

// Walker turns Traversal tuples into Aggregator calls (spec §4.4). It
// is the Sender Traversal Callback, C4.
type Walker struct {
	cache    dsl.ArcCache
	sig      dsl.SignalSource
	agg      *Aggregator
	objsetID uint64
	opts     WalkerOptions
}

// NewWalker returns a Walker that reads block data for objsetID
// through cache and emits records via agg.
func NewWalker(cache dsl.ArcCache, sig dsl.SignalSource, agg *Aggregator, objsetID uint64, opts WalkerOptions) *Walker {
	return &Walker{cache: cache, sig: sig, agg: agg, objsetID: objsetID, opts: opts}
}

// Run drives trav over [fromTxg, HEAD] and feeds every tuple to the
// decision table.
func (w *Walker) Run(ctx context.Context, trav dsl.Traversal, fromTxg uint64) error {
	return trav.Walk(ctx, w.objsetID, fromTxg, func(t dsl.Tuple) error {
		return w.callback(ctx, t)
	})
}

// callback implements spec §4.4's decision table.
func (w *Walker) callback(ctx context.Context, t dsl.Tuple) error {
	if w.sig != nil && w.sig.Interrupted() {
		return ErrInterrupted
	}
	if w.opts.SpecialObject != nil && t.Mark.Object != metaDnodeObject && w.opts.SpecialObject(t.Mark.Object) {
		return nil
	}

	switch {
	case t.BP == nil && t.Mark.Object == metaDnodeObject:
		span := fallbackSpan
		if t.DN != nil {
			span = t.DN.Span(t.Mark.Level)
		}
		numObjs := span / dnodeSize
		if numObjs == 0 {
			numObjs = 1
		}
		firstObj := t.Mark.BlkID * span / dnodeSize
		return w.agg.DumpFreeObjects(firstObj, numObjs)

	case t.BP == nil:
		span := fallbackSpan
		if t.DN != nil {
			span = t.DN.Span(t.Mark.Level)
		}
		return w.agg.DumpFree(t.Mark.Object, t.Mark.BlkID*span, span)

	case t.Kind == dsl.KindIndirect:
		return nil

	case t.Kind == dsl.KindDnode:
		// The traversal has already resolved the dnode-block's slot for
		// this tuple into t.DN (see internal/dsl/memstore's doc comment);
		// a store that packs multiple dnodes per physical block would
		// instead ARC-read here and loop dump_object per slot.
		return w.agg.DumpObject(t.Mark.Object, t.DN)

	case t.Kind == dsl.KindSpill:
		data, err := w.cache.Read(ctx, w.objsetID, t)
		if err != nil {
			return fmt.Errorf("send: reading spill block for object %d: %w", t.Mark.Object, err)
		}
		return w.agg.DumpSpill(t.Mark.Object, data)

	default: // level-0 data
		data, err := w.cache.Read(ctx, w.objsetID, t)
		if err != nil {
			if !w.opts.CorruptReplacement {
				return fmt.Errorf("%w: object %d blkid %d: %v", ErrIO, t.Mark.Object, t.Mark.BlkID, err)
			}
			data = sentinelBuffer(t.BP.LogicalSize)
		}
		dnType := uint64(0)
		if t.DN != nil {
			dnType = t.DN.Type
		}
		hdr := wire.WriteHeader{
			Object: t.Mark.Object, DNType: dnType, Offset: t.Mark.BlkID, Length: uint64(len(data)),
			DDK: wire.DataDigest{LogicalSize: t.BP.LogicalSize, PhysicalSize: t.BP.PhysicalSize, CompressedSize: t.BP.CompressedSize, Cksum: t.BP.Checksum},
		}
		return w.agg.DumpData(hdr, data)
	}
}

func sentinelBuffer(length uint64) []byte {
	buf := make([]byte, length)
	for i := uint64(0); i+8 <= length; i += 8 {
		for j := uint64(0); j < 8; j++ {
			buf[i+j] = byte(corruptSentinelWord >> (8 * j))
		}
	}
	return buf
}

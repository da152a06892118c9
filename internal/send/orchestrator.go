// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package send

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/wire"
	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

// recordHeaderSize approximates the on-wire size of one record header
// for send_estimate (spec §4.5); this repo's headers are not the
// fixed 320-byte union the original on-disk format uses, but the
// estimate formula only needs a representative per-record overhead
// figure.
const recordHeaderSize = 64
const blockPointerSize = 128

// Options configures an Orchestrator.
type Options struct {
	BytesPerSec        int64
	CorruptReplacement bool
	SpecialObject      func(object uint64) bool
}

// Orchestrator is the Send Orchestrator, C5: eligibility checks,
// BEGIN/END framing, and driving the traversal. Grounded on the
// teacher's internal/agent/backup.go RunBackup (register, stream,
// deregister) shape.
type Orchestrator struct {
	ns     dsl.DatasetNamespace
	props  dsl.PropertyStore
	trav   dsl.Traversal
	cache  dsl.ArcCache
	sig    dsl.SignalSource
	logger *slog.Logger
	opts   Options
}

// NewOrchestrator wires the external collaborators the core consumes.
func NewOrchestrator(ns dsl.DatasetNamespace, props dsl.PropertyStore, trav dsl.Traversal, cache dsl.ArcCache, sig dsl.SignalSource, logger *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{ns: ns, props: props, trav: trav, cache: cache, sig: sig, logger: logger, opts: opts}
}

// Send resolves toSnapName (and, if non-empty, fromSnapName) and
// delegates to SendObj.
func (o *Orchestrator) Send(ctx context.Context, w io.Writer, toSnapName, fromSnapName string) error {
	to, err := o.ns.ResolveSnapshot(ctx, toSnapName)
	if err != nil {
		return fmt.Errorf("send: resolving %s: %w", toSnapName, err)
	}
	var from *dsl.SnapshotInfo
	if fromSnapName != "" {
		f, err := o.ns.ResolveSnapshot(ctx, fromSnapName)
		if err != nil {
			return fmt.Errorf("send: resolving %s: %w", fromSnapName, err)
		}
		from = &f
	}
	return o.SendObj(ctx, w, to, from)
}

// SendObj drives a full stream write of to (optionally incremental
// from from) onto w (spec §4.5).
func (o *Orchestrator) SendObj(ctx context.Context, w io.Writer, to dsl.SnapshotInfo, from *dsl.SnapshotInfo) error {
	log := o.logger.With("toguid", to.GUID, "tosnap", to.Name)

	var fromGUID, fromTxg uint64
	if from != nil {
		before, err := o.ns.IsBefore(ctx, *from, to)
		if err != nil {
			return fmt.Errorf("send: checking ancestry: %w", err)
		}
		if !before {
			return fmt.Errorf("%w: %s is not before %s", ErrNotAncestor, from.Name, to.Name)
		}
		fromGUID = from.GUID
		fromTxg = from.CreationTXG
		log = log.With("fromguid", fromGUID)
	}

	toHandle, err := o.ns.Hold(ctx, to.Name)
	if err != nil {
		return fmt.Errorf("send: holding %s: %w", to.Name, err)
	}
	if err := o.ns.LongHold(ctx, toHandle); err != nil {
		return fmt.Errorf("send: long-holding %s: %w", to.Name, err)
	}
	defer o.ns.LongRele(toHandle)
	defer o.ns.Rele(toHandle)

	dst := NewStreamWriter(NewThrottledWriter(ctx, w, o.opts.BytesPerSec))
	st := &fletcher.State{}

	saSpill, err := o.props.PoolSupportsSASpill(ctx)
	if err != nil {
		return fmt.Errorf("send: checking SA_SPILL support: %w", err)
	}
	versionInfo := uint64(wire.HdrTypeSubstream)
	if saSpill {
		versionInfo |= wire.FeatureSASpill
	}
	var flags uint64
	if fromGUID != 0 {
		fsOfFrom, fsOfTo := parentFS(from), parentFS(&to)
		if fsOfFrom != fsOfTo {
			flags |= wire.FlagClone
		}
	}
	ci, err := o.ns.IsCaseInsensitive(ctx, toHandle)
	if err != nil {
		return fmt.Errorf("send: checking case-sensitivity: %w", err)
	}
	if ci {
		flags |= wire.FlagCIData
	}

	beginHdr := wire.BeginHeader{
		Magic: wire.NativeMagic, VersionInfo: versionInfo,
		ObjsetType: 0, Flags: flags, ToGUID: to.GUID, FromGUID: fromGUID,
	}
	if err := wire.WriteBegin(dst, st, beginHdr, to.Name); err != nil {
		return fmt.Errorf("send: writing begin record: %w", err)
	}
	log.Info("send started", "fromtxg", fromTxg)

	agg := NewAggregator(dst, st, to.GUID)
	walker := NewWalker(o.cache, o.sig, agg, to.ObjsetID, WalkerOptions{
		CorruptReplacement: o.opts.CorruptReplacement,
		SpecialObject:      o.opts.SpecialObject,
	})
	if err := walker.Run(ctx, o.trav, fromTxg); err != nil {
		return fmt.Errorf("send: traversal: %w", err)
	}
	if err := agg.Flush(); err != nil {
		return fmt.Errorf("send: flushing pending record: %w", err)
	}
	if err := wire.WriteEnd(dst, st, to.GUID); err != nil {
		return fmt.Errorf("send: writing end record: %w", err)
	}
	log.Info("send completed", "bytes", dst.Offset())
	return nil
}

// SendEstimate returns an approximate byte count for a send_obj/send
// call with the same arguments, correcting the raw byte-changed count
// for per-record header overhead the way dmu_send.c's
// dmu_adjust_send_estimate_for_indirects does (spec §4.5,
// SPEC_FULL.md §4): the naive "bytes changed" count is reduced by the
// on-disk block-pointer metadata that is not re-sent, then increased
// by this format's own per-record header overhead.
func (o *Orchestrator) SendEstimate(ctx context.Context, to dsl.SnapshotInfo, from *dsl.SnapshotInfo) (uint64, error) {
	var raw uint64
	var err error
	if from != nil {
		raw, err = o.props.SpaceWritten(ctx, *from, to)
	} else {
		raw, err = o.props.UncompressedBytes(ctx, to)
	}
	if err != nil {
		return 0, fmt.Errorf("send: estimating size: %w", err)
	}
	recordsize := uint64(131072)
	perRecord := raw / recordsize
	estimate := raw
	if estimate > perRecord*blockPointerSize {
		estimate -= perRecord * blockPointerSize
	}
	estimate += perRecord * recordHeaderSize
	return estimate, nil
}

func parentFS(s *dsl.SnapshotInfo) string {
	if s == nil {
		return ""
	}
	for i := len(s.Name) - 1; i >= 0; i-- {
		if s.Name[i] == '@' {
			return s.Name[:i]
		}
	}
	return s.Name
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

// nativeOrder is the byte order every record produced by this
// implementation is written in. A receiver on the opposite endianness
// detects this from BeginHeader.Magic and reads every subsequent
// scalar field with the reciprocal order (binary.BigEndian), exactly
// as spec.md §4.1/§9 describes: "payload byte-order correction is
// delegated to per-object-type functions"; here, *scalar* header
// fields are corrected uniformly by the codec, while bonus/data
// payloads are passed through as raw bytes: this repo has no
// per-object-type payload byte-swapping.
var nativeOrder = binary.LittleEndian

// writeFields serializes vals as consecutive uint64s in nativeOrder,
// writes them in one call, and folds the bytes into st.
func writeFields(w io.Writer, st *fletcher.State, vals ...uint64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		nativeOrder.PutUint64(buf[i*8:], v)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: writing header fields: %w", err)
	}
	st.Write(buf)
	return nil
}

// readFields reads n consecutive uint64s using order, folding the raw
// bytes into st before decoding them.
func readFields(r io.Reader, st *fletcher.State, order binary.ByteOrder, n int) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: reading header fields: %w", ErrTruncatedRecord)
	}
	st.Write(buf)
	out := make([]uint64, n)
	for i := range out {
		out[i] = order.Uint64(buf[i*8:])
	}
	return out, nil
}

// writePayload right-pads data to an 8-byte boundary, writes it in one
// call, and folds it into st.
func writePayload(w io.Writer, st *fletcher.State, data []byte) error {
	padded := RoundUp8(uint64(len(data)))
	buf := make([]byte, padded)
	copy(buf, data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: writing payload: %w", err)
	}
	st.Write(buf)
	return nil
}

// readPayload reads RoundUp8(length) bytes, folds them into st, and
// returns the first length of them (the padding is discarded).
func readPayload(r io.Reader, st *fletcher.State, length uint64) ([]byte, error) {
	padded := RoundUp8(length)
	buf := make([]byte, padded)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: reading payload: %w", ErrTruncatedRecord)
	}
	st.Write(buf)
	return buf[:length], nil
}

// ReadType reads one record-type tag using order. Callers read this
// before dispatching to the type-specific Read*Body function.
func ReadType(r io.Reader, st *fletcher.State, order binary.ByteOrder) (Type, error) {
	vals, err := readFields(r, st, order, 1)
	if err != nil {
		return 0, err
	}
	t := Type(vals[0])
	if !t.Valid() {
		return 0, ErrUnknownType
	}
	return t, nil
}

// WriteBegin writes the BEGIN record (type tag, header, and the
// toName payload) in nativeOrder.
func WriteBegin(w io.Writer, st *fletcher.State, hdr BeginHeader, toName string) error {
	if err := writeFields(w, st,
		uint64(TypeBegin), hdr.Magic, hdr.VersionInfo, hdr.CreationTime,
		hdr.ObjsetType, hdr.Flags, hdr.ToGUID, hdr.FromGUID, uint64(len(toName)),
	); err != nil {
		return err
	}
	return writePayload(w, st, []byte(toName))
}

// ReadBegin reads the BEGIN record. Because this is always the first
// record in a stream, its Type field is endian-invariant (TypeBegin ==
// 0) and cannot itself be used to detect endianness; ReadBegin instead
// compares the raw Magic bytes against NativeMagic encoded both ways
// and returns the binary.ByteOrder the rest of the stream must be read
// with.
func ReadBegin(r io.Reader, st *fletcher.State) (*BeginHeader, string, binary.ByteOrder, error) {
	raw := make([]byte, 16) // type tag + magic, both raw before order is known
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, "", nil, fmt.Errorf("wire: reading begin header: %w", ErrTruncatedRecord)
	}

	typeBytes, magicBytes := raw[:8], raw[8:]
	if Type(nativeOrder.Uint64(typeBytes)) != TypeBegin {
		return nil, "", nil, ErrUnknownType
	}

	nativeMagicBytes := make([]byte, 8)
	nativeOrder.PutUint64(nativeMagicBytes, NativeMagic)

	var order binary.ByteOrder
	switch {
	case bytes.Equal(magicBytes, nativeMagicBytes):
		order = binary.LittleEndian
	case bytes.Equal(reversed(magicBytes), nativeMagicBytes):
		order = binary.BigEndian
	default:
		return nil, "", nil, ErrInvalidMagic
	}

	st.Write(raw)

	rest, err := readFields(r, st, order, 6)
	if err != nil {
		return nil, "", nil, err
	}
	nameLenField, err := readFields(r, st, order, 1)
	if err != nil {
		return nil, "", nil, err
	}
	name, err := readPayload(r, st, nameLenField[0])
	if err != nil {
		return nil, "", nil, err
	}

	hdr := &BeginHeader{
		Magic:        order.Uint64(magicBytes),
		VersionInfo:  rest[0],
		CreationTime: rest[1],
		ObjsetType:   rest[2],
		Flags:        rest[3],
		ToGUID:       rest[4],
		FromGUID:     rest[5],
	}
	return hdr, string(name), order, nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// WriteObject writes an OBJECT record.
func WriteObject(w io.Writer, st *fletcher.State, hdr ObjectHeader, bonus []byte) error {
	if err := writeFields(w, st,
		uint64(TypeObject), hdr.ToGUID, hdr.Object, hdr.DNType, hdr.BonusType,
		hdr.BlkSZ, hdr.BonusLen, hdr.ChecksumType, hdr.Compress,
	); err != nil {
		return err
	}
	return writePayload(w, st, bonus)
}

// ReadObjectBody reads an OBJECT record's fields and bonus payload.
// The Type tag must already have been consumed via ReadType.
func ReadObjectBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*ObjectHeader, []byte, error) {
	f, err := readFields(r, st, order, 8)
	if err != nil {
		return nil, nil, err
	}
	hdr := &ObjectHeader{
		ToGUID: f[0], Object: f[1], DNType: f[2], BonusType: f[3],
		BlkSZ: f[4], BonusLen: f[5], ChecksumType: f[6], Compress: f[7],
	}
	bonus, err := readPayload(r, st, hdr.BonusLen)
	if err != nil {
		return nil, nil, err
	}
	return hdr, bonus, nil
}

// WriteFreeObjects writes a FREEOBJECTS record.
func WriteFreeObjects(w io.Writer, st *fletcher.State, hdr FreeObjectsHeader) error {
	return writeFields(w, st, uint64(TypeFreeObjects), hdr.ToGUID, hdr.FirstObj, hdr.NumObjs)
}

// ReadFreeObjectsBody reads a FREEOBJECTS record's fields.
func ReadFreeObjectsBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*FreeObjectsHeader, error) {
	f, err := readFields(r, st, order, 3)
	if err != nil {
		return nil, err
	}
	return &FreeObjectsHeader{ToGUID: f[0], FirstObj: f[1], NumObjs: f[2]}, nil
}

// WriteWrite writes a WRITE record and its data payload.
func WriteWrite(w io.Writer, st *fletcher.State, hdr WriteHeader, data []byte) error {
	if err := writeFields(w, st,
		uint64(TypeWrite), hdr.ToGUID, hdr.Object, hdr.DNType, hdr.Offset, hdr.Length,
		hdr.ChecksumType, hdr.ChecksumFlags,
		hdr.DDK.LogicalSize, hdr.DDK.PhysicalSize, hdr.DDK.CompressedSize,
		hdr.DDK.Cksum[0], hdr.DDK.Cksum[1], hdr.DDK.Cksum[2], hdr.DDK.Cksum[3],
	); err != nil {
		return err
	}
	return writePayload(w, st, data)
}

// ReadWriteBody reads a WRITE record's fields and data payload.
func ReadWriteBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*WriteHeader, []byte, error) {
	f, err := readFields(r, st, order, 14)
	if err != nil {
		return nil, nil, err
	}
	hdr := &WriteHeader{
		ToGUID: f[0], Object: f[1], DNType: f[2], Offset: f[3], Length: f[4],
		ChecksumType: f[5], ChecksumFlags: f[6],
		DDK: DataDigest{
			LogicalSize: f[7], PhysicalSize: f[8], CompressedSize: f[9],
			Cksum: [4]uint64{f[10], f[11], f[12], f[13]},
		},
	}
	data, err := readPayload(r, st, hdr.Length)
	if err != nil {
		return nil, nil, err
	}
	return hdr, data, nil
}

// WriteWriteByRef writes a WRITE_BYREF record (no payload: the data
// already exists in a previously received snapshot).
func WriteWriteByRef(w io.Writer, st *fletcher.State, hdr WriteByRefHeader) error {
	return writeFields(w, st,
		uint64(TypeWriteByRef), hdr.ToGUID, hdr.Object, hdr.Offset, hdr.Length,
		hdr.RefGUID, hdr.RefObject, hdr.RefOffset,
	)
}

// ReadWriteByRefBody reads a WRITE_BYREF record's fields.
func ReadWriteByRefBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*WriteByRefHeader, error) {
	f, err := readFields(r, st, order, 7)
	if err != nil {
		return nil, err
	}
	return &WriteByRefHeader{
		ToGUID: f[0], Object: f[1], Offset: f[2], Length: f[3],
		RefGUID: f[4], RefObject: f[5], RefOffset: f[6],
	}, nil
}

// WriteFree writes a FREE record.
func WriteFree(w io.Writer, st *fletcher.State, hdr FreeHeader) error {
	return writeFields(w, st, uint64(TypeFree), hdr.ToGUID, hdr.Object, hdr.Offset, hdr.Length)
}

// ReadFreeBody reads a FREE record's fields.
func ReadFreeBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*FreeHeader, error) {
	f, err := readFields(r, st, order, 4)
	if err != nil {
		return nil, err
	}
	return &FreeHeader{ToGUID: f[0], Object: f[1], Offset: f[2], Length: f[3]}, nil
}

// WriteSpill writes a SPILL record and its payload.
func WriteSpill(w io.Writer, st *fletcher.State, hdr SpillHeader, data []byte) error {
	if err := writeFields(w, st, uint64(TypeSpill), hdr.ToGUID, hdr.Object, hdr.Length); err != nil {
		return err
	}
	return writePayload(w, st, data)
}

// ReadSpillBody reads a SPILL record's fields and payload.
func ReadSpillBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*SpillHeader, []byte, error) {
	f, err := readFields(r, st, order, 3)
	if err != nil {
		return nil, nil, err
	}
	hdr := &SpillHeader{ToGUID: f[0], Object: f[1], Length: f[2]}
	data, err := readPayload(r, st, hdr.Length)
	if err != nil {
		return nil, nil, err
	}
	return hdr, data, nil
}

// WriteEnd writes the END record that seals the stream. st must hold
// the accumulated checksum over every byte written so far; WriteEnd
// itself does not fold the END record's own bytes into the value it
// writes (spec §3: the checksum covers everything "up to but not
// including" END), but it does keep accumulating afterward so st
// remains usable if the caller writes further (it should not).
func WriteEnd(w io.Writer, st *fletcher.State, toGUID uint64) error {
	sum := st.Sum()
	return writeFields(w, st, uint64(TypeEnd), toGUID, sum[0], sum[1], sum[2], sum[3])
}

// ReadEndBody reads an END record's fields. The caller must snapshot
// its own checksum accumulator *before* calling ReadType for the END
// record (spec §4.7 step 1) and compare that snapshot, not the value
// returned here, against the value in EndHeader.Checksum.
func ReadEndBody(r io.Reader, st *fletcher.State, order binary.ByteOrder) (*EndHeader, error) {
	f, err := readFields(r, st, order, 5)
	if err != nil {
		return nil, err
	}
	return &EndHeader{ToGUID: f[0], Checksum: [4]uint64{f[1], f[2], f[3], f[4]}}, nil
}

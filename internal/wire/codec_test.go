// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

func TestBeginRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var wst fletcher.State

	hdr := BeginHeader{
		Magic:        NativeMagic,
		VersionInfo:  HdrTypeSubstream,
		CreationTime: 1234,
		ObjsetType:   2,
		Flags:        FlagClone,
		ToGUID:       0xdeadbeef,
		FromGUID:     0xfeedface,
	}
	if err := WriteBegin(&buf, &wst, hdr, "tank/data@snap2"); err != nil {
		t.Fatalf("WriteBegin: %v", err)
	}

	var rst fletcher.State
	got, name, order, err := ReadBegin(&buf, &rst)
	if err != nil {
		t.Fatalf("ReadBegin: %v", err)
	}
	if order != binary.LittleEndian {
		t.Fatalf("order = %v, want LittleEndian", order)
	}
	if name != "tank/data@snap2" {
		t.Fatalf("name = %q", name)
	}
	if *got != hdr {
		t.Fatalf("got %+v, want %+v", *got, hdr)
	}
	if wst.Sum() != rst.Sum() {
		t.Fatalf("checksum mismatch: wrote %v read %v", wst.Sum(), rst.Sum())
	}
	if buf.Len() != 0 {
		t.Fatalf("%d trailing bytes after ReadBegin", buf.Len())
	}
}

func TestBeginByteSwapRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var wst fletcher.State
	hdr := BeginHeader{Magic: NativeMagic, ToGUID: 42, FromGUID: 7}
	if err := WriteBegin(&buf, &wst, hdr, "p/q@r"); err != nil {
		t.Fatalf("WriteBegin: %v", err)
	}

	// Simulate a foreign-endian sender: byte-swap every 8-byte word of
	// the already-encoded stream.
	raw := buf.Bytes()
	swapped := make([]byte, len(raw))
	for i := 0; i+8 <= len(raw); i += 8 {
		for j := 0; j < 8; j++ {
			swapped[i+j] = raw[i+7-j]
		}
	}
	// the toName payload trails the fixed fields and must NOT be
	// word-swapped (it's opaque bytes, not scalar fields); re-copy it
	// verbatim over the swapped region.
	const fixedWords = 9 // type, magic, versioninfo, ctime, objsettype, flags, toguid, fromguid, namelen
	copy(swapped[fixedWords*8:], raw[fixedWords*8:])

	var rst fletcher.State
	got, name, order, err := ReadBegin(bytes.NewReader(swapped), &rst)
	if err != nil {
		t.Fatalf("ReadBegin(swapped): %v", err)
	}
	if order != binary.BigEndian {
		t.Fatalf("order = %v, want BigEndian", order)
	}
	if name != "p/q@r" {
		t.Fatalf("name = %q", name)
	}
	if got.ToGUID != 42 || got.FromGUID != 7 {
		t.Fatalf("got %+v", *got)
	}
}

func TestInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := BeginHeader{Magic: 0x1111111111111111}
	if err := WriteBegin(&buf, &st, hdr, ""); err != nil {
		t.Fatalf("WriteBegin: %v", err)
	}
	var rst fletcher.State
	if _, _, _, err := ReadBegin(&buf, &rst); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := ObjectHeader{
		ToGUID: 1, Object: 2, DNType: 19, BonusType: 44,
		BlkSZ: 131072, BonusLen: 5, ChecksumType: 7, Compress: 1,
	}
	bonus := []byte{1, 2, 3, 4, 5}
	if err := WriteObject(&buf, &st, hdr, bonus); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}

	var rst fletcher.State
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadType: %v", err)
	}
	if typ != TypeObject {
		t.Fatalf("type = %v", typ)
	}
	got, gotBonus, err := ReadObjectBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadObjectBody: %v", err)
	}
	if *got != hdr {
		t.Fatalf("got %+v want %+v", *got, hdr)
	}
	if !bytes.Equal(gotBonus, bonus) {
		t.Fatalf("bonus mismatch: got %v want %v", gotBonus, bonus)
	}
	if buf.Len() != 0 {
		t.Fatalf("%d trailing bytes", buf.Len())
	}
}

func TestObjectPaddingIsEightByteAligned(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := ObjectHeader{BonusLen: 3}
	if err := WriteObject(&buf, &st, hdr, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	// Type tag plus 8 fields = 9 words * 8 bytes = 72-byte header, plus
	// RoundUp8(3) = 8 bytes payload.
	if buf.Len() != 72+8 {
		t.Fatalf("buf.Len() = %d, want 80", buf.Len())
	}
}

func TestFreeObjectsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := FreeObjectsHeader{ToGUID: 9, FirstObj: 100, NumObjs: 50}
	if err := WriteFreeObjects(&buf, &st, hdr); err != nil {
		t.Fatalf("WriteFreeObjects: %v", err)
	}
	var rst fletcher.State
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil || typ != TypeFreeObjects {
		t.Fatalf("ReadType: %v %v", typ, err)
	}
	got, err := ReadFreeObjectsBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadFreeObjectsBody: %v", err)
	}
	if *got != hdr {
		t.Fatalf("got %+v want %+v", *got, hdr)
	}
}

func TestWriteRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := WriteHeader{
		ToGUID: 1, Object: 2, DNType: 19, Offset: 0, Length: 7,
		ChecksumType: 2, ChecksumFlags: ChecksumFlagDedup,
		DDK: DataDigest{LogicalSize: 7, PhysicalSize: 7, CompressedSize: 7,
			Cksum: [4]uint64{1, 2, 3, 4}},
	}
	data := []byte("abcdefg")
	if err := WriteWrite(&buf, &st, hdr, data); err != nil {
		t.Fatalf("WriteWrite: %v", err)
	}
	var rst fletcher.State
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil || typ != TypeWrite {
		t.Fatalf("ReadType: %v %v", typ, err)
	}
	got, gotData, err := ReadWriteBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadWriteBody: %v", err)
	}
	if *got != hdr {
		t.Fatalf("got %+v want %+v", *got, hdr)
	}
	if !bytes.Equal(gotData, data) {
		t.Fatalf("data mismatch: got %q want %q", gotData, data)
	}
}

func TestWriteByRefRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := WriteByRefHeader{ToGUID: 1, Object: 2, Offset: 4096, Length: 512,
		RefGUID: 99, RefObject: 3, RefOffset: 0}
	if err := WriteWriteByRef(&buf, &st, hdr); err != nil {
		t.Fatalf("WriteWriteByRef: %v", err)
	}
	var rst fletcher.State
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil || typ != TypeWriteByRef {
		t.Fatalf("ReadType: %v %v", typ, err)
	}
	got, err := ReadWriteByRefBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadWriteByRefBody: %v", err)
	}
	if *got != hdr {
		t.Fatalf("got %+v want %+v", *got, hdr)
	}
}

func TestFreeRoundTripIncludingLengthInf(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := FreeHeader{ToGUID: 1, Object: 5, Offset: 0, Length: LengthInf}
	if err := WriteFree(&buf, &st, hdr); err != nil {
		t.Fatalf("WriteFree: %v", err)
	}
	var rst fletcher.State
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil || typ != TypeFree {
		t.Fatalf("ReadType: %v %v", typ, err)
	}
	got, err := ReadFreeBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadFreeBody: %v", err)
	}
	if got.Length != LengthInf {
		t.Fatalf("Length = %#x, want LengthInf", got.Length)
	}
}

func TestSpillRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	hdr := SpillHeader{ToGUID: 1, Object: 5, Length: 4}
	data := []byte{9, 8, 7, 6}
	if err := WriteSpill(&buf, &st, hdr, data); err != nil {
		t.Fatalf("WriteSpill: %v", err)
	}
	var rst fletcher.State
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil || typ != TypeSpill {
		t.Fatalf("ReadType: %v %v", typ, err)
	}
	got, gotData, err := ReadSpillBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadSpillBody: %v", err)
	}
	if *got != hdr || !bytes.Equal(gotData, data) {
		t.Fatalf("got %+v/%v want %+v/%v", *got, gotData, hdr, data)
	}
}

func TestEndChecksumRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	begin := BeginHeader{Magic: NativeMagic, ToGUID: 55}
	if err := WriteBegin(&buf, &st, begin, "a@b"); err != nil {
		t.Fatalf("WriteBegin: %v", err)
	}
	wantSum := st.Sum()
	if err := WriteEnd(&buf, &st, 55); err != nil {
		t.Fatalf("WriteEnd: %v", err)
	}

	var rst fletcher.State
	if _, _, _, err := ReadBegin(&buf, &rst); err != nil {
		t.Fatalf("ReadBegin: %v", err)
	}
	preEndSum := rst.Sum() // must be snapshotted BEFORE reading END's own bytes
	typ, err := ReadType(&buf, &rst, binary.LittleEndian)
	if err != nil || typ != TypeEnd {
		t.Fatalf("ReadType: %v %v", typ, err)
	}
	end, err := ReadEndBody(&buf, &rst, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadEndBody: %v", err)
	}
	if preEndSum != wantSum {
		t.Fatalf("preEndSum = %v, want %v", preEndSum, wantSum)
	}
	if end.Checksum != fletcher.Sum(wantSum) {
		t.Fatalf("end.Checksum = %v, want %v", end.Checksum, wantSum)
	}
}

func TestReadTypeRejectsUnknown(t *testing.T) {
	var buf bytes.Buffer
	var st fletcher.State
	if err := writeFields(&buf, &st, 0xff); err != nil {
		t.Fatalf("writeFields: %v", err)
	}
	if _, err := ReadType(&buf, &st, binary.LittleEndian); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestTruncatedRecord(t *testing.T) {
	var st fletcher.State
	if _, err := ReadType(bytes.NewReader([]byte{1, 2, 3}), &st, binary.LittleEndian); !errors.Is(err, ErrTruncatedRecord) {
		t.Fatalf("err = %v, want ErrTruncatedRecord", err)
	}
}

func TestRoundUp8(t *testing.T) {
	cases := map[uint64]uint64{0: 0, 1: 8, 7: 8, 8: 8, 9: 16, 4096: 4096, 4097: 4104}
	for in, want := range cases {
		if got := RoundUp8(in); got != want {
			t.Errorf("RoundUp8(%d) = %d, want %d", in, got, want)
		}
	}
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the on-wire record codec for the snapshot
// send/receive stream: the typed record headers, native/byte-swapped
// parsing, and the record taxonomy (§3 of the design). It plays the role
// the teacher's internal/protocol package plays for the backup
// handshake/trailer frames, generalized to a tagged-variant record
// stream instead of a handful of named frame kinds.
package wire

// Type identifies which of the eight record kinds a header describes.
type Type uint64

const (
	TypeBegin Type = iota
	TypeObject
	TypeFreeObjects
	TypeWrite
	TypeWriteByRef
	TypeFree
	TypeSpill
	TypeEnd
)

func (t Type) String() string {
	switch t {
	case TypeBegin:
		return "BEGIN"
	case TypeObject:
		return "OBJECT"
	case TypeFreeObjects:
		return "FREEOBJECTS"
	case TypeWrite:
		return "WRITE"
	case TypeWriteByRef:
		return "WRITE_BYREF"
	case TypeFree:
		return "FREE"
	case TypeSpill:
		return "SPILL"
	case TypeEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the eight known record kinds.
func (t Type) Valid() bool {
	return t >= TypeBegin && t <= TypeEnd
}

// LengthInf is the FREE-record length sentinel meaning "to end of
// object" (spec §3, FREE).
const LengthInf uint64 = ^uint64(0)

// Block-size and bonus-buffer bounds the OBJECT applier validates
// against (spec §3 OBJECT invariants: "blksz (multiple of minblock,
// ≤ maxblock)", "bonuslen (≤ MAX_BONUSLEN)").
const (
	MinBlockSize uint64 = 512
	MaxBlockSize uint64 = 1 << 20
	MaxBonusLen  uint64 = 320
)

// NumChecksumTypes and NumCompressTypes bound ObjectHeader.ChecksumType
// and ObjectHeader.Compress (spec §3: "checksumtype (<NCKSUM), compress
// (<NCOMPRESS)"). Values are illustrative counts, not a specific
// checksum/compression registry, since that registry is itself an
// external collaborator (spec §1) this repo does not implement.
const (
	NumChecksumTypes uint64 = 16
	NumCompressTypes uint64 = 16
)

// Feature/version-info bits carried in BeginHeader.VersionInfo.
const (
	FeatureSASpill uint64 = 1 << iota
	FeatureDedup
)

// Header type discriminants for BeginHeader.VersionInfo's hdrtype field,
// packed into the low byte.
const (
	HdrTypeSubstream uint64 = 1
	HdrTypeCompound  uint64 = 2
)

// BEGIN flags (BeginHeader.Flags).
const (
	FlagClone  uint64 = 1 << iota // from.dir != to.dir
	FlagCIData                    // target is case-insensitive
)

// BeginHeader is the first record of every stream.
type BeginHeader struct {
	Magic        uint64 // disambiguates endianness; see NativeMagic
	VersionInfo  uint64 // hdrtype (low byte) | feature bits
	CreationTime uint64
	ObjsetType   uint64
	Flags        uint64
	ToGUID       uint64
	FromGUID     uint64 // 0 means full send
}

// NativeMagic is the sentinel this implementation writes into every
// BEGIN record it produces. A reader that observes the byte-reversed
// value instead knows the stream was produced on the opposite
// endianness and must byte-swap every subsequent scalar header field.
const NativeMagic uint64 = 0x00bac1e5feed1234

// ObjectHeader describes one object's dnode metadata (OBJECT record).
type ObjectHeader struct {
	ToGUID       uint64
	Object       uint64
	DNType       uint64 // dnode type
	BonusType    uint64
	BlkSZ        uint64
	BonusLen     uint64
	ChecksumType uint64
	Compress     uint64
}

// FreeObjectsHeader describes a (possibly coalesced) run of freed object
// numbers.
type FreeObjectsHeader struct {
	ToGUID   uint64
	FirstObj uint64
	NumObjs  uint64
}

// DataDigest carries the block-pointer-derived size/checksum metadata
// that accompanies a WRITE record (spec §3, WRITE's "ddk" struct).
type DataDigest struct {
	LogicalSize    uint64
	PhysicalSize   uint64
	CompressedSize uint64
	Cksum          [4]uint64
}

// Checksum flag bits for WriteHeader.ChecksumFlags.
const ChecksumFlagDedup uint64 = 1

// WriteHeader describes a data write (WRITE record).
type WriteHeader struct {
	ToGUID        uint64
	Object        uint64
	DNType        uint64
	Offset        uint64
	Length        uint64
	ChecksumType  uint64
	ChecksumFlags uint64
	DDK           DataDigest
}

// WriteByRefHeader describes a dedup back-reference (WRITE_BYREF
// record): the payload is absent on the wire — the data already exists
// in a previously received snapshot identified by RefGUID.
type WriteByRefHeader struct {
	ToGUID    uint64
	Object    uint64
	Offset    uint64
	Length    uint64
	RefGUID   uint64
	RefObject uint64
	RefOffset uint64
}

// FreeHeader describes a freed byte range (FREE record). Length ==
// LengthInf means "to end of object".
type FreeHeader struct {
	ToGUID uint64
	Object uint64
	Offset uint64
	Length uint64
}

// SpillHeader describes a spill block payload (SPILL record).
type SpillHeader struct {
	ToGUID uint64
	Object uint64
	Length uint64
}

// EndHeader seals the stream with the running Fletcher-4 checksum over
// every byte preceding it.
type EndHeader struct {
	ToGUID   uint64
	Checksum [4]uint64
}

// RoundUp8 rounds n up to the next multiple of 8, as every payload
// trailing a WRITE/SPILL/OBJECT-bonus header must be before the next
// record begins (spec §3 invariants).
func RoundUp8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import "errors"

// Sentinel errors for the record codec and the receive-side dispatcher,
// following the teacher's internal/protocol/frames.go pattern of named
// package-level errors checked with errors.Is.
var (
	ErrInvalidMagic     = errors.New("wire: invalid begin magic")
	ErrUnknownType      = errors.New("wire: unknown record type")
	ErrTruncatedRecord  = errors.New("wire: truncated record")
	ErrChecksumMismatch = errors.New("wire: stream checksum mismatch at end record")
	ErrOverflow         = errors.New("wire: offset/length overflow")
	ErrMisaligned       = errors.New("wire: record not 8-byte aligned")
)

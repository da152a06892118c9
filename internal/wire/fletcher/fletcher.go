// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fletcher implements the incremental Fletcher-4 checksum that
// seals a send stream. It mirrors the way the teacher's assembler feeds
// bytes into a crypto/sha256 hash.Hash incrementally as they are written
// or read (internal/server/assembler.go's io.MultiWriter(outFile, hasher)
// pattern), except the four-word Fletcher-4 algorithm is specific to this
// domain and has no general-purpose library implementation to reach for.
package fletcher

// Sum is the four 64-bit words produced by a Fletcher-4 accumulation.
type Sum [4]uint64

// State accumulates a Fletcher-4 checksum incrementally over successive
// byte slices. The zero value is a valid, empty accumulator.
//
// Fletcher-4 treats the input as a sequence of little-endian uint32
// words; Write panics if it is ever called with a length that is not a
// multiple of 4, since every record in this protocol is padded to an
// 8-byte (and therefore 4-byte) boundary before it reaches the checksum.
type State struct {
	a, b, c, d uint64
}

// Write folds buf into the running checksum. It never buffers buf and
// never retains a reference to it.
func (s *State) Write(buf []byte) {
	if len(buf)%4 != 0 {
		panic("fletcher: Write called with a non-word-multiple length")
	}
	for i := 0; i < len(buf); i += 4 {
		word := uint64(buf[i]) | uint64(buf[i+1])<<8 | uint64(buf[i+2])<<16 | uint64(buf[i+3])<<24
		s.a += word
		s.b += s.a
		s.c += s.b
		s.d += s.c
	}
}

// Sum returns the checksum accumulated so far. It does not reset state.
func (s *State) Sum() Sum {
	return Sum{s.a, s.b, s.c, s.d}
}

// Reset clears the accumulator back to its zero value.
func (s *State) Reset() {
	*s = State{}
}

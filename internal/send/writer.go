// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package send implements the sending half of the replication engine:
// the Stream Writer (C2), the Emission Aggregator (C3), the Sender
// Traversal Callback (C4), and the Send Orchestrator (C5). Grounded on
// the teacher's internal/agent package (streamer.go's buffered,
// counted destination write path; throttle.go's rate limiter;
// scanner.go's callback-driven walk; backup.go's run-and-report
// orchestration).
package send

import (
	"fmt"
	"io"
	"sync"
)

// StreamWriter issues one blocking write per call and advances a
// shared offset counter under a lock (spec §4.2). len(buf) must be a
// multiple of 8; every wire.Write* function already produces
// 8-byte-aligned buffers, so this is an invariant check, not a
// reformatting step.
type StreamWriter struct {
	mu     sync.Mutex
	dst    io.Writer
	offset uint64
	err    error
}

// NewStreamWriter wraps dst, which may itself be a ThrottledWriter.
func NewStreamWriter(dst io.Writer) *StreamWriter {
	return &StreamWriter{dst: dst}
}

// Write implements io.Writer. On a short write or I/O error it
// latches the failure so every subsequent call returns the same
// error — the Go analogue of spec §4.2's "reports the underlying
// error as dsa_err and returns EINTR-equivalent to abort the
// traversal".
func (sw *StreamWriter) Write(buf []byte) (int, error) {
	if len(buf)%8 != 0 {
		return 0, fmt.Errorf("send: write_all called with non-8-byte-multiple length %d", len(buf))
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.err != nil {
		return 0, sw.err
	}
	n, err := sw.dst.Write(buf)
	if err != nil {
		sw.err = fmt.Errorf("send: stream write failed at offset %d: %w", sw.offset, err)
		return n, sw.err
	}
	if n != len(buf) {
		sw.err = fmt.Errorf("send: short write at offset %d: wrote %d of %d bytes", sw.offset, n, len(buf))
		return n, sw.err
	}
	sw.offset += uint64(n)
	return n, nil
}

// Offset returns the number of bytes written so far.
func (sw *StreamWriter) Offset() uint64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.offset
}

// Err returns the latched write error, if any.
func (sw *StreamWriter) Err() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.err
}

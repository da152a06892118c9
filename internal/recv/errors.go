// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recv implements the receiving half of the replication engine:
// Receive Begin (C6), the Record Dispatcher (C7), the per-record
// Appliers (C8), the GUID Map (C9), and Recv End/Cleanup (C10).
// Grounded on the teacher's internal/server package (handler.go's
// handshake-then-stream-then-validate-and-commit shape; storage.go's
// AtomicWriter temp-then-rename-or-abort pattern, generalized here from
// a single tar.gz file to a dataset-level temp clone).
package recv

import "errors"

// Sentinel errors mapping spec §7's error taxonomy onto this receiver.
// Checked via errors.Is throughout, the same idiom internal/wire and
// internal/send use.
var (
	// ErrInvalid maps EINVAL: malformed header, out-of-range subcode, or
	// CLONE flag without an origin. Offset/length overflow is reported
	// as wire.ErrOverflow instead.
	ErrInvalid = errors.New("recv: malformed stream or invalid argument")
	// ErrLineageNotFound maps ENODEV: fromguid not found on the target's
	// snapshot lineage.
	ErrLineageNotFound = errors.New("recv: fromguid not found in target lineage")
	// ErrTxtBsy maps ETXTBSY: target has uncommitted changes and force
	// was not set.
	ErrTxtBsy = errors.New("recv: target modified since last snapshot")
	// ErrExists maps EEXIST: the target snapshot name already exists.
	ErrExists = errors.New("recv: target snapshot already exists")
	// ErrBusy maps EBUSY: the %recv temp clone already exists.
	ErrBusy = errors.New("recv: temp clone already in progress")
	// ErrNotFound maps ENOENT: a non-CLONE incremental into an absent
	// target filesystem.
	ErrNotFound = errors.New("recv: target filesystem does not exist")
	// ErrNotSupported maps ENOTSUP/EOPNOTSUPP: the stream uses a feature
	// the pool cannot implement, or a compound stream (unsupported).
	ErrNotSupported = errors.New("recv: unsupported stream feature")
	// ErrBadFD maps EBADF: a dedup stream presented with no cleanup fd.
	ErrBadFD = errors.New("recv: dedup stream requires a cleanup handle")
	// ErrInterrupted maps EINTR: cooperative cancellation mid-receive.
	ErrInterrupted = errors.New("recv: interrupted")
)

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package send

import "errors"

// Sentinel errors for the sending pipeline, following the
// internal/wire convention of named package-level errors checked via
// errors.Is.
var (
	ErrInterrupted = errors.New("send: traversal interrupted")
	ErrIO          = errors.New("send: unreadable data block")
	ErrNotAncestor = errors.New("send: fromsnap is not an ancestor of tosnap")
)

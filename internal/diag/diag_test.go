// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag_test

import (
	"path/filepath"
	"testing"

	"github.com/snapstream/zfssend/internal/diag"
)

func TestEventRingDiscardsOldestWhenFull(t *testing.T) {
	r := diag.NewEventRing(3)
	for i := 0; i < 5; i++ {
		r.Push(diag.EventEntry{Kind: "tick", Detail: string(rune('a' + i))})
	}
	recent := r.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	want := []string{"c", "d", "e"}
	for i, e := range recent {
		if e.Detail != want[i] {
			t.Fatalf("entry %d: got %q, want %q", i, e.Detail, want[i])
		}
	}
}

func TestEventRingRecentLimit(t *testing.T) {
	r := diag.NewEventRing(10)
	for i := 0; i < 5; i++ {
		r.Push(diag.EventEntry{Kind: "tick"})
	}
	if got := len(r.Recent(2)); got != 2 {
		t.Fatalf("Recent(2) returned %d entries", got)
	}
	if got := len(r.Recent(0)); got != 5 {
		t.Fatalf("Recent(0) returned %d entries, want all 5", got)
	}
}

func TestExportImportSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl.gz")

	entries := []diag.EventEntry{
		{Kind: "send_begin", ToGUID: 1, Detail: "tank/data@s1"},
		{Kind: "send_complete", ToGUID: 1, Detail: "tank/data@s1"},
		{Kind: "cksum_mismatch", Err: "checksum mismatch"},
	}
	if err := diag.ExportSession(path, entries); err != nil {
		t.Fatalf("ExportSession: %v", err)
	}

	got, err := diag.ImportSession(path)
	if err != nil {
		t.Fatalf("ImportSession: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Kind != e.Kind || got[i].ToGUID != e.ToGUID || got[i].Detail != e.Detail || got[i].Err != e.Err {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], e)
		}
	}
}

func TestImportSessionMissingFile(t *testing.T) {
	if _, err := diag.ImportSession(filepath.Join(t.TempDir(), "missing.gz")); err == nil {
		t.Fatalf("expected error importing a nonexistent session")
	}
}

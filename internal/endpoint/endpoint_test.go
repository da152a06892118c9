// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/snapstream/zfssend/internal/endpoint"
)

func TestOpenWriteThenOpenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")

	w, err := endpoint.OpenWrite(path)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if _, err := w.Write([]byte("hello stream")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := endpoint.OpenRead(path)
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello stream" {
		t.Fatalf("got %q, want %q", data, "hello stream")
	}
}

func TestOpenWriteMissingDirectory(t *testing.T) {
	if _, err := endpoint.OpenWrite(filepath.Join(t.TempDir(), "nope", "stream.bin")); err == nil {
		t.Fatalf("expected error opening a path in a missing directory")
	}
}

func TestOpenReadMissingFile(t *testing.T) {
	if _, err := endpoint.OpenRead(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Fatalf("expected error opening a missing file")
	}
}

func TestStdoutEndpointRejectsRead(t *testing.T) {
	w, err := endpoint.OpenWrite("-")
	if err != nil {
		t.Fatalf("OpenWrite(\"-\"): %v", err)
	}
	if _, err := w.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected Read on stdout endpoint to fail")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close on stdout endpoint should be a no-op, got %v", err)
	}
}

func TestStdinEndpointRejectsWrite(t *testing.T) {
	r, err := endpoint.OpenRead("-")
	if err != nil {
		t.Fatalf("OpenRead(\"-\"): %v", err)
	}
	if _, err := r.Write([]byte("x")); err == nil {
		t.Fatalf("expected Write on stdin endpoint to fail")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on stdin endpoint should be a no-op, got %v", err)
	}
}

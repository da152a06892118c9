// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package endpoint provides the default implementation of spec.md
// §1's "I/O to the stream endpoint" external collaborator: a
// byte-oriented file-like handle the Send Orchestrator writes the
// stream to and the Record Dispatcher reads it back from. The default
// is a local file (or stdin/stdout); internal/endpoint/s3endpoint
// provides an alternate implementation backed by an S3 object.
package endpoint

import (
	"fmt"
	"io"
	"os"
)

// StreamEndpoint is the opaque byte-oriented handle the core treats
// the stream as (spec §1 Non-goals: "network transport ... the stream
// is opaque bytes on a file-like handle").
type StreamEndpoint interface {
	io.ReadWriteCloser
}

// OpenWrite opens path for a send. path == "-" writes to stdout
// (returned with a no-op Close, since the caller shouldn't close the
// process's stdout).
func OpenWrite(path string) (StreamEndpoint, error) {
	if path == "-" {
		return nopCloseWriter{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("endpoint: opening %s for write: %w", path, err)
	}
	return f, nil
}

// OpenRead opens path for a receive. path == "-" reads from stdin
// (returned with a no-op Close).
func OpenRead(path string) (StreamEndpoint, error) {
	if path == "-" {
		return nopCloseReader{os.Stdin}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("endpoint: opening %s for read: %w", path, err)
	}
	return f, nil
}

type nopCloseWriter struct{ *os.File }

func (nopCloseWriter) Close() error { return nil }
func (nopCloseWriter) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("endpoint: stdout endpoint does not support Read")
}

type nopCloseReader struct{ *os.File }

func (nopCloseReader) Close() error { return nil }
func (nopCloseReader) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("endpoint: stdin endpoint does not support Write")
}

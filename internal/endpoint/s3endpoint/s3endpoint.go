// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package s3endpoint is an alternate StreamEndpoint (spec §1's "I/O to
// the stream endpoint" external collaborator) that reads/writes the
// opaque replication stream as a single S3 object rather than a local
// file. Grounded on the teacher's go.mod, which carries
// aws-sdk-go-v2/{,config,credentials,service/s3} as a direct
// dependency; no file in the retrieved pack exercises it, so the
// wiring here is new but the dependency itself is not.
//
// The stream is written sequentially by one Orchestrator and read
// sequentially by one Dispatcher (spec §5: single-threaded inside the
// core), so this package treats the whole stream as one PutObject
// body and one whole-object GetObject rather than splitting it into
// independently-ordered multipart parts — multipart's main benefit
// (parallel upload of out-of-order parts) has nothing to exploit here.
package s3endpoint

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewClient builds an s3.Client from region/endpoint/static
// credentials. An empty accessKeyID leaves the SDK's default
// credential chain (environment, shared config, instance role) in
// place; a non-empty one wires aws-sdk-go-v2/credentials' static
// provider instead, for S3-compatible stores that don't support the
// default chain.
func NewClient(ctx context.Context, region, endpointURL, accessKeyID, secretAccessKey string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3endpoint: loading aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = &endpointURL
			o.UsePathStyle = true
		}
	}), nil
}

// Writer streams a send's output into a single S3 object via
// io.Pipe: PutObject needs an io.Reader it can consume to completion,
// while the Orchestrator only ever writes forward through an
// io.Writer, so a pipe bridges the two without buffering the whole
// stream in memory.
type Writer struct {
	pw   *io.PipeWriter
	done chan error
}

// NewWriter starts the background PutObject call and returns a Writer
// ready to receive stream bytes. Call Close when the send completes
// (successfully or not) to unblock and collect the upload's result.
func NewWriter(ctx context.Context, client *s3.Client, bucket, key string) *Writer {
	pr, pw := io.Pipe()
	w := &Writer{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   pr,
		})
		pr.CloseWithError(err)
		w.done <- err
	}()

	return w
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close signals end-of-stream to PutObject and waits for the upload to
// finish, returning any upload error.
func (w *Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return fmt.Errorf("s3endpoint: closing pipe: %w", err)
	}
	if err := <-w.done; err != nil {
		return fmt.Errorf("s3endpoint: uploading object: %w", err)
	}
	return nil
}

// Reader streams a receive's input back from a single S3 object.
type Reader struct {
	body io.ReadCloser
}

// NewReader opens bucket/key for reading. The Dispatcher consumes it
// sequentially via Read, exactly like a local file.
func NewReader(ctx context.Context, client *s3.Client, bucket, key string) (*Reader, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("s3endpoint: getting object s3://%s/%s: %w", bucket, key, err)
	}
	return &Reader{body: out.Body}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.body.Read(p)
}

// Close releases the underlying HTTP response body.
func (r *Reader) Close() error {
	return r.body.Close()
}

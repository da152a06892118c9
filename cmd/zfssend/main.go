// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command zfssend drives a send_obj/send call (spec §6) against a
// local reference pool, writing the resulting stream to the
// configured endpoint. Grounded on the teacher's cmd/nbackup-agent's
// main: flag-parsed config path, NewLogger, a single top-level
// operation, process exit code on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/snapstream/zfssend/internal/config"
	"github.com/snapstream/zfssend/internal/diag"
	"github.com/snapstream/zfssend/internal/dsl"
	"github.com/snapstream/zfssend/internal/dsl/memstore"
	"github.com/snapstream/zfssend/internal/endpoint"
	"github.com/snapstream/zfssend/internal/endpoint/s3endpoint"
	"github.com/snapstream/zfssend/internal/logging"
	"github.com/snapstream/zfssend/internal/send"
)

func main() {
	configPath := flag.String("config", "/etc/zfssend/zfssend.yaml", "path to send config file")
	estimateOnly := flag.Bool("estimate", false, "print the estimated stream size and exit without sending")
	diagExport := flag.String("diag-export", "", "write a gzip session event export to this path on exit")
	flag.Parse()

	cfg, err := config.LoadSendConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	events := diag.NewEventRing(256)
	exportDiag := func() {
		if *diagExport == "" {
			return
		}
		if err := diag.ExportSession(*diagExport, events.Recent(0)); err != nil {
			logger.Warn("failed to write diagnostics export", "error", err)
		}
	}

	if err := run(context.Background(), cfg, *estimateOnly, logger, events); err != nil {
		logger.Error("send failed", "error", err)
		events.Push(diag.EventEntry{Kind: "send_failed", Err: err.Error()})
		exportDiag()
		os.Exit(1)
	}
	exportDiag()
}

func run(ctx context.Context, cfg *config.SendConfig, estimateOnly bool, logger *slog.Logger, events *diag.EventRing) error {
	pool, err := memstore.LoadFromFile(cfg.Pool)
	if err != nil {
		return fmt.Errorf("loading pool %s: %w", cfg.Pool, err)
	}

	orch := send.NewOrchestrator(pool, pool, pool, pool, pool, logger, send.Options{
		BytesPerSec:        cfg.Throttle.BytesPerSecRaw,
		CorruptReplacement: cfg.CorruptReplacement,
	})

	if estimateOnly {
		to, err := pool.ResolveSnapshot(ctx, cfg.To)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", cfg.To, err)
		}
		var fromSnapPtr *dsl.SnapshotInfo
		if cfg.From != "" {
			fromSnap, err := pool.ResolveSnapshot(ctx, cfg.From)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", cfg.From, err)
			}
			fromSnapPtr = &fromSnap
		}
		bytesEstimate, err := orch.SendEstimate(ctx, to, fromSnapPtr)
		if err != nil {
			return err
		}
		fmt.Printf("%d\n", bytesEstimate)
		return nil
	}

	w, err := openEndpointWrite(ctx, cfg)
	if err != nil {
		return err
	}
	defer w.Close()

	events.Push(diag.EventEntry{Kind: "send_begin", Detail: cfg.To})
	if err := orch.Send(ctx, w, cfg.To, cfg.From); err != nil {
		return fmt.Errorf("sending %s: %w", cfg.To, err)
	}
	events.Push(diag.EventEntry{Kind: "send_complete", Detail: cfg.To})
	return nil
}

func openEndpointWrite(ctx context.Context, cfg *config.SendConfig) (endpoint.StreamEndpoint, error) {
	switch cfg.Endpoint.Kind {
	case "s3":
		client, err := s3endpoint.NewClient(ctx, cfg.Endpoint.S3.Region, cfg.Endpoint.S3.Endpoint,
			cfg.Endpoint.S3.AccessKeyID, cfg.Endpoint.S3.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		return &s3WriteCloser{s3endpoint.NewWriter(ctx, client, cfg.Endpoint.S3.Bucket, cfg.Endpoint.S3.Key)}, nil
	default:
		return endpoint.OpenWrite(cfg.Endpoint.Path)
	}
}

// s3WriteCloser adapts s3endpoint.Writer (which has no Read method) to
// endpoint.StreamEndpoint's io.ReadWriteCloser shape; the send path
// never reads from it.
type s3WriteCloser struct {
	*s3endpoint.Writer
}

func (s3WriteCloser) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("zfssend: s3 write endpoint does not support Read")
}

// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command zfsrecv drives a recv_begin/recv_stream/recv_end sequence
// (spec §6) against a local reference pool, reading the stream from
// the configured endpoint. Like cmd/zfssend, it wires config, logging,
// the endpoint, and (optionally) a background housekeeping sweep for
// abandoned INCONSISTENT datasets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/snapstream/zfssend/internal/config"
	"github.com/snapstream/zfssend/internal/diag"
	"github.com/snapstream/zfssend/internal/dsl/memstore"
	"github.com/snapstream/zfssend/internal/dsl/poolhealth"
	"github.com/snapstream/zfssend/internal/endpoint"
	"github.com/snapstream/zfssend/internal/endpoint/s3endpoint"
	"github.com/snapstream/zfssend/internal/housekeep"
	"github.com/snapstream/zfssend/internal/logging"
	"github.com/snapstream/zfssend/internal/recv"
	"github.com/snapstream/zfssend/internal/wire"
	"github.com/snapstream/zfssend/internal/wire/fletcher"
)

func main() {
	configPath := flag.String("config", "/etc/zfsrecv/zfsrecv.yaml", "path to recv config file")
	diagExport := flag.String("diag-export", "", "write a gzip session event export to this path on exit")
	flag.Parse()

	cfg, err := config.LoadRecvConfig(*configPath)
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

	if err := run(context.Background(), cfg, logger, events); err != nil {
		logger.Error("receive failed", "error", err)
		events.Push(diag.EventEntry{Kind: "recv_failed", Err: err.Error()})
		exportDiag()
		os.Exit(1)
	}
	exportDiag()
}

func run(ctx context.Context, cfg *config.RecvConfig, logger *slog.Logger, events *diag.EventRing) error {
	pool, err := memstore.LoadFromFile(cfg.Pool)
	if err != nil {
		return fmt.Errorf("loading pool %s: %w", cfg.Pool, err)
	}
	defer func() {
		if err := pool.SaveToFile(cfg.Pool); err != nil {
			logger.Warn("failed to persist pool state", "error", err)
		}
	}()

	if cfg.Housekeep.Enabled {
		sweeper := housekeep.NewSweeper(pool, pool, logger, cfg.Housekeep.TTLRaw)
		if err := sweeper.Start(cfg.Housekeep.Schedule); err != nil {
			return fmt.Errorf("starting housekeeping sweep: %w", err)
		}
		defer sweeper.Stop()
	}

	if cfg.PoolHealthEnabled() {
		monitor := poolhealth.NewMonitor(logger, cfg.PoolHealth.Mountpoint, cfg.PoolHealth.IntervalRaw)
		monitor.Start()
		defer monitor.Stop()

		st := monitor.Status()
		if !st.HasRoom(uint64(cfg.PoolHealth.MinFreeRaw)) {
			return fmt.Errorf("pool_health: %s has %d bytes free, want at least %d", cfg.PoolHealth.Mountpoint, st.FreeBytes, cfg.PoolHealth.MinFreeRaw)
		}
	}

	r, err := openEndpointRead(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	st := &fletcher.State{}
	hdr, toName, order, err := wire.ReadBegin(r, st)
	if err != nil {
		return fmt.Errorf("reading begin record: %w", err)
	}
	events.Push(diag.EventEntry{Kind: "recv_begin", ToGUID: hdr.ToGUID, FromGUID: hdr.FromGUID, Detail: toName})

	begin := recv.NewBegin(pool, pool, pool)
	cookie, err := begin.Run(ctx, cfg.ToFS, cfg.ToSnap, hdr, cfg.Force, cfg.Origin, order)
	if err != nil {
		return fmt.Errorf("recv_begin: %w", err)
	}

	var guids *recv.GUIDMap
	if cfg.Dedup.Enabled {
		guids, err = recv.NewGUIDMap(pool, pool, cfg.Dedup.CleanupFD)
		if err != nil {
			recv.NewEnd(pool, pool, nil).Abort(ctx, cookie)
			return fmt.Errorf("recv: setting up guid map: %w", err)
		}
		defer guids.Close()
	}

	dispatcher := recv.NewDispatcher(pool, pool, guids)
	if _, err := dispatcher.Run(ctx, r, st, cookie, order); err != nil {
		recv.NewEnd(pool, pool, guids).Abort(ctx, cookie)
		return fmt.Errorf("recv_stream: %w", err)
	}

	end := recv.NewEnd(pool, pool, guids)
	if err := end.Run(ctx, cookie, cfg.Force, hdr.CreationTime); err != nil {
		return fmt.Errorf("recv_end: %w", err)
	}
	events.Push(diag.EventEntry{Kind: "recv_complete", ToGUID: hdr.ToGUID, Detail: cfg.ToFS + "@" + cfg.ToSnap})
	return nil
}

func openEndpointRead(ctx context.Context, cfg *config.RecvConfig) (endpoint.StreamEndpoint, error) {
	switch cfg.Endpoint.Kind {
	case "s3":
		client, err := s3endpoint.NewClient(ctx, cfg.Endpoint.S3.Region, cfg.Endpoint.S3.Endpoint,
			cfg.Endpoint.S3.AccessKeyID, cfg.Endpoint.S3.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		r, err := s3endpoint.NewReader(ctx, client, cfg.Endpoint.S3.Bucket, cfg.Endpoint.S3.Key)
		if err != nil {
			return nil, err
		}
		return &s3ReadCloser{r}, nil
	default:
		return endpoint.OpenRead(cfg.Endpoint.Path)
	}
}

// s3ReadCloser adapts s3endpoint.Reader (which has no Write method) to
// endpoint.StreamEndpoint's io.ReadWriteCloser shape; the receive path
// never writes to it.
type s3ReadCloser struct {
	*s3endpoint.Reader
}

func (s3ReadCloser) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("zfsrecv: s3 read endpoint does not support Write")
}

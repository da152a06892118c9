// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapstream/zfssend/internal/config"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadSendConfigDefaultsAndValidation(t *testing.T) {
	path := writeTemp(t, "zfssend.yaml", `
pool: /tmp/pool.json
to: tank/data@s2
from: tank/data@s1
throttle:
  bytes_per_sec: 10mb
endpoint:
  path: /tmp/stream.bin
`)
	cfg, err := config.LoadSendConfig(path)
	if err != nil {
		t.Fatalf("LoadSendConfig: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("expected default logging level/format, got %+v", cfg.Logging)
	}
	if cfg.Endpoint.Kind != "file" {
		t.Fatalf("expected default endpoint kind file, got %q", cfg.Endpoint.Kind)
	}
	if cfg.Throttle.BytesPerSecRaw != 10*1024*1024 {
		t.Fatalf("expected 10mb parsed to %d, got %d", 10*1024*1024, cfg.Throttle.BytesPerSecRaw)
	}
}

func TestLoadSendConfigMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, "zfssend.yaml", `
endpoint:
  path: /tmp/stream.bin
`)
	if _, err := config.LoadSendConfig(path); err == nil {
		t.Fatalf("expected error for missing pool/to")
	}
}

func TestLoadSendConfigS3EndpointRequiresBucketAndKey(t *testing.T) {
	path := writeTemp(t, "zfssend.yaml", `
pool: /tmp/pool.json
to: tank/data@s1
endpoint:
  kind: s3
  s3:
    region: us-east-1
`)
	if _, err := config.LoadSendConfig(path); err == nil {
		t.Fatalf("expected error for s3 endpoint missing bucket/key")
	}
}

func TestLoadRecvConfigDefaultsHousekeep(t *testing.T) {
	path := writeTemp(t, "zfsrecv.yaml", `
pool: /tmp/pool.json
to_fs: tank/data
to_snap: s1
endpoint:
  path: /tmp/stream.bin
housekeep:
  enabled: true
`)
	cfg, err := config.LoadRecvConfig(path)
	if err != nil {
		t.Fatalf("LoadRecvConfig: %v", err)
	}
	if cfg.Housekeep.Schedule != "@hourly" {
		t.Fatalf("expected default schedule @hourly, got %q", cfg.Housekeep.Schedule)
	}
	if cfg.Housekeep.TTLRaw != 24*time.Hour {
		t.Fatalf("expected default ttl 24h, got %v", cfg.Housekeep.TTLRaw)
	}
}

func TestLoadRecvConfigInvalidTTL(t *testing.T) {
	path := writeTemp(t, "zfsrecv.yaml", `
pool: /tmp/pool.json
to_fs: tank/data
to_snap: s1
endpoint:
  path: /tmp/stream.bin
housekeep:
  enabled: true
  ttl: not-a-duration
`)
	if _, err := config.LoadRecvConfig(path); err == nil {
		t.Fatalf("expected error for invalid ttl")
	}
}

func TestLoadRecvConfigDedupNegativeCleanupFD(t *testing.T) {
	path := writeTemp(t, "zfsrecv.yaml", `
pool: /tmp/pool.json
to_fs: tank/data
to_snap: s1
endpoint:
  path: /tmp/stream.bin
dedup:
  enabled: true
  cleanup_fd: -1
`)
	if _, err := config.LoadRecvConfig(path); err == nil {
		t.Fatalf("expected error for negative cleanup_fd")
	}
}

func TestLoadRecvConfigPoolHealthDisabledByDefault(t *testing.T) {
	path := writeTemp(t, "zfsrecv.yaml", `
pool: /tmp/pool.json
to_fs: tank/data
to_snap: s1
endpoint:
  path: /tmp/stream.bin
`)
	cfg, err := config.LoadRecvConfig(path)
	if err != nil {
		t.Fatalf("LoadRecvConfig: %v", err)
	}
	if cfg.PoolHealthEnabled() {
		t.Fatalf("expected pool health disabled when mountpoint is unset")
	}
}

func TestLoadRecvConfigPoolHealthDefaultsAndParsing(t *testing.T) {
	path := writeTemp(t, "zfsrecv.yaml", `
pool: /tmp/pool.json
to_fs: tank/data
to_snap: s1
endpoint:
  path: /tmp/stream.bin
pool_health:
  mountpoint: /mnt/tank
  min_free: 1gb
`)
	cfg, err := config.LoadRecvConfig(path)
	if err != nil {
		t.Fatalf("LoadRecvConfig: %v", err)
	}
	if !cfg.PoolHealthEnabled() {
		t.Fatalf("expected pool health enabled when mountpoint is set")
	}
	if cfg.PoolHealth.IntervalRaw != 10*time.Second {
		t.Fatalf("expected default interval 10s, got %v", cfg.PoolHealth.IntervalRaw)
	}
	if cfg.PoolHealth.MinFreeRaw != 1024*1024*1024 {
		t.Fatalf("expected 1gb parsed to %d, got %d", 1024*1024*1024, cfg.PoolHealth.MinFreeRaw)
	}
}

func TestLoadRecvConfigPoolHealthInvalidInterval(t *testing.T) {
	path := writeTemp(t, "zfsrecv.yaml", `
pool: /tmp/pool.json
to_fs: tank/data
to_snap: s1
endpoint:
  path: /tmp/stream.bin
pool_health:
  mountpoint: /mnt/tank
  interval: not-a-duration
`)
	if _, err := config.LoadRecvConfig(path); err == nil {
		t.Fatalf("expected error for invalid pool_health.interval")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"1024":  1024,
		"1kb":   1024,
		"2mb":   2 * 1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
		"512b":  512,
	}
	for in, want := range cases {
		got, err := config.ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseByteSizeInvalid(t *testing.T) {
	if _, err := config.ParseByteSize("not-a-size"); err == nil {
		t.Fatalf("expected error for invalid size string")
	}
}

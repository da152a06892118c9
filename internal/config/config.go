// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the YAML configuration for the zfssend and
// zfsrecv binaries, following the teacher's internal/config package:
// typed struct + yaml tags, a Load*Config(path) constructor that
// reads, parses, defaults, and validates in one call, and a
// SizeRaw-style derived field for human-readable byte-size strings
// (ParseByteSize, lifted from the teacher's AgentConfig.validate /
// ParseByteSize almost verbatim since the size-string grammar itself
// isn't spec-specific).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig mirrors the teacher's LoggingInfo: level/format/file
// knobs consumed directly by internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func (l *LoggingConfig) setDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// EndpointConfig selects and configures the stream endpoint (spec §1's
// "I/O to the stream endpoint" external collaborator): either a local
// file/FIFO path, or an S3 object.
type EndpointConfig struct {
	Kind string   `yaml:"kind"` // "file" (default) or "s3"
	Path string   `yaml:"path"` // file path, or "-" for stdin/stdout
	S3   S3Config `yaml:"s3"`
}

// S3Config names the bucket/key/region an s3endpoint.Reader/Writer
// reads or writes, and optional static credentials / custom endpoint
// (for S3-compatible object stores) that exercise
// aws-sdk-go-v2/credentials alongside aws-sdk-go-v2/config's default
// chain.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Key             string `yaml:"key"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`          // non-empty for S3-compatible stores
	AccessKeyID     string `yaml:"access_key_id"`     // optional; default chain used if empty
	SecretAccessKey string `yaml:"secret_access_key"` // optional
}

func (e *EndpointConfig) setDefaults() {
	if e.Kind == "" {
		e.Kind = "file"
	}
}

func (e *EndpointConfig) validate() error {
	switch e.Kind {
	case "file":
		if e.Path == "" {
			return fmt.Errorf("endpoint.path is required for kind=file")
		}
	case "s3":
		if e.S3.Bucket == "" || e.S3.Key == "" {
			return fmt.Errorf("endpoint.s3.bucket and endpoint.s3.key are required for kind=s3")
		}
	default:
		return fmt.Errorf("endpoint.kind must be %q or %q, got %q", "file", "s3", e.Kind)
	}
	return nil
}

// ThrottleConfig caps the send side's outbound byte rate (spec §9's
// corruption-replacement-style "explicit configuration knob, not a
// hidden global").
type ThrottleConfig struct {
	BytesPerSec    string `yaml:"bytes_per_sec"` // e.g. "10mb"; empty disables throttling
	BytesPerSecRaw int64  `yaml:"-"`
}

func (t *ThrottleConfig) validate() error {
	if t.BytesPerSec == "" {
		return nil
	}
	v, err := ParseByteSize(t.BytesPerSec)
	if err != nil {
		return fmt.Errorf("throttle.bytes_per_sec: %w", err)
	}
	t.BytesPerSecRaw = v
	return nil
}

// SendConfig is the top-level zfssend.yaml document.
type SendConfig struct {
	// Pool points at the local JSON snapshot memstore.SaveToFile/
	// LoadFromFile round-trips through — a stand-in for the real pool,
	// which spec.md §1 puts out of scope as an external collaborator.
	Pool               string         `yaml:"pool"`
	To                 string         `yaml:"to"`   // snapshot name to send
	From               string         `yaml:"from"` // optional ancestor snapshot
	CorruptReplacement bool           `yaml:"corrupt_replacement"`
	Throttle           ThrottleConfig `yaml:"throttle"`
	Endpoint           EndpointConfig `yaml:"endpoint"`
	Logging            LoggingConfig  `yaml:"logging"`
}

// LoadSendConfig reads, parses, defaults, and validates a zfssend.yaml
// document at path.
func LoadSendConfig(path string) (*SendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading send config: %w", err)
	}
	var cfg SendConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing send config: %w", err)
	}
	cfg.Logging.setDefaults()
	cfg.Endpoint.setDefaults()

	if cfg.Pool == "" {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.To == "" {
		return nil, fmt.Errorf("to is required")
	}
	if err := cfg.Endpoint.validate(); err != nil {
		return nil, fmt.Errorf("validating send config: %w", err)
	}
	if err := cfg.Throttle.validate(); err != nil {
		return nil, fmt.Errorf("validating send config: %w", err)
	}
	return &cfg, nil
}

// HousekeepConfig configures the abandoned-dataset sweep a zfsrecv
// daemon runs in the background.
type HousekeepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, default "@hourly"
	TTL      string `yaml:"ttl"`      // e.g. "24h"; default 24h
	TTLRaw   time.Duration `yaml:"-"`
}

func (h *HousekeepConfig) setDefaults() {
	if h.Schedule == "" {
		h.Schedule = "@hourly"
	}
	if h.TTL == "" {
		h.TTL = "24h"
	}
}

func (h *HousekeepConfig) validate() error {
	d, err := time.ParseDuration(h.TTL)
	if err != nil {
		return fmt.Errorf("housekeep.ttl: %w", err)
	}
	h.TTLRaw = d
	return nil
}

// DedupConfig configures the GUID Map's cleanup-fd-anchored lifetime
// (spec §4.9).
type DedupConfig struct {
	Enabled   bool `yaml:"enabled"`
	CleanupFD int  `yaml:"cleanup_fd"`
}

// PoolHealthConfig enables a disk-free pre-check before a receive is
// admitted: it names a mountpoint to sample and a minimum free byte
// threshold a receive refuses to start below. Disabled (the default)
// when Mountpoint is empty.
type PoolHealthConfig struct {
	Mountpoint  string        `yaml:"mountpoint"`
	MinFree     string        `yaml:"min_free"` // e.g. "1gb"
	MinFreeRaw  int64         `yaml:"-"`
	Interval    string        `yaml:"interval"` // sampling period, default "10s"
	IntervalRaw time.Duration `yaml:"-"`
}

func (p *PoolHealthConfig) enabled() bool { return p.Mountpoint != "" }

func (p *PoolHealthConfig) setDefaults() {
	if p.Interval == "" {
		p.Interval = "10s"
	}
	if p.MinFree == "" {
		p.MinFree = "0b"
	}
}

func (p *PoolHealthConfig) validate() error {
	if !p.enabled() {
		return nil
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil {
		return fmt.Errorf("pool_health.interval: %w", err)
	}
	p.IntervalRaw = d
	v, err := ParseByteSize(p.MinFree)
	if err != nil {
		return fmt.Errorf("pool_health.min_free: %w", err)
	}
	p.MinFreeRaw = v
	return nil
}

// RecvConfig is the top-level zfsrecv.yaml document.
type RecvConfig struct {
	// Pool mirrors SendConfig.Pool: the local stand-in for the real
	// receiving pool.
	Pool       string           `yaml:"pool"`
	ToFS       string           `yaml:"to_fs"`
	ToSnap     string           `yaml:"to_snap"`
	Origin     string           `yaml:"origin"`
	Force      bool             `yaml:"force"`
	Endpoint   EndpointConfig   `yaml:"endpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
	Housekeep  HousekeepConfig  `yaml:"housekeep"`
	Dedup      DedupConfig      `yaml:"dedup"`
	PoolHealth PoolHealthConfig `yaml:"pool_health"`
}

// LoadRecvConfig reads, parses, defaults, and validates a zfsrecv.yaml
// document at path.
func LoadRecvConfig(path string) (*RecvConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recv config: %w", err)
	}
	var cfg RecvConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing recv config: %w", err)
	}
	cfg.Logging.setDefaults()
	cfg.Endpoint.setDefaults()
	cfg.Housekeep.setDefaults()
	cfg.PoolHealth.setDefaults()

	if cfg.Pool == "" {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.ToFS == "" {
		return nil, fmt.Errorf("to_fs is required")
	}
	if cfg.ToSnap == "" {
		return nil, fmt.Errorf("to_snap is required")
	}
	if err := cfg.Endpoint.validate(); err != nil {
		return nil, fmt.Errorf("validating recv config: %w", err)
	}
	if err := cfg.Housekeep.validate(); err != nil {
		return nil, fmt.Errorf("validating recv config: %w", err)
	}
	if err := cfg.PoolHealth.validate(); err != nil {
		return nil, fmt.Errorf("validating recv config: %w", err)
	}
	if cfg.Dedup.Enabled && cfg.Dedup.CleanupFD < 0 {
		return nil, fmt.Errorf("dedup.cleanup_fd must be >= 0 when dedup.enabled")
	}
	return &cfg, nil
}

// PoolHealthEnabled reports whether the pool-health pre-check is
// configured (RecvConfig.PoolHealth.Mountpoint is non-empty).
func (c *RecvConfig) PoolHealthEnabled() bool {
	return c.PoolHealth.enabled()
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb" to
// bytes. Lifted from the teacher's config.ParseByteSize: the grammar
// (longest-suffix-first match, plain integer fallback) isn't
// domain-specific.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}

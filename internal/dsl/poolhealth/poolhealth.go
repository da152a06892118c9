// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package poolhealth backs cmd/zfsrecv's "does the target pool have
// room for this stream" pre-check, made before Receive Begin runs,
// with a real disk-free probe,
// grounded on the teacher's internal/agent/monitor.go SystemMonitor
// (same gopsutil/v3 sub-packages, same periodic-collect-into-a-
// mutex-guarded-struct shape).
package poolhealth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// Status is the latest collected view of the filesystem backing a
// pool mountpoint.
type Status struct {
	TotalBytes  uint64
	FreeBytes   uint64
	UsedPercent float64
	CollectedAt time.Time
	LastErr     error
}

// HasRoom reports whether at least minFree bytes remain, the gate
// cmd/zfsrecv consults before it opens the stream and runs Receive
// Begin; recv.Begin's check phase itself does not consult it (disk
// space is an ambient concern this repo adds per SPEC_FULL.md's DOMAIN
// STACK wiring of gopsutil).
func (s Status) HasRoom(minFree uint64) bool {
	return s.LastErr == nil && s.FreeBytes >= minFree
}

// Monitor periodically samples one mountpoint's disk usage.
type Monitor struct {
	logger     *slog.Logger
	mountpoint string
	interval   time.Duration

	mu     sync.RWMutex
	status Status

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor returns a Monitor for mountpoint, sampling every
// interval. It does not start collecting until Start is called.
func NewMonitor(logger *slog.Logger, mountpoint string, interval time.Duration) *Monitor {
	return &Monitor{
		logger:     logger.With("component", "pool_health", "mountpoint", mountpoint),
		mountpoint: mountpoint,
		interval:   interval,
		closeCh:    make(chan struct{}),
	}
}

// Start begins periodic collection in the background. It performs one
// synchronous collection first so Status is populated before it
// returns.
func (m *Monitor) Start() {
	m.collect()
	m.wg.Add(1)
	go m.run()
}

// Stop halts periodic collection.
func (m *Monitor) Stop() {
	close(m.closeCh)
	m.wg.Wait()
}

// Status returns the most recently collected sample.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	st := Status{CollectedAt: time.Now()}
	u, err := disk.Usage(m.mountpoint)
	if err != nil {
		st.LastErr = fmt.Errorf("poolhealth: disk.Usage(%s): %w", m.mountpoint, err)
		m.logger.Debug("failed to collect disk stats", "error", err)
	} else {
		st.TotalBytes = u.Total
		st.FreeBytes = u.Free
		st.UsedPercent = u.UsedPercent
	}

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
}

// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// trackedTarget pairs a per-host atomic completion counter with its last
// access time, mirroring managedVSA's lastAccessed idiom so the tracker
// never needs a lock on the hot increment path.
type trackedTarget struct {
	target        Target
	total         uint64
	completed     atomic.Uint64
	startedAt     int64 // unix nano
	lastUpdatedAt int64 // unix nano
}

// ProgressTracker records per-target completion counts concurrently from
// many prober goroutines without contention.
type ProgressTracker struct {
	targets sync.Map // string(addr) -> *trackedTarget
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// Register adds a target with its total port count, which becomes that
// target's PortsTotal in every later snapshot. The bridge's poll interval
// does not read these totals; it comes from the totalWork given to
// NewProgressBridge.
func (p *ProgressTracker) Register(t Target, totalPorts uint64) {
	now := time.Now().UnixNano()
	tt := &trackedTarget{target: t, total: totalPorts, startedAt: now, lastUpdatedAt: now}
	p.targets.Store(t.Addr.String(), tt)
}

// Advance records n additional completed ports for the given target.
func (p *ProgressTracker) Advance(t Target, n uint64) {
	v, ok := p.targets.Load(t.Addr.String())
	if !ok {
		return
	}
	tt := v.(*trackedTarget)
	tt.completed.Add(n)
	atomic.StoreInt64(&tt.lastUpdatedAt, time.Now().UnixNano())
}

// Snapshot returns a Progress value for the given target, or false if it is
// not registered.
func (p *ProgressTracker) Snapshot(t Target) (Progress, bool) {
	v, ok := p.targets.Load(t.Addr.String())
	if !ok {
		return Progress{}, false
	}
	tt := v.(*trackedTarget)
	return Progress{
		Target:         tt.target,
		PortsTotal:     tt.total,
		PortsCompleted: tt.completed.Load(),
		StartedAt:      time.Unix(0, tt.startedAt),
		LastUpdatedAt:  time.Unix(0, atomic.LoadInt64(&tt.lastUpdatedAt)),
	}, true
}

// ForEach ranges over every registered target's progress snapshot.
func (p *ProgressTracker) ForEach(f func(Progress)) {
	p.targets.Range(func(_, value interface{}) bool {
		tt := value.(*trackedTarget)
		f(Progress{
			Target:         tt.target,
			PortsTotal:     tt.total,
			PortsCompleted: tt.completed.Load(),
			StartedAt:      time.Unix(0, tt.startedAt),
			LastUpdatedAt:  time.Unix(0, atomic.LoadInt64(&tt.lastUpdatedAt)),
		})
		return true
	})
}

// Totals sums PortsTotal and PortsCompleted across every registered target.
func (p *ProgressTracker) Totals() (total, completed uint64) {
	p.ForEach(func(pr Progress) {
		total += pr.PortsTotal
		completed += pr.PortsCompleted
	})
	return
}

// ProgressBridge polls a ProgressTracker on a fixed interval and renders an
// aggregate bar. The interval is derived once from the total scan size
// captured at construction time, not recomputed inside the poll loop, which
// is the historical shadowing bug this component must avoid: a stale local
// `total` shadowing the tracker's real total would freeze the bar's scale.
type ProgressBridge struct {
	tracker  *ProgressTracker
	bar      *progressbar.ProgressBar
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewProgressBridge creates a bridge. totalWork is Σ(hosts×ports), computed
// by the caller before any per-host loop starts.
func NewProgressBridge(tracker *ProgressTracker, totalWork uint64, interval time.Duration) *ProgressBridge {
	if interval <= 0 {
		interval = adaptiveInterval(totalWork)
	}
	bar := progressbar.NewOptions64(int64(totalWork),
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
	)
	return &ProgressBridge{
		tracker:  tracker,
		bar:      bar,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// adaptiveInterval scales the poll period to the total scan size (Σ hosts
// × ports), NOT per-host size: a per-host reuse of this quantity is the
// historical shadowing bug ProgressBridge's docs call out. Thresholds are
// fixed, testable values, not tuning knobs.
func adaptiveInterval(totalWork uint64) time.Duration {
	switch {
	case totalWork < 1_000:
		return 200 * time.Microsecond
	case totalWork < 10_000:
		return 500 * time.Microsecond
	case totalWork < 100_000:
		return 1 * time.Millisecond
	case totalWork < 1_000_000:
		return 5 * time.Millisecond
	default:
		return 10 * time.Millisecond
	}
}

// Start begins the poll loop in a new goroutine.
func (b *ProgressBridge) Start() {
	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		var last uint64
		for {
			select {
			case <-ticker.C:
				_, completed := b.tracker.Totals()
				if completed > last {
					_ = b.bar.Add64(int64(completed - last))
					last = completed
				}
			case <-b.stopCh:
				_, completed := b.tracker.Totals()
				if completed > last {
					_ = b.bar.Add64(int64(completed - last))
				}
				return
			}
		}
	}()
}

// Stop halts the poll loop and waits for it to exit, finishing the bar.
func (b *ProgressBridge) Stop() {
	close(b.stopCh)
	<-b.doneCh
	_ = b.bar.Finish()
}

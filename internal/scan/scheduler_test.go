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
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"prortip/internal/checkpoint"
	"prortip/internal/detection"
	"prortip/pkg/shuffle"
)

// fakeDetector tags every probed port as "tagged" so enrichment wiring can
// be verified without a real fingerprinting engine.
type fakeDetector struct{}

func (fakeDetector) ProbeService(ctx context.Context, host string, port uint32) (detection.ServiceInfo, error) {
	return detection.ServiceInfo{Name: "tagged"}, nil
}

// fakeProber immediately marks every job as open, exercising the
// scheduler's wiring without needing real sockets.
type fakeProber struct{}

func (fakeProber) Run(ctx context.Context, jobs <-chan ScanJob, agg *Aggregator, tracker *ProgressTracker) {
	for j := range jobs {
		for !agg.Push(ScanResult{Target: j.Target, Port: j.Port, Kind: j.Kind, State: StateOpen}) {
		}
		if tracker != nil {
			tracker.Advance(j.Target, 1)
		}
	}
}

func TestSchedulerRunCompletesAllJobs(t *testing.T) {
	tracker := NewProgressTracker()
	agg := NewAggregator(1024)
	sched := NewScheduler(nil, tracker, agg, fakeProber{}, 8, zerolog.Nop())

	plan := Plan{
		Targets: []Target{testTarget("10.0.0.1"), testTarget("10.0.0.2")},
		Ports:   NewPortSet([]uint32{80, 443, 8080}),
		Kind:    KindConnect,
	}

	results := sched.Run(context.Background(), plan)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}

	total, completed := tracker.Totals()
	if total != 6 || completed != 6 {
		t.Fatalf("Totals = (%d,%d), want (6,6)", total, completed)
	}
}

func TestClampParallelNeverExceedsRequested(t *testing.T) {
	got := clampParallel(10)
	if got > 10 {
		t.Fatalf("clampParallel(10) = %d, should never exceed request when within limits", got)
	}
}

func TestTotalWorkIsHostsTimesPorts(t *testing.T) {
	p := Plan{
		Targets: []Target{testTarget("10.0.0.1"), testTarget("10.0.0.2"), testTarget("10.0.0.3")},
		Ports:   NewPortSet([]uint32{1, 2}),
	}
	if p.TotalWork() != 6 {
		t.Fatalf("TotalWork() = %d, want 6", p.TotalWork())
	}
}

func TestDefaultParallelForHostMatchesAdaptiveTable(t *testing.T) {
	cases := []struct {
		ports int
		want  int
	}{
		{10_000, 1000},
		{50_000, 1000},
		{1_000, 500},
		{5_000, 500},
		{100, 200},
		{999, 200},
		{1, 20},
		{99, 20},
	}
	for _, c := range cases {
		if got := DefaultParallelForHost(c.ports); got != c.want {
			t.Fatalf("DefaultParallelForHost(%d) = %d, want %d", c.ports, got, c.want)
		}
	}
}

// fakeCheckpointStore is an in-memory checkpoint.Store for tests that don't
// need to exercise FileStore's or RedisStore's own persistence.
type fakeCheckpointStore struct {
	mu sync.Mutex
	m  map[string]checkpoint.Checkpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{m: make(map[string]checkpoint.Checkpoint)}
}

func (s *fakeCheckpointStore) Save(cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[cp.ScanID] = cp
	return nil
}

func (s *fakeCheckpointStore) Load(scanID string) (checkpoint.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.m[scanID]
	return cp, ok, nil
}

func TestSchedulerSavesCheckpointOnCompletion(t *testing.T) {
	tracker := NewProgressTracker()
	agg := NewAggregator(1024)
	sched := NewScheduler(nil, tracker, agg, fakeProber{}, 8, zerolog.Nop())

	store := newFakeCheckpointStore()
	sched.Checkpoint = store
	sched.ScanID = "scan-1"
	sched.ConfigHash = "deadbeef"

	key, err := shuffle.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	plan := Plan{
		Targets:    []Target{testTarget("10.0.0.1"), testTarget("10.0.0.2")},
		Ports:      NewPortSet([]uint32{80, 443}),
		Kind:       KindConnect,
		ShuffleKey: key,
	}

	sched.Run(context.Background(), plan)

	cp, ok, err := store.Load("scan-1")
	if err != nil || !ok {
		t.Fatalf("Load = (_, %v, %v), want a saved checkpoint", ok, err)
	}
	if cp.LastEmitted != plan.TotalWork()-1 {
		t.Fatalf("LastEmitted = %d, want %d", cp.LastEmitted, plan.TotalWork()-1)
	}
	if cp.ShuffleKey != key.String() {
		t.Fatalf("ShuffleKey = %q, want %q", cp.ShuffleKey, key.String())
	}
	if cp.ConfigHash != "deadbeef" {
		t.Fatalf("ConfigHash = %q, want deadbeef", cp.ConfigHash)
	}
}

func TestSchedulerResumesFromStartIndex(t *testing.T) {
	tracker := NewProgressTracker()
	agg := NewAggregator(1024)
	sched := NewScheduler(nil, tracker, agg, fakeProber{}, 8, zerolog.Nop())

	key, err := shuffle.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	plan := Plan{
		Targets:    []Target{testTarget("10.0.0.1"), testTarget("10.0.0.2")},
		Ports:      NewPortSet([]uint32{80, 443}),
		Kind:       KindConnect,
		ShuffleKey: key,
		StartIndex: 2,
	}

	results := sched.Run(context.Background(), plan)
	if len(results) != 2 {
		t.Fatalf("expected 2 results resuming from index 2 of 4, got %d", len(results))
	}
}

func TestSchedulerEnrichesOpenResultsViaDetector(t *testing.T) {
	tracker := NewProgressTracker()
	agg := NewAggregator(1024)
	sched := NewScheduler(nil, tracker, agg, fakeProber{}, 8, zerolog.Nop())
	sched.Detector = fakeDetector{}

	plan := Plan{
		Targets: []Target{testTarget("10.0.0.1")},
		Ports:   NewPortSet([]uint32{80}),
		Kind:    KindConnect,
	}

	results := sched.Run(context.Background(), plan)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Service != "tagged" {
		t.Fatalf("Service = %q, want tagged (enrichment not wired)", results[0].Service)
	}
}

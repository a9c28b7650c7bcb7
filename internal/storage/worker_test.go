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

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"prortip/internal/scan"
)

// countingBackend records every committed batch; safe for concurrent use.
type countingBackend struct {
	mu      sync.Mutex
	batches [][]ResultEntry
}

func (c *countingBackend) CommitBatch(ctx context.Context, entries []ResultEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]ResultEntry, len(entries))
	copy(cp, entries)
	c.batches = append(c.batches, cp)
	return nil
}
func (c *countingBackend) GetResults(ctx context.Context) ([]scan.ScanResult, error) { return nil, nil }
func (c *countingBackend) Close() error                                             { return nil }

func (c *countingBackend) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func (c *countingBackend) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// errBackend always fails, exercising the worker's error-logging path
// without crashing the loop, the same shape as the teacher's errPersister.
type errBackend struct{}

func (errBackend) CommitBatch(ctx context.Context, entries []ResultEntry) error {
	return context.DeadlineExceeded
}
func (errBackend) GetResults(ctx context.Context) ([]scan.ScanResult, error) { return nil, nil }
func (errBackend) Close() error                                             { return nil }

func TestWorkerFlushesOnBatchSizeReached(t *testing.T) {
	b := &countingBackend{}
	w := NewWorker(b, 4, time.Hour, zerolog.Nop()) // long timeout: only size-based flush should fire
	w.Start(context.Background())

	for i := 0; i < 4; i++ {
		w.Submit(scan.ScanResult{Port: uint32(i)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.total() == 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if b.total() != 4 {
		t.Fatalf("expected 4 committed results, got %d", b.total())
	}
	w.Close()
	<-w.Done()
}

func TestWorkerFlushesOnTimeout(t *testing.T) {
	b := &countingBackend{}
	w := NewWorker(b, 100, 30*time.Millisecond, zerolog.Nop()) // large batch size: only timeout flush should fire
	w.Start(context.Background())

	w.Submit(scan.ScanResult{Port: 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.total() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if b.total() != 1 {
		t.Fatalf("expected timeout-triggered flush of 1 result, got %d", b.total())
	}
	w.Close()
	<-w.Done()
}

func TestWorkerClosedChannelTriggersFinalFlushAndDone(t *testing.T) {
	b := &countingBackend{}
	w := NewWorker(b, 1000, time.Hour, zerolog.Nop()) // nothing else would flush this
	w.Start(context.Background())

	w.Submit(scan.ScanResult{Port: 1})
	w.Submit(scan.ScanResult{Port: 2})
	w.Close()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not signal completion after channel close")
	}

	if b.total() != 2 {
		t.Fatalf("expected final flush of 2 results, got %d", b.total())
	}
}

func TestWorkerSurvivesBackendErrors(t *testing.T) {
	w := NewWorker(errBackend{}, 1, 20*time.Millisecond, zerolog.Nop())
	w.Start(context.Background())
	w.Submit(scan.ScanResult{Port: 1})
	w.Close()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker should exit cleanly even when the backend always errors")
	}
}

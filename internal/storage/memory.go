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

	"prortip/internal/scan"
)

// MemoryBackend keeps results in a mutex-guarded slice with a set of seen
// commit IDs for idempotency, mirroring the teacher's in-memory Store
// except there's no per-key VSA: a scan's results are append-only, not a
// counter that needs reconciliation.
type MemoryBackend struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	results []scan.ScanResult
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{seen: make(map[string]struct{})}
}

func (m *MemoryBackend) CommitBatch(ctx context.Context, entries []ResultEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.seen[e.CommitID]; ok {
			continue
		}
		m.seen[e.CommitID] = struct{}{}
		m.results = append(m.results, e.Result)
	}
	return nil
}

func (m *MemoryBackend) GetResults(ctx context.Context) ([]scan.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scan.ScanResult, len(m.results))
	copy(out, m.results)
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }

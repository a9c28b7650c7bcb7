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
	"testing"

	"prortip/internal/scan"
)

func TestMemoryBackendDedupsByCommitID(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	entries := []ResultEntry{
		{CommitID: "a", Result: scan.ScanResult{Port: 1}},
		{CommitID: "a", Result: scan.ScanResult{Port: 1}}, // replayed commit
		{CommitID: "b", Result: scan.ScanResult{Port: 2}},
	}
	if err := m.CommitBatch(ctx, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := m.GetResults(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 deduped results, got %d", len(results))
	}
}

func TestBuildBackendDefaultsToMemory(t *testing.T) {
	b, err := BuildBackend(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.(*MemoryBackend); !ok {
		t.Fatalf("expected default backend to be MemoryBackend, got %T", b)
	}
}

func TestBuildBackendRejectsUnknownAdapter(t *testing.T) {
	if _, err := BuildBackend(Options{Adapter: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown adapter")
	}
}

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

package checkpoint

import (
	"path/filepath"
	"testing"
)

func TestFileStoreSaveAndLoadLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.jsonl")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	if err := s.Save(Checkpoint{ScanID: "abc", LastEmitted: 10}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(Checkpoint{ScanID: "abc", LastEmitted: 20}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(Checkpoint{ScanID: "other", LastEmitted: 999}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, ok, err := s.Load("abc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected checkpoint to be found")
	}
	if cp.LastEmitted != 20 {
		t.Fatalf("expected latest checkpoint (LastEmitted=20), got %d", cp.LastEmitted)
	}
}

func TestFileStoreLoadMissingScanID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.jsonl")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	_, ok, err := s.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("expected no checkpoint for unknown scan ID")
	}
}

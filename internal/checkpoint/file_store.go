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
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// FileStore is a buffered, append-only JSONL checkpoint log: every Save
// appends a new line rather than rewriting the file, and Load replays the
// log to find the most recent entry for a scan ID. This is the same
// buffered-writer shape as a JSONL event sink, except that Save flushes on
// every call, and it is keyed by scan ID with "last write wins" instead of
// being pure append-only output.
type FileStore struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	lastFlush time.Time
}

// NewFileStore opens (or creates) the checkpoint log at path in append mode.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileStore{f: f, w: bufio.NewWriterSize(f, 1<<16), lastFlush: time.Now()}, nil
}

// Save appends a checkpoint record and flushes immediately: checkpoints are
// infrequent relative to probes, so losing buffering in exchange for a
// durable write-per-save is the right tradeoff here.
func (s *FileStore) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	if err := enc.Encode(&cp); err != nil {
		return err
	}
	return s.w.Flush()
}

// Load replays the log and returns the last-written checkpoint for scanID.
func (s *FileStore) Load(scanID string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return Checkpoint{}, false, err
	}
	if _, err := s.f.Seek(0, 0); err != nil {
		return Checkpoint{}, false, err
	}

	var found Checkpoint
	ok := false
	scanner := bufio.NewScanner(s.f)
	buf := make([]byte, 0, 1<<16)
	scanner.Buffer(buf, 1<<24)
	for scanner.Scan() {
		var cp Checkpoint
		if err := json.Unmarshal(scanner.Bytes(), &cp); err != nil {
			continue
		}
		if cp.ScanID == scanID {
			found = cp
			ok = true
		}
	}
	if _, err := s.f.Seek(0, 2); err != nil {
		return Checkpoint{}, false, err
	}
	return found, ok, scanner.Err()
}

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

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

// Package checkpoint persists the resumable state of a stateless scan: the
// Feistel shuffle key, the last emitted index, and a hash of the scan
// configuration the checkpoint was taken under (so a resume against a
// different target/port list is rejected rather than silently corrupted).
package checkpoint

// Checkpoint is a single point-in-time resume marker for a stateless scan.
type Checkpoint struct {
	ScanID      string
	ShuffleKey  string // hex-encoded shuffle.Key
	N           uint64 // total (target,port) index space
	LastEmitted uint64 // last index handed out, inclusive
	ConfigHash  string
	StartUnix   int64
}

// Store persists and retrieves Checkpoints by scan ID.
type Store interface {
	Save(cp Checkpoint) error
	Load(scanID string) (Checkpoint, bool, error)
}
